package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/geoclip/geoclip/internal/auth"
	"github.com/geoclip/geoclip/internal/events"
	"github.com/geoclip/geoclip/internal/logging"
	"github.com/geoclip/geoclip/internal/metrics"
	"github.com/geoclip/geoclip/internal/models"
	"github.com/geoclip/geoclip/internal/repositories"
	"github.com/geoclip/geoclip/internal/storage"
	"github.com/geoclip/geoclip/internal/validate"
	"github.com/geoclip/geoclip/internal/videos"
)

type inMemoryUserStore struct {
	mu    sync.Mutex
	users map[string]models.User
}

func newInMemoryUserStore() *inMemoryUserStore {
	return &inMemoryUserStore{users: make(map[string]models.User)}
}

func (s *inMemoryUserStore) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Email]; exists {
		return repositories.ErrConflict
	}
	s.users[user.Email] = user
	return nil
}

func (s *inMemoryUserStore) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[email]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return user, nil
}

func (s *inMemoryUserStore) FindByID(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.ID == id {
			return user, nil
		}
	}
	return models.User{}, repositories.ErrNotFound
}

type inMemoryVideoStore struct {
	mu     sync.Mutex
	videos map[string]models.Video
}

func newInMemoryVideoStore() *inMemoryVideoStore {
	return &inMemoryVideoStore{videos: make(map[string]models.Video)}
}

func (s *inMemoryVideoStore) Create(_ context.Context, video models.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.videos {
		if video.IdempotencyKey != "" && existing.OwnerID == video.OwnerID && existing.IdempotencyKey == video.IdempotencyKey {
			return repositories.ErrConflict
		}
	}
	s.videos[video.ID] = video
	return nil
}

func (s *inMemoryVideoStore) ListByOwner(_ context.Context, ownerID string, limit int) ([]models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Video
	for _, video := range s.videos {
		if video.OwnerID == ownerID {
			out = append(out, video)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *inMemoryVideoStore) FindByID(_ context.Context, ownerID, id string) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	video, ok := s.videos[id]
	if !ok || video.OwnerID != ownerID {
		return models.Video{}, repositories.ErrNotFound
	}
	return video, nil
}

func (s *inMemoryVideoStore) FindByIdempotencyKey(_ context.Context, ownerID, key string) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, video := range s.videos {
		if key != "" && video.OwnerID == ownerID && video.IdempotencyKey == key {
			return video, nil
		}
	}
	return models.Video{}, repositories.ErrNotFound
}

func (s *inMemoryVideoStore) Delete(ctx context.Context, ownerID, id string) (models.Video, error) {
	video, err := s.FindByID(ctx, ownerID, id)
	if err != nil {
		return models.Video{}, err
	}
	s.mu.Lock()
	delete(s.videos, id)
	s.mu.Unlock()
	return video, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType string, _ events.VideoEvent) error {
	p.mu.Lock()
	p.events = append(p.events, eventType)
	p.mu.Unlock()
	return nil
}

type denyAll struct{}

func (denyAll) Admit(string) (bool, time.Duration) { return false, 1500 * time.Millisecond }

type testServer struct {
	router    http.Handler
	users     *inMemoryUserStore
	videos    *inMemoryVideoStore
	assets    *storage.MemoryStorage
	events    *recordingPublisher
	sessions  *auth.InMemorySessionStore
	tokens    *auth.Manager
	clock     time.Time
	clockStep time.Duration
}

func newTestServer(t *testing.T, mutate ...func(*Dependencies)) *testServer {
	t.Helper()

	ts := &testServer{
		users:     newInMemoryUserStore(),
		videos:    newInMemoryVideoStore(),
		assets:    storage.NewMemoryStorage(),
		events:    &recordingPublisher{},
		sessions:  auth.NewInMemorySessionStore(),
		clock:     time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC),
		clockStep: time.Minute,
	}
	ts.tokens = auth.NewManager([]byte("handler-test-secret"), 30*time.Minute, ts.sessions)

	var mu sync.Mutex
	deps := Dependencies{
		Users:     ts.users,
		Tokens:    ts.tokens,
		Videos:    ts.videos,
		Assets:    ts.assets,
		Events:    ts.events,
		Validator: validate.MustNew(),
		Policy:    videos.NewPolicy(1<<20, nil),
		Metrics:   metrics.New(),
		NowFunc: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			ts.clock = ts.clock.Add(ts.clockStep)
			return ts.clock
		},
	}
	for _, m := range mutate {
		m(&deps)
	}
	ts.router = NewRouter(deps)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) seedUser(t *testing.T, email, password string, phone *string) models.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := models.User{ID: "user-" + email, Email: email, Phone: phone, Password: string(hashed), CreatedAt: ts.clock}
	if err := ts.users.Create(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func (ts *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/login", "", models.Credentials{Email: email, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	var token models.AccessToken
	decode(t, rec, &token)
	return token.AccessToken
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func detailOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	decode(t, rec, &body)
	return body.Detail
}

func TestRegisterIssuesTokenAndHashesPassword(t *testing.T) {
	ts := newTestServer(t)

	phone := "+15550100"
	rec := ts.do(t, http.MethodPost, "/api/register", "", models.Registration{Email: "New@Example.com", Password: "supersafe", Phone: &phone})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var token models.AccessToken
	decode(t, rec, &token)
	if token.AccessToken == "" || token.TokenType != "bearer" {
		t.Fatalf("unexpected token %+v", token)
	}

	stored, err := ts.users.FindByEmail(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("expected normalised email to be stored: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("supersafe")) != nil {
		t.Fatal("stored password is not a bcrypt hash of the input")
	}
	if stored.Phone == nil || *stored.Phone != phone {
		t.Fatalf("expected phone stored verbatim, got %v", stored.Phone)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "taken@example.com", "password123", nil)

	rec := ts.do(t, http.MethodPost, "/api/register", "", models.Registration{Email: "taken@example.com", Password: "password123"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := detailOf(t, rec); got != "Email already registered" {
		t.Fatalf("unexpected detail %q", got)
	}
}

func TestRegisterValidatesBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/register", "", models.Registration{Email: "short@example.com", Password: "short"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if got := detailOf(t, rec); !strings.Contains(got, "password") {
		t.Fatalf("expected password violation in detail, got %q", got)
	}
}

func TestLoginThenMeWithBearerToken(t *testing.T) {
	ts := newTestServer(t)
	phone := "+1555"
	ts.seedUser(t, "a@b.com", "x", &phone)

	token := ts.login(t, "a@b.com", "x")

	rec := ts.do(t, http.MethodGet, "/api/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var profile models.Profile
	decode(t, rec, &profile)
	if profile.Email != "a@b.com" || profile.PhoneNumber() != phone {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "a@b.com", "correct-horse", nil)

	for _, creds := range []models.Credentials{
		{Email: "a@b.com", Password: "wrong"},
		{Email: "nobody@b.com", Password: "correct-horse"},
	} {
		rec := ts.do(t, http.MethodPost, "/api/login", "", creds)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d", creds.Email, rec.Code)
		}
		if got := detailOf(t, rec); got != "Incorrect email or password" {
			t.Fatalf("unexpected detail %q", got)
		}
	}
}

func TestLoginComparesHashForUnknownEmail(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "a@b.com", "correct-horse", nil)

	var hashes [][]byte
	original := comparePassword
	comparePassword = func(hash, password []byte) error {
		hashes = append(hashes, hash)
		return original(hash, password)
	}
	t.Cleanup(func() { comparePassword = original })

	for _, email := range []string{"a@b.com", "nobody@b.com"} {
		rec := ts.do(t, http.MethodPost, "/api/login", "", models.Credentials{Email: email, Password: "wrong-password"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d", email, rec.Code)
		}
	}

	if len(hashes) != 2 {
		t.Fatalf("expected one bcrypt comparison per login, got %d", len(hashes))
	}
	if !bytes.Equal(hashes[1], absentUserHash()) {
		t.Fatal("unknown email should be compared against the placeholder hash")
	}
}

type failingIssuer struct {
	*auth.Manager
}

func (failingIssuer) Issue(context.Context, string) (models.AccessToken, error) {
	return models.AccessToken{}, errors.New("signing key unavailable")
}

func TestIssueFailureLogsUserID(t *testing.T) {
	ts := newTestServer(t, func(d *Dependencies) {
		d.Tokens = failingIssuer{Manager: d.Tokens.(*auth.Manager)}
	})
	user := ts.seedUser(t, "a@b.com", "correct-horse", nil)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	raw, _ := json.Marshal(models.Credentials{Email: "a@b.com", Password: "correct-horse"})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(raw))
	req = req.WithContext(logging.WithLogger(req.Context(), logger))
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(logs.String(), `"user_id":"`+user.ID+`"`) {
		t.Fatalf("expected user_id attribute in log, got %s", logs.String())
	}
}

func TestLoginRateLimited(t *testing.T) {
	ts := newTestServer(t, func(d *Dependencies) { d.Limiter = denyAll{} })

	rec := ts.do(t, http.MethodPost, "/api/login", "", models.Credentials{Email: "a@b.com", Password: "x"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After rounded up to 2, got %q", got)
	}
}

func TestProtectedRoutesRequireValidToken(t *testing.T) {
	ts := newTestServer(t)

	for _, token := range []string{"", "garbage"} {
		rec := ts.do(t, http.MethodGet, "/api/videos", token, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for token %q, got %d", token, rec.Code)
		}
		if rec.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Fatal("expected WWW-Authenticate challenge")
		}
		if got := detailOf(t, rec); got != "Could not validate credentials" {
			t.Fatalf("unexpected detail %q", got)
		}
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "a@b.com", "password123", nil)
	token := ts.login(t, "a@b.com", "password123")

	if rec := ts.do(t, http.MethodPost, "/api/logout", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected logout 200, got %d", rec.Code)
	}
	if ts.sessions.Len() != 0 {
		t.Fatalf("expected session revoked, %d remain", ts.sessions.Len())
	}
	if rec := ts.do(t, http.MethodGet, "/api/me", token, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", rec.Code)
	}
}

func uploadBody(data []byte, lat, lng *float64, phone string) models.UploadRequest {
	return models.UploadRequest{
		VideoData:   videos.EncodeDataURI("video/mp4", data),
		LocationLat: lat,
		LocationLng: lng,
		PhoneNumber: &phone,
	}
}

func TestUploadListGetDelete(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "a@b.com", "password123", nil)
	token := ts.login(t, "a@b.com", "password123")

	lat, lng := 48.8566, 2.3522
	first := ts.do(t, http.MethodPost, "/api/videos/upload", token, uploadBody([]byte("first clip"), &lat, &lng, "Device: Pixel 8 (Google)"))
	if first.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", first.Code, first.Body.String())
	}
	var firstResp models.UploadResponse
	decode(t, first, &firstResp)
	if firstResp.Message != "Video uploaded successfully" || firstResp.VideoID == "" {
		t.Fatalf("unexpected upload response %+v", firstResp)
	}

	second := ts.do(t, http.MethodPost, "/api/videos/upload", token, uploadBody([]byte("second clip"), nil, nil, "Unknown device"))
	var secondResp models.UploadResponse
	decode(t, second, &secondResp)

	list := ts.do(t, http.MethodGet, "/api/videos", token, nil)
	var summaries []models.VideoSummary
	decode(t, list, &summaries)
	if len(summaries) != 2 || summaries[0].ID != secondResp.VideoID || summaries[1].ID != firstResp.VideoID {
		t.Fatalf("expected newest first, got %+v", summaries)
	}
	if summaries[0].HasLocation() || !summaries[1].HasLocation() {
		t.Fatalf("unexpected coordinates %+v", summaries)
	}

	detail := ts.do(t, http.MethodGet, "/api/videos/"+firstResp.VideoID, token, nil)
	if detail.Code != http.StatusOK {
		t.Fatalf("get: %d %s", detail.Code, detail.Body.String())
	}
	var got models.VideoDetail
	decode(t, detail, &got)
	clip, err := videos.ParseDataURI(got.VideoData)
	if err != nil || string(clip.Data) != "first clip" || clip.MediaType != "video/mp4" {
		t.Fatalf("unexpected video data %q (%v)", got.VideoData, err)
	}
	if got.PhoneNumber == nil || *got.PhoneNumber != "Device: Pixel 8 (Google)" {
		t.Fatalf("unexpected phone number %v", got.PhoneNumber)
	}

	del := ts.do(t, http.MethodDelete, "/api/videos/"+firstResp.VideoID, token, nil)
	if del.Code != http.StatusOK {
		t.Fatalf("delete: %d", del.Code)
	}
	if ts.assets.Len() != 1 {
		t.Fatalf("expected clip bytes removed, %d objects remain", ts.assets.Len())
	}
	if rec := ts.do(t, http.MethodGet, "/api/videos/"+firstResp.VideoID, token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	} else if got := detailOf(t, rec); got != "Video not found" {
		t.Fatalf("unexpected detail %q", got)
	}

	want := []string{events.VideoUploaded, events.VideoUploaded, events.VideoDeleted}
	if strings.Join(ts.events.events, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected events %v", ts.events.events)
	}
}

func TestVideosAreScopedToOwner(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "owner@b.com", "password123", nil)
	ts.seedUser(t, "other@b.com", "password123", nil)
	owner := ts.login(t, "owner@b.com", "password123")
	other := ts.login(t, "other@b.com", "password123")

	rec := ts.do(t, http.MethodPost, "/api/videos/upload", owner, uploadBody([]byte("clip"), nil, nil, "Unknown device"))
	var resp models.UploadResponse
	decode(t, rec, &resp)

	if rec := ts.do(t, http.MethodGet, "/api/videos/"+resp.VideoID, other, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another owner's video, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodDelete, "/api/videos/"+resp.VideoID, other, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting another owner's video, got %d", rec.Code)
	}

	list := ts.do(t, http.MethodGet, "/api/videos", other, nil)
	var summaries []models.VideoSummary
	decode(t, list, &summaries)
	if len(summaries) != 0 {
		t.Fatalf("expected empty list, got %+v", summaries)
	}
}

func TestUploadIdempotencyKeyReplaysOriginal(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "a@b.com", "password123", nil)
	token := ts.login(t, "a@b.com", "password123")

	body := uploadBody([]byte("clip"), nil, nil, "Unknown device")
	first := ts.do(t, http.MethodPost, "/api/videos/upload", token, body, IdempotencyKeyHeader, "key-1")
	second := ts.do(t, http.MethodPost, "/api/videos/upload", token, body, IdempotencyKeyHeader, "key-1")

	var a, b models.UploadResponse
	decode(t, first, &a)
	decode(t, second, &b)
	if a.VideoID == "" || a.VideoID != b.VideoID {
		t.Fatalf("expected replayed id, got %q and %q", a.VideoID, b.VideoID)
	}
	if ts.assets.Len() != 1 || len(ts.events.events) != 1 {
		t.Fatalf("expected one stored clip and one event, got %d and %d", ts.assets.Len(), len(ts.events.events))
	}
}

func TestUploadRejections(t *testing.T) {
	ts := newTestServer(t, func(d *Dependencies) { d.Policy = videos.NewPolicy(16, nil) })
	ts.seedUser(t, "a@b.com", "password123", nil)
	token := ts.login(t, "a@b.com", "password123")

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "not a data uri", body: `{"video_data":"plain"}`, status: http.StatusUnprocessableEntity},
		{name: "missing video", body: `{"location_lat":1}`, status: http.StatusUnprocessableEntity},
		{name: "wrong media type", body: models.UploadRequest{VideoData: videos.EncodeDataURI("image/png", []byte("x"))}, status: http.StatusUnsupportedMediaType},
		{name: "too large", body: models.UploadRequest{VideoData: videos.EncodeDataURI("video/mp4", bytes.Repeat([]byte("x"), 17))}, status: http.StatusRequestEntityTooLarge},
		{name: "bad base64", body: `{"video_data":"data:video/mp4;base64,@@@@"}`, status: http.StatusBadRequest},
		{name: "body over limit", body: `{"video_data":"data:video/mp4;base64,` + strings.Repeat("A", 70<<10) + `"}`, status: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/videos/upload", token, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}

	if ts.assets.Len() != 0 {
		t.Fatalf("rejected uploads must not store bytes, found %d", ts.assets.Len())
	}
}

func TestHealthAndBanner(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	if rec := ts.do(t, http.MethodPost, "/healthz", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	banner := ts.do(t, http.MethodGet, "/api/", "", nil)
	var msg messageResponse
	decode(t, banner, &msg)
	if msg.Message != "Video Recording API" {
		t.Fatalf("unexpected banner %q", msg.Message)
	}

	metricsRec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	if !strings.Contains(metricsRec.Body.String(), `geoclip_http_requests_total{method="GET",path="/api/",status="200"} 1`) {
		t.Fatalf("expected request counted by route template, got:\n%s", metricsRec.Body.String())
	}
}
