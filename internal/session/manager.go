// Package session owns the client's bearer token and current user.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/geoclip/geoclip/internal/apiclient"
	"github.com/geoclip/geoclip/internal/keystore"
	"github.com/geoclip/geoclip/internal/logging"
	"github.com/geoclip/geoclip/internal/models"
)

// State is the authentication state of the process.
type State int

const (
	Resolving State = iota
	Unauthenticated
	Authenticated
)

func (s State) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrResolving is returned when an operation needs Bootstrap to finish first.
	ErrResolving = errors.New("session is still resolving")
	// ErrAlreadyAuthenticated is returned by Login and Register while signed in.
	ErrAlreadyAuthenticated = errors.New("already signed in; log out first")
	// ErrNotAuthenticated is returned by operations that need a signed-in user.
	ErrNotAuthenticated = errors.New("not signed in")
)

// API is the subset of the backend the manager talks to.
type API interface {
	Login(ctx context.Context, email, password string) (models.AccessToken, error)
	Register(ctx context.Context, reg models.Registration) (models.AccessToken, error)
	Me(ctx context.Context, token string) (models.Profile, error)
	Logout(ctx context.Context, token string) error
}

// Snapshot is a copy of the session at one instant. Token and User are either
// both set or both empty.
type Snapshot struct {
	State State
	Token string
	User  *models.Profile
}

// Authenticated reports whether the snapshot carries a validated user.
func (s Snapshot) Authenticated() bool {
	return s.State == Authenticated
}

// Manager is the single owner of the persisted token. Create one per process
// and hand it to whatever needs the session.
type Manager struct {
	api    API
	store  keystore.Store
	logger *slog.Logger

	// ops serialises state-changing operations so their network calls never interleave.
	ops sync.Mutex

	mu        sync.RWMutex
	state     State
	token     string
	user      *models.Profile
	observers []func(Snapshot)

	resolved     chan struct{}
	resolvedOnce sync.Once
}

// NewManager returns a manager in the Resolving state.
func NewManager(api API, store keystore.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		api:      api,
		store:    store,
		logger:   logger,
		state:    Resolving,
		resolved: make(chan struct{}),
	}
}

// Snapshot returns the current session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{State: m.state, Token: m.token}
	if m.user != nil {
		user := *m.user
		snap.User = &user
	}
	return snap
}

// OnChange registers fn to receive every state change.
func (m *Manager) OnChange(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Wait blocks until Bootstrap has settled.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-m.resolved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bootstrap restores a persisted token and validates it against the backend.
// It always leaves the manager resolved. A rejected token is removed from the
// keystore; a network failure keeps it for the next run.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	if m.Snapshot().State != Resolving {
		return nil
	}

	token, ok, err := m.store.Get(ctx, keystore.TokenKey)
	if err != nil {
		m.commit(Unauthenticated, "", nil)
		return fmt.Errorf("read persisted token: %w", err)
	}
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		m.commit(Unauthenticated, "", nil)
		return nil
	}

	profile, err := m.api.Me(ctx, token)
	if err != nil {
		if tokenRejected(err) {
			m.logger.Info("persisted token rejected", slog.Any("error", err))
			m.invalidateLocked(ctx)
			return nil
		}
		m.commit(Unauthenticated, "", nil)
		return fmt.Errorf("restore session: %w", err)
	}

	m.commit(Authenticated, token, &profile)
	return nil
}

// Login signs in. On failure the previous session is left as it was.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	return m.signIn(ctx, func() (models.AccessToken, error) {
		return m.api.Login(ctx, email, password)
	})
}

// Register creates an account and signs in. phone may be nil.
func (m *Manager) Register(ctx context.Context, email, password string, phone *string) error {
	return m.signIn(ctx, func() (models.AccessToken, error) {
		return m.api.Register(ctx, models.Registration{Email: email, Password: password, Phone: phone})
	})
}

func (m *Manager) signIn(ctx context.Context, issue func() (models.AccessToken, error)) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	switch m.Snapshot().State {
	case Resolving:
		return ErrResolving
	case Authenticated:
		return ErrAlreadyAuthenticated
	}

	token, err := issue()
	if err != nil {
		return err
	}
	if token.AccessToken == "" {
		return &apiclient.AuthenticationError{Message: "backend returned an empty access token"}
	}

	profile, err := m.api.Me(ctx, token.AccessToken)
	if err != nil {
		return err
	}

	if err := m.store.Set(ctx, keystore.TokenKey, token.AccessToken); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}

	m.commit(Authenticated, token.AccessToken, &profile)
	return nil
}

// Refresh re-fetches the current user. A rejected token invalidates the session.
func (m *Manager) Refresh(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	snap := m.Snapshot()
	if snap.State != Authenticated {
		return ErrNotAuthenticated
	}

	profile, err := m.api.Me(ctx, snap.Token)
	if err != nil {
		if tokenRejected(err) {
			m.invalidateLocked(ctx)
		}
		return err
	}

	m.commit(Authenticated, snap.Token, &profile)
	return nil
}

// Logout clears the session locally and asks the backend to revoke the token.
// It never fails; persistence and network errors are only logged.
func (m *Manager) Logout(ctx context.Context) {
	m.ops.Lock()
	defer m.ops.Unlock()

	token := m.Snapshot().Token
	m.clearLocked(ctx)

	if token == "" {
		return
	}
	if err := m.api.Logout(ctx, token); err != nil {
		m.logger.Debug("server logout failed", slog.Any("error", err))
	}
}

// InvalidateToken handles a token the backend rejected mid-session. It is the
// Authenticated to Unauthenticated transition without a server round trip.
func (m *Manager) InvalidateToken(ctx context.Context) {
	m.ops.Lock()
	defer m.ops.Unlock()
	m.invalidateLocked(ctx)
}

// HandleError invalidates the session when err is an authentication failure
// and reports whether it did.
func (m *Manager) HandleError(ctx context.Context, err error) bool {
	var authErr *apiclient.AuthenticationError
	if !errors.As(err, &authErr) {
		return false
	}
	m.InvalidateToken(ctx)
	return true
}

func (m *Manager) invalidateLocked(ctx context.Context) {
	m.logger.Info("session invalidated")
	m.clearLocked(ctx)
}

func (m *Manager) clearLocked(ctx context.Context) {
	if err := m.store.Delete(ctx, keystore.TokenKey); err != nil {
		m.logger.Warn("remove persisted token", slog.Any("error", err))
	}
	m.commit(Unauthenticated, "", nil)
}

func (m *Manager) commit(state State, token string, user *models.Profile) {
	if token == "" || user == nil {
		token, user = "", nil
		if state == Authenticated {
			state = Unauthenticated
		}
	}

	m.mu.Lock()
	m.state = state
	m.token = token
	m.user = user
	snap := m.snapshotLocked()
	observers := append([]func(Snapshot){}, m.observers...)
	m.mu.Unlock()

	if state != Resolving {
		m.resolvedOnce.Do(func() { close(m.resolved) })
	}
	for _, fn := range observers {
		fn(snap)
	}
}

// tokenRejected treats any HTTP answer to /api/me other than 2xx as a dead token.
func tokenRejected(err error) bool {
	var authErr *apiclient.AuthenticationError
	var apiErr *apiclient.APIError
	return errors.As(err, &authErr) || errors.As(err, &apiErr)
}
