package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geoclip/geoclip/internal/logging"
	"github.com/geoclip/geoclip/internal/models"
	"github.com/geoclip/geoclip/internal/session"
)

// DefaultLocationTimeout bounds the wait for a location fix.
const DefaultLocationTimeout = 5 * time.Second

// Config wires the pipeline to its platform adapters.
type Config struct {
	Permissions Permissions
	Recorder    Recorder
	Location    LocationSource
	Device      DeviceInfo
	Session     Session
	Uploader    Uploader
	Notifier    Notifier
	Logger      *slog.Logger

	LocationTimeout time.Duration
	// Identity overrides the default profile phone, device, literal chain.
	Identity []IdentityStrategy
	// NewKey generates idempotency keys. Defaults to random UUIDs.
	NewKey func() string
}

// Pipeline runs at most one capture cycle at a time.
type Pipeline struct {
	permissions Permissions
	recorder    Recorder
	location    LocationSource
	session     Session
	uploader    Uploader
	notifier    Notifier
	logger      *slog.Logger
	identity    []IdentityStrategy
	locateWait  time.Duration
	newKey      func() string

	mu        sync.Mutex
	state     State
	grants    Grants
	recording Take
	cycle     chan struct{}
	last      Outcome
	observers []func(State)
}

// New validates cfg and returns an idle pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Permissions == nil:
		return nil, errors.New("capture: permissions adapter is required")
	case cfg.Session == nil:
		return nil, errors.New("capture: session is required")
	case cfg.Uploader == nil:
		return nil, errors.New("capture: uploader is required")
	}

	p := &Pipeline{
		permissions: cfg.Permissions,
		recorder:    cfg.Recorder,
		location:    cfg.Location,
		session:     cfg.Session,
		uploader:    cfg.Uploader,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger,
		identity:    cfg.Identity,
		locateWait:  cfg.LocationTimeout,
		newKey:      cfg.NewKey,
	}
	if p.notifier == nil {
		p.notifier = NotifierFunc(func(error) {})
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	if p.locateWait <= 0 {
		p.locateWait = DefaultLocationTimeout
	}
	if p.newKey == nil {
		p.newKey = uuid.NewString
	}
	if len(p.identity) == 0 {
		p.identity = []IdentityStrategy{ProfilePhone(cfg.Session), DeviceDescriptor(cfg.Device), Literal(UnknownDevice)}
	}
	return p, nil
}

// State reports the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Grants reports the permissions recorded by the last AcquirePermissions.
func (p *Pipeline) Grants() Grants {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grants
}

// OnStateChange registers fn to receive every transition.
func (p *Pipeline) OnStateChange(fn func(State)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}

// AcquirePermissions requests camera, microphone and location in that order,
// each only when not already granted. Errors count as not granted.
func (p *Pipeline) AcquirePermissions(ctx context.Context) Grants {
	grants := Grants{
		Camera:     p.acquire(ctx, Camera) == Granted,
		Microphone: p.acquire(ctx, Microphone) == Granted,
		Location:   p.acquire(ctx, Location),
	}

	p.mu.Lock()
	p.grants = grants
	p.mu.Unlock()

	p.logger.Debug("permissions acquired",
		slog.Bool("camera", grants.Camera),
		slog.Bool("microphone", grants.Microphone),
		slog.String("location", grants.Location.String()),
	)
	return grants
}

func (p *Pipeline) acquire(ctx context.Context, perm Permission) PermissionStatus {
	status, err := p.permissions.Status(ctx, perm)
	if err != nil {
		p.logger.Debug("permission status failed", slog.String("permission", string(perm)), slog.Any("error", err))
		status = Undetermined
	}
	if status == Granted {
		return status
	}

	status, err = p.permissions.Request(ctx, perm)
	if err != nil {
		p.logger.Debug("permission request failed", slog.String("permission", string(perm)), slog.Any("error", err))
		if perm == Location {
			return Undetermined
		}
		return Denied
	}
	return status
}

// StartRecording opens one capture. A second start while recording returns
// ErrAlreadyRecording and never opens another capture.
func (p *Pipeline) StartRecording(ctx context.Context) error {
	p.mu.Lock()
	if p.state == Recording {
		p.mu.Unlock()
		return ErrAlreadyRecording
	}
	err := p.startLocked(ctx)
	p.mu.Unlock()

	if err != nil {
		p.notifier.Notify(err)
	}
	return err
}

func (p *Pipeline) startLocked(ctx context.Context) error {
	if p.state != Idle {
		return ErrUploadInFlight
	}
	if !p.grants.Camera {
		return &PermissionDeniedError{Permission: Camera}
	}
	if !p.grants.Microphone {
		return &PermissionDeniedError{Permission: Microphone}
	}
	if !p.session.Snapshot().Authenticated() {
		return session.ErrNotAuthenticated
	}
	if p.recorder == nil || !p.recorder.Ready(ctx) {
		return ErrRecorderNotReady
	}

	rec, err := p.recorder.Start(ctx)
	if err != nil {
		return fmt.Errorf("start recording: %w", err)
	}

	p.recording = rec
	p.cycle = make(chan struct{})
	p.setStateLocked(Recording)

	go p.await(context.WithoutCancel(ctx), rec)
	return nil
}

// StopRecording ends the current capture. The rest of the cycle runs in the
// background; use Wait to block until it settles.
func (p *Pipeline) StopRecording(ctx context.Context) error {
	p.mu.Lock()
	if p.state != Recording || p.recording == nil {
		p.mu.Unlock()
		return ErrNotRecording
	}
	rec := p.recording
	p.mu.Unlock()

	return rec.Stop(ctx)
}

// Toggle starts a recording when idle and stops it when recording.
func (p *Pipeline) Toggle(ctx context.Context) error {
	if p.State() == Recording {
		return p.StopRecording(ctx)
	}
	return p.StartRecording(ctx)
}

// Wait blocks until the current cycle finishes and returns its outcome. With
// no cycle in flight it returns the previous outcome.
func (p *Pipeline) Wait(ctx context.Context) (Outcome, error) {
	p.mu.Lock()
	cycle := p.cycle
	p.mu.Unlock()

	if cycle != nil {
		select {
		case <-cycle:
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, nil
}

// UploadFile runs location, identity, encoding and upload for an existing clip.
func (p *Pipeline) UploadFile(ctx context.Context, path string) Outcome {
	p.mu.Lock()
	var err error
	switch {
	case p.state == Recording:
		err = ErrAlreadyRecording
	case p.state != Idle:
		err = ErrUploadInFlight
	case !p.session.Snapshot().Authenticated():
		err = session.ErrNotAuthenticated
	}
	if err != nil {
		p.mu.Unlock()
		p.notifier.Notify(err)
		return Outcome{Err: err}
	}
	p.cycle = make(chan struct{})
	p.setStateLocked(Resolving)
	p.mu.Unlock()

	return p.process(ctx, path)
}

func (p *Pipeline) await(ctx context.Context, rec Take) {
	clip, err := rec.Wait()

	p.mu.Lock()
	p.recording = nil
	if err != nil {
		p.mu.Unlock()
		p.finish(Outcome{Err: fmt.Errorf("recording failed: %w", err)})
		return
	}
	p.setStateLocked(Stopped)
	p.setStateLocked(Resolving)
	p.mu.Unlock()

	p.process(ctx, clip.Path)
}

// process runs the post-recording steps strictly in order: location and
// identity, then encoding, then upload.
func (p *Pipeline) process(ctx context.Context, path string) Outcome {
	lat, lng := p.locate(ctx)
	identity := ResolveIdentity(ctx, p.identity...)

	p.transition(Encoding)
	dataURI, err := EncodeFile(path)
	if err != nil {
		return p.finish(Outcome{Err: err})
	}

	p.transition(Uploading)
	snap := p.session.Snapshot()
	if !snap.Authenticated() {
		return p.finish(Outcome{Err: session.ErrNotAuthenticated})
	}

	req := models.UploadRequest{
		VideoData:   dataURI,
		LocationLat: lat,
		LocationLng: lng,
		PhoneNumber: &identity,
	}
	resp, err := p.uploader.Upload(context.WithoutCancel(ctx), snap.Token, req, p.newKey())
	if err != nil {
		p.session.HandleError(ctx, err)
		return p.finish(Outcome{Err: fmt.Errorf("upload failed: %w", err)})
	}

	p.logger.Info("clip uploaded",
		slog.String("video_id", resp.VideoID),
		slog.Bool("has_location", lat != nil),
	)
	return p.finish(Outcome{VideoID: resp.VideoID})
}

// locate returns nil coordinates unless location is granted and a fix
// arrives in time.
func (p *Pipeline) locate(ctx context.Context) (*float64, *float64) {
	if p.Grants().Location != Granted || p.location == nil {
		return nil, nil
	}

	fixCtx, cancel := context.WithTimeout(ctx, p.locateWait)
	defer cancel()

	lat, lng, err := p.location.Current(fixCtx)
	if err != nil {
		p.logger.Debug("location unavailable", slog.Any("error", err))
		return nil, nil
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		p.logger.Debug("location out of range", slog.Float64("lat", lat), slog.Float64("lng", lng))
		return nil, nil
	}
	return &lat, &lng
}

// finish re-arms Idle, records the outcome and notifies once on failure.
func (p *Pipeline) finish(outcome Outcome) Outcome {
	p.mu.Lock()
	p.last = outcome
	p.setStateLocked(Idle)
	if p.cycle != nil {
		close(p.cycle)
		p.cycle = nil
	}
	p.mu.Unlock()

	if outcome.Err != nil {
		p.logger.Warn("capture cycle failed", slog.Any("error", outcome.Err))
		p.notifier.Notify(outcome.Err)
	}
	return outcome
}

func (p *Pipeline) transition(state State) {
	p.mu.Lock()
	p.setStateLocked(state)
	p.mu.Unlock()
}

// setStateLocked must be called with mu held. Observers run synchronously and
// must not call back into the pipeline.
func (p *Pipeline) setStateLocked(state State) {
	p.state = state
	for _, fn := range p.observers {
		fn(state)
	}
}
