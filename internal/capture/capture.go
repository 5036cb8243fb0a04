// Package capture turns one recording gesture into one uploaded clip.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/geoclip/geoclip/internal/models"
	"github.com/geoclip/geoclip/internal/session"
)

// State is the pipeline's position in a capture cycle.
type State int

const (
	Idle State = iota
	Recording
	Stopped
	Resolving
	Encoding
	Uploading
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Stopped:
		return "stopped"
	case Resolving:
		return "resolving"
	case Encoding:
		return "encoding"
	case Uploading:
		return "uploading"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Permission names a platform capability the pipeline needs.
type Permission string

const (
	Camera     Permission = "camera"
	Microphone Permission = "microphone"
	Location   Permission = "location"
)

// PermissionStatus is the platform's answer for one permission.
type PermissionStatus int

const (
	Undetermined PermissionStatus = iota
	Granted
	Denied
)

func (s PermissionStatus) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "undetermined"
	}
}

var (
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	ErrUploadInFlight   = errors.New("the previous clip is still uploading")
	ErrRecorderNotReady = errors.New("capture device is not ready")
	ErrNotRecording     = errors.New("no recording in progress")
)

// PermissionDeniedError blocks recording when camera or microphone is missing.
type PermissionDeniedError struct {
	Permission Permission
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("%s permission denied", e.Permission)
}

// EncodingError aborts a cycle before any network call.
type EncodingError struct {
	Path string
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode clip %s: %v", e.Path, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// Permissions checks and requests platform permissions.
type Permissions interface {
	Status(ctx context.Context, p Permission) (PermissionStatus, error)
	Request(ctx context.Context, p Permission) (PermissionStatus, error)
}

// Clip is a finished recording on disk.
type Clip struct {
	Path string
}

// Recorder opens capture sessions on the camera.
type Recorder interface {
	Ready(ctx context.Context) bool
	Start(ctx context.Context) (Take, error)
}

// Take is one in-flight capture. Wait returns once the capture ends,
// whether through Stop or on its own.
type Take interface {
	Stop(ctx context.Context) error
	Wait() (Clip, error)
}

// LocationSource reports the device position.
type LocationSource interface {
	Current(ctx context.Context) (lat, lng float64, err error)
}

// DeviceInfo describes the hardware for the identity fallback.
type DeviceInfo interface {
	Describe(ctx context.Context) (model, brand string, err error)
}

// Uploader submits a capture result.
type Uploader interface {
	Upload(ctx context.Context, token string, req models.UploadRequest, idempotencyKey string) (models.UploadResponse, error)
}

// Session supplies the bearer token and reacts to rejected tokens.
type Session interface {
	Snapshot() session.Snapshot
	HandleError(ctx context.Context, err error) bool
}

// Notifier shows a failure to the user.
type Notifier interface {
	Notify(err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(err error)

func (f NotifierFunc) Notify(err error) { f(err) }

// Grants is the outcome of AcquirePermissions.
type Grants struct {
	Camera     bool
	Microphone bool
	Location   PermissionStatus
}

// Outcome is the result of one capture cycle.
type Outcome struct {
	VideoID string
	Err     error
}
