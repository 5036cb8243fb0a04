package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/geoclip/geoclip/internal/capture"
)

const defaultSoundDir = "/dev/snd"

// Probe answers permission checks from device node access. Linux has no
// runtime prompt, so Request re-checks.
type Probe struct {
	VideoDevice string
	AudioDevice string
	SoundDir    string

	// LocationEnabled grants location; LocationDenied refuses it. Neither
	// leaves it undetermined.
	LocationEnabled bool
	LocationDenied  bool

	access func(path string, mode uint32) error
}

func (p *Probe) Status(_ context.Context, perm capture.Permission) (capture.PermissionStatus, error) {
	switch perm {
	case capture.Camera:
		return p.node(p.VideoDevice), nil
	case capture.Microphone:
		return p.microphone(), nil
	case capture.Location:
		switch {
		case p.LocationDenied:
			return capture.Denied, nil
		case p.LocationEnabled:
			return capture.Granted, nil
		default:
			return capture.Undetermined, nil
		}
	default:
		return capture.Undetermined, errors.New("unknown permission " + string(perm))
	}
}

func (p *Probe) Request(ctx context.Context, perm capture.Permission) (capture.PermissionStatus, error) {
	return p.Status(ctx, perm)
}

func (p *Probe) node(path string) capture.PermissionStatus {
	path = strings.TrimSpace(path)
	if path == "" {
		return capture.Denied
	}
	if _, err := os.Stat(path); err != nil {
		return capture.Denied
	}
	access := p.access
	if access == nil {
		access = unix.Access
	}
	if err := access(path, unix.R_OK|unix.W_OK); err != nil {
		return capture.Denied
	}
	return capture.Granted
}

// microphone checks an explicit device node, or any ALSA capture PCM.
func (p *Probe) microphone() capture.PermissionStatus {
	if strings.HasPrefix(p.AudioDevice, "/dev/") {
		return p.node(p.AudioDevice)
	}

	dir := p.SoundDir
	if dir == "" {
		dir = defaultSoundDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return capture.Denied
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "pcmC") && strings.HasSuffix(name, "c") {
			if p.node(filepath.Join(dir, name)) == capture.Granted {
				return capture.Granted
			}
		}
	}
	return capture.Denied
}

var _ capture.Permissions = (*Probe)(nil)
