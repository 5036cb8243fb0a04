// Package device adapts Linux capture hardware to the capture pipeline.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/geoclip/geoclip/internal/capture"
	"github.com/geoclip/geoclip/internal/config"
)

// Process is a running capture command.
type Process interface {
	// Interrupt asks the command to finish writing and exit.
	Interrupt() error
	Kill() error
	Wait() error
}

// Launcher starts a capture command.
type Launcher func(ctx context.Context, binary string, args ...string) (Process, error)

// FFmpegRecorder records from a V4L2 camera and an ALSA input through ffmpeg.
type FFmpegRecorder struct {
	Binary      string
	VideoDevice string
	AudioDevice string
	OutputDir   string
	MaxDuration time.Duration
	Launch      Launcher
	Now         func() time.Time
}

// NewFFmpegRecorder builds a recorder from the client capture settings.
func NewFFmpegRecorder(cfg config.CaptureDevice) *FFmpegRecorder {
	binary := strings.TrimSpace(cfg.FFmpegPath)
	if binary == "" {
		binary = "ffmpeg"
	}
	outputDir := strings.TrimSpace(cfg.OutputDir)
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	return &FFmpegRecorder{
		Binary:      binary,
		VideoDevice: strings.TrimSpace(cfg.VideoDevice),
		AudioDevice: strings.TrimSpace(cfg.AudioDevice),
		OutputDir:   outputDir,
		MaxDuration: time.Duration(cfg.MaxDurationS) * time.Second,
		Launch:      execLauncher,
		Now:         time.Now,
	}
}

// Ready reports whether ffmpeg resolves and the camera node exists.
func (r *FFmpegRecorder) Ready(context.Context) bool {
	if _, err := exec.LookPath(r.Binary); err != nil {
		return false
	}
	if r.VideoDevice == "" {
		return false
	}
	_, err := os.Stat(r.VideoDevice)
	return err == nil
}

// Args returns the ffmpeg arguments for a recording written to output.
func (r *FFmpegRecorder) Args(output string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-f", "v4l2", "-i", r.VideoDevice}
	if r.AudioDevice != "" {
		args = append(args, "-f", "alsa", "-i", r.AudioDevice)
	}
	if r.MaxDuration > 0 {
		args = append(args, "-t", strconv.Itoa(int(r.MaxDuration/time.Second)))
	}
	args = append(args,
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
		output,
	)
	return args
}

// Start launches ffmpeg. The returned recording ends on Stop or when the
// maximum duration elapses.
func (r *FFmpegRecorder) Start(ctx context.Context) (capture.Take, error) {
	if err := os.MkdirAll(r.OutputDir, 0o700); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	output := filepath.Join(r.OutputDir, "geoclip-"+now().UTC().Format("20060102T150405")+".mp4")

	launch := r.Launch
	if launch == nil {
		launch = execLauncher
	}
	proc, err := launch(ctx, r.Binary, r.Args(output)...)
	if err != nil {
		return nil, fmt.Errorf("launch ffmpeg: %w", err)
	}

	rec := &ffmpegRecording{proc: proc, path: output, done: make(chan struct{})}
	go func() {
		rec.err = proc.Wait()
		close(rec.done)
	}()
	return rec, nil
}

type ffmpegRecording struct {
	proc Process
	path string

	stopping atomic.Bool
	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
	err      error
}

// Stop asks ffmpeg to finalise the file. If ctx expires first the process is killed.
// A failed interrupt usually means ffmpeg already exited; Wait judges the output.
func (r *ffmpegRecording) Stop(ctx context.Context) error {
	r.stopping.Store(true)
	r.stopOnce.Do(func() {
		r.stopErr = r.proc.Interrupt()
	})
	if r.stopErr != nil {
		_ = r.proc.Kill()
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		_ = r.proc.Kill()
		return ctx.Err()
	}
}

// Wait returns the clip once ffmpeg exits. A non-zero exit after Stop is
// accepted when the output file has content.
func (r *ffmpegRecording) Wait() (capture.Clip, error) {
	<-r.done
	info, statErr := os.Stat(r.path)
	if r.err != nil {
		if !r.stopping.Load() || statErr != nil || info.Size() == 0 {
			return capture.Clip{}, fmt.Errorf("ffmpeg: %w", r.err)
		}
		return capture.Clip{Path: r.path}, nil
	}
	if statErr != nil {
		return capture.Clip{}, fmt.Errorf("recording output: %w", statErr)
	}
	if info.Size() == 0 {
		return capture.Clip{}, errors.New("recording output is empty")
	}
	return capture.Clip{Path: r.path}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
}

func execLauncher(_ context.Context, binary string, args ...string) (Process, error) {
	cmd := exec.Command(binary, args...)
	// Own process group: a terminal Ctrl-C reaches clipctl only, which stops ffmpeg with "q".
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stdin: stdin, stderr: &stderr}, nil
}

// Interrupt sends ffmpeg's interactive quit key.
func (p *execProcess) Interrupt() error {
	if _, err := io.WriteString(p.stdin, "q"); err != nil {
		return err
	}
	return p.stdin.Close()
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error {
	if err := p.cmd.Wait(); err != nil {
		if detail := strings.TrimSpace(p.stderr.String()); detail != "" {
			return fmt.Errorf("%w: %s", err, detail)
		}
		return err
	}
	return nil
}

var _ capture.Recorder = (*FFmpegRecorder)(nil)
