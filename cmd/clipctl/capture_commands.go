package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/geoclip/geoclip/internal/capture"
	"github.com/geoclip/geoclip/internal/device"
)

const stopTimeout = 15 * time.Second

type captureFlags struct {
	noLocation bool
}

func (f *captureFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.noLocation, "no-location", false, "Never attach coordinates")
}

// newPipeline wires the capture pipeline to the Linux device adapters.
func (c *commandContext) newPipeline(cmd *cobra.Command, flags captureFlags) (*capture.Pipeline, *device.FFmpegRecorder, error) {
	manager, _, err := c.signedIn(cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg := c.config
	logger := c.logger(cmd)
	errOut := cmd.ErrOrStderr()

	recorder := device.NewFFmpegRecorder(cfg.Capture)
	pipelineCfg := capture.Config{
		Permissions: &device.Probe{
			VideoDevice:     cfg.Capture.VideoDevice,
			AudioDevice:     cfg.Capture.AudioDevice,
			LocationEnabled: cfg.Location.Enabled,
			LocationDenied:  flags.noLocation,
		},
		Recorder: recorder,
		Device:   device.DMIInfo{Model: cfg.Capture.DeviceModel, Brand: cfg.Capture.DeviceBrand},
		Session:  manager,
		Uploader: c.client,
		Notifier: capture.NotifierFunc(func(err error) {
			fmt.Fprintln(errOut, paint(errOut, ansiRed, "error: "+err.Error()))
		}),
		Logger:          logger,
		LocationTimeout: cfg.LocationWait(),
	}
	if loc := device.NewStaticLocation(cfg.Location); loc != nil {
		pipelineCfg.Location = loc
	}

	pipeline, err := capture.New(pipelineCfg)
	if err != nil {
		return nil, nil, err
	}
	pipeline.OnStateChange(func(s capture.State) {
		logger.Debug("pipeline state", slog.String("state", s.String()))
	})
	return pipeline, recorder, nil
}

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var flags captureFlags
	var duration time.Duration
	var waitDevice bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a clip from the camera and upload it",
		Long: "Record a clip with ffmpeg from the configured camera and microphone, " +
			"tag it with your location and phone, and upload it. Press Enter or Ctrl-C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, recorder, err := ctx.newPipeline(cmd, flags)
			if err != nil {
				return err
			}
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

			grants := pipeline.AcquirePermissions(cmd.Context())
			fmt.Fprintf(errOut, "camera: %s  microphone: %s  location: %s\n",
				yesNo(grants.Camera), yesNo(grants.Microphone), grants.Location)

			if waitDevice && !recorder.Ready(cmd.Context()) {
				fmt.Fprintf(errOut, "Waiting for %s...\n", recorder.VideoDevice)
				if err := device.WaitForCamera(cmd.Context(), recorder.VideoDevice, ctx.logger(cmd)); err != nil {
					return fmt.Errorf("wait for camera: %w", err)
				}
				pipeline.AcquirePermissions(cmd.Context())
			}

			if err := pipeline.StartRecording(cmd.Context()); err != nil {
				return errReported
			}
			fmt.Fprintln(errOut, paint(errOut, ansiYellow, "Recording. Press Enter to stop."))

			waitForStop(cmd.Context(), cmd.InOrStdin(), duration)

			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), stopTimeout)
			defer cancel()
			if err := pipeline.StopRecording(stopCtx); err != nil && !errors.Is(err, capture.ErrNotRecording) {
				ctx.logger(cmd).Warn("stop recording", slog.Any("error", err))
			}
			fmt.Fprintln(errOut, "Uploading...")

			outcome, err := pipeline.Wait(context.WithoutCancel(cmd.Context()))
			if err != nil {
				return err
			}
			return reportOutcome(out, outcome)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop automatically after this long")
	cmd.Flags().BoolVar(&waitDevice, "wait-device", false, "Wait for the camera to be plugged in")
	return cmd
}

// waitForStop returns on Enter, on ctx cancellation or after duration.
func waitForStop(ctx context.Context, in io.Reader, duration time.Duration) {
	enter := make(chan struct{})
	if isInteractive(in) {
		go func() {
			_, _ = bufio.NewReader(in).ReadString('\n')
			close(enter)
		}()
	}

	var timeout <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-enter:
	case <-timeout:
	case <-ctx.Done():
	}
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var flags captureFlags

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload an existing clip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, _, err := ctx.newPipeline(cmd, flags)
			if err != nil {
				return err
			}
			pipeline.AcquirePermissions(cmd.Context())

			outcome := pipeline.UploadFile(cmd.Context(), args[0])
			return reportOutcome(cmd.OutOrStdout(), outcome)
		},
	}
	flags.register(cmd)
	return cmd
}

func reportOutcome(out io.Writer, outcome capture.Outcome) error {
	if outcome.Err != nil {
		return errReported
	}
	fmt.Fprintln(out, paint(out, ansiGreen, "Uploaded video "+outcome.VideoID))
	return nil
}
