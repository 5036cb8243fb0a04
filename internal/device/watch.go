package device

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pilebones/go-udev/netlink"

	"github.com/geoclip/geoclip/internal/logging"
)

// WaitForCamera blocks until devicePath exists, listening for video4linux
// hotplug events from udev.
func WaitForCamera(ctx context.Context, devicePath string, logger *slog.Logger) error {
	if exists(devicePath) {
		return nil
	}
	if logger == nil {
		logger = logging.Discard()
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return fmt.Errorf("connect to udev: %w", err)
	}
	defer conn.Close()

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	quit := conn.Monitor(queue, errs, cameraMatcher())
	defer close(quit)

	// The camera may have appeared while the socket was being set up.
	if exists(devicePath) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-queue:
			if eventDevice(event) == filepath.Clean(devicePath) || exists(devicePath) {
				return nil
			}
			logger.Debug("ignoring camera event", slog.String("device", eventDevice(event)))
		case err := <-errs:
			logger.Warn("udev monitor error", slog.Any("error", err))
		}
	}
}

func cameraMatcher() netlink.Matcher {
	action := "add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

func eventDevice(event netlink.UEvent) string {
	name := event.Env["DEVNAME"]
	if name == "" {
		return ""
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join("/dev", name)
	}
	return filepath.Clean(name)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
