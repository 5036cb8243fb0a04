package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/geoclip/geoclip/internal/apiclient"
	"github.com/geoclip/geoclip/internal/config"
	"github.com/geoclip/geoclip/internal/keystore"
	"github.com/geoclip/geoclip/internal/logging"
	"github.com/geoclip/geoclip/internal/session"
)

// errReported marks failures already shown to the user by the notifier.
var errReported = errors.New("failure already reported")

type commandContext struct {
	configFlag  *string
	baseURLFlag *string
	verbose     *bool

	configOnce sync.Once
	config     config.Client
	configPath string
	configErr  error

	sessionOnce sync.Once
	client      *apiclient.Client
	manager     *session.Manager
	sessionErr  error
}

func newCommandContext(configFlag, baseURLFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		baseURLFlag: baseURLFlag,
		verbose:     verbose,
	}
}

func (c *commandContext) ensureConfig() (config.Client, error) {
	c.configOnce.Do(func() {
		path, err := c.resolveConfigPath()
		if err != nil {
			c.configErr = err
			return
		}
		cfg, err := config.LoadClient(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.baseURLFlag != nil {
			if override := strings.TrimRight(strings.TrimSpace(*c.baseURLFlag), "/"); override != "" {
				cfg.BaseURL = override
				if err := cfg.Validate(); err != nil {
					c.configErr = err
					return
				}
			}
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) resolveConfigPath() (string, error) {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path, nil
		}
	}
	path, err := config.DefaultClientPath()
	if err != nil {
		return "", fmt.Errorf("determine default config path: %w", err)
	}
	return path, nil
}

func (c *commandContext) logger(cmd *cobra.Command) *slog.Logger {
	level := c.config.LogLevel
	if c.verbose != nil && *c.verbose {
		level = "debug"
	}
	return logging.NewText(cmd.ErrOrStderr(), level)
}

// session builds the API client and session manager once, restoring any
// persisted token. A failed restore is reported but leaves a usable,
// signed-out manager.
func (c *commandContext) session(cmd *cobra.Command) (*session.Manager, error) {
	c.sessionOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.sessionErr = err
			return
		}
		logger := c.logger(cmd)

		client, err := apiclient.New(cfg.BaseURL,
			apiclient.WithTimeout(cfg.RequestWait()),
			apiclient.WithLogger(logger),
		)
		if err != nil {
			c.sessionErr = err
			return
		}
		c.client = client

		c.manager = session.NewManager(client, keystore.NewFileStore(cfg.KeystorePath), logger)
		if err := c.manager.Bootstrap(cmd.Context()); err != nil {
			logger.Warn("could not restore session", slog.Any("error", err))
		}
	})
	return c.manager, c.sessionErr
}

// signedIn returns the manager and a snapshot, failing when nobody is signed in.
func (c *commandContext) signedIn(cmd *cobra.Command) (*session.Manager, session.Snapshot, error) {
	manager, err := c.session(cmd)
	if err != nil {
		return nil, session.Snapshot{}, err
	}
	snap := manager.Snapshot()
	if !snap.Authenticated() {
		return nil, session.Snapshot{}, errors.New("not signed in; run `clipctl login` first")
	}
	return manager, snap, nil
}

// apiFailure turns client errors into CLI messages.
func (c *commandContext) apiFailure(action string, err error) error {
	var authErr *apiclient.AuthenticationError
	var apiErr *apiclient.APIError
	var netErr *apiclient.NetworkError
	switch {
	case errors.As(err, &authErr):
		return fmt.Errorf("%s: %s", action, authErr.Message)
	case errors.As(err, &apiErr):
		return fmt.Errorf("%s: %s", action, apiErr.Message)
	case errors.As(err, &netErr):
		return fmt.Errorf("%s: could not reach %s: %v", action, c.config.BaseURL, netErr.Err)
	default:
		return fmt.Errorf("%s: %w", action, err)
	}
}

// requestFailure is apiFailure for authenticated calls: a rejected token
// ends the session.
func (c *commandContext) requestFailure(cmd *cobra.Command, action string, err error) error {
	var authErr *apiclient.AuthenticationError
	if errors.As(err, &authErr) {
		if c.manager != nil {
			c.manager.InvalidateToken(cmd.Context())
		}
		return fmt.Errorf("%s: session expired; run `clipctl login` again", action)
	}
	return c.apiFailure(action, err)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
