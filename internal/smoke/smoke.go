// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package smoke polls a deployed registration server until it answers.
package smoke

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"

	"github.com/canonical/cos-registration-server-k8s-operator/internal/registry"
)

var logger = loggo.GetLogger("cos-registration-server.smoke")

const (
	// DefaultTimeout bounds the whole check.
	DefaultTimeout = 2 * time.Minute
	// DefaultInterval is the delay between attempts.
	DefaultInterval = 5 * time.Second
)

// Server is the part of the registration server API the check uses.
type Server interface {
	Health(ctx context.Context) error
	Devices(ctx context.Context) ([]map[string]interface{}, error)
	Close() error
}

// Config holds the check parameters.
type Config struct {
	// ServerURL is where the server is reached, including any proxy path.
	ServerURL string
	Timeout   time.Duration
	Interval  time.Duration
	Clock     clock.Clock
	// NewServer defaults to a registry client.
	NewServer func(serverURL string) Server
}

// Validate fills in defaults and checks the URL is set.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.NotValidf("empty server URL")
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.NewServer == nil {
		c.NewServer = func(serverURL string) Server {
			return registry.NewClient(serverURL)
		}
	}
	return nil
}

// Result describes the successful attempt.
type Result struct {
	Devices  int
	Attempts int
}

// Check waits for the server to report itself healthy and list its
// devices, retrying until the timeout passes.
func Check(ctx context.Context, cfg Config) (Result, error) {
	var result Result
	if err := cfg.Validate(); err != nil {
		return result, errors.Trace(err)
	}
	server := cfg.NewServer(cfg.ServerURL)
	defer func() { _ = server.Close() }()

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			result.Attempts++
			if err := server.Health(ctx); err != nil {
				return errors.Annotate(err, "health check")
			}
			devices, err := server.Devices(ctx)
			if err != nil {
				return errors.Annotate(err, "listing devices")
			}
			result.Devices = len(devices)
			return nil
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("attempt %d: %v", attempt, err)
		},
		Attempts:    retry.UnlimitedAttempts,
		Delay:       cfg.Interval,
		MaxDuration: cfg.Timeout,
		Clock:       cfg.Clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		return result, errors.Annotatef(retry.LastError(err), "smoke test of %s failed after %d attempts", cfg.ServerURL, result.Attempts)
	}
	logger.Infof("%s is healthy with %d device(s)", cfg.ServerURL, result.Devices)
	return result, nil
}
