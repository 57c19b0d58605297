// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/juju/cmd/v3"
	"github.com/juju/loggo"
)

const (
	// StartupLoggingConfigEnvKey configures logging before any command
	// line is parsed.
	StartupLoggingConfigEnvKey = "COS_REGISTRATION_SERVER_STARTUP_LOGGING_CONFIG"
	// LoggingConfigEnvKey is the default logging configuration of commands.
	LoggingConfigEnvKey = "COS_REGISTRATION_SERVER_LOGGING_CONFIG"
)

// Version is the version of the charm binary, set at build time.
var Version = "dev"

func init() {
	// If the environment key is empty, ConfigureLoggers returns nil and does
	// nothing.
	err := loggo.ConfigureLoggers(os.Getenv(StartupLoggingConfigEnvKey))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR parsing %s: %s\n\n", StartupLoggingConfigEnvKey, err)
	}
}

var logger = loggo.GetLogger("cos-registration-server.cmd")

// NewSuperCommand is like cmd.NewSuperCommand but
// - the default logging configuration is taken from the environment;
// - the version is the version of the charm binary;
// - the command emits a log message when a command runs.
func NewSuperCommand(p cmd.SuperCommandParams) *cmd.SuperCommand {
	p.Log = &cmd.Log{
		DefaultConfig: os.Getenv(LoggingConfigEnvKey),
	}
	p.Version = Version
	p.NotifyRun = runNotifier
	return cmd.NewSuperCommand(p)
}

func runNotifier(name string) {
	logger.Infof("running %s [%s %s %s]", name, Version, runtime.Compiler, runtime.Version())
}
