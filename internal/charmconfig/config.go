// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package charmconfig validates the charm configuration returned by
// config-get.
package charmconfig

import (
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/schema"
)

// LogLevelKey is the config option selecting the charm's log level.
const LogLevelKey = "log-level"

// ValidLogLevels are the accepted values of the log-level option.
var ValidLogLevels = []string{"info", "debug", "warning", "error", "critical"}

// Config is the validated charm configuration.
type Config struct {
	LogLevel string
}

// Level returns the loggo level matching LogLevel.
func (c Config) Level() loggo.Level {
	level, ok := loggo.ParseLevel(c.LogLevel)
	if !ok {
		return loggo.INFO
	}
	return level
}

func configChecker() schema.Checker {
	levels := make([]schema.Checker, len(ValidLogLevels))
	for i, level := range ValidLogLevels {
		levels[i] = schema.Const(level)
	}
	return schema.FieldMap(
		schema.Fields{
			LogLevelKey: schema.OneOf(levels...),
		},
		schema.Defaults{
			LogLevelKey: "info",
		},
	)
}

// Parse validates raw config-get output.
func Parse(settings map[string]interface{}) (Config, error) {
	normalised := make(map[string]interface{}, len(settings))
	for k, v := range settings {
		if s, ok := v.(string); ok {
			v = strings.ToLower(strings.TrimSpace(s))
		}
		normalised[k] = v
	}
	coerced, err := configChecker().Coerce(normalised, nil)
	if err != nil {
		return Config{}, errors.NewNotValid(err, "charm config")
	}
	m := coerced.(map[string]interface{})
	return Config{
		LogLevel: m[LogLevelKey].(string),
	}, nil
}
