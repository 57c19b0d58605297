// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hooktool

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4/exec"
	"github.com/kballard/go-shellquote"
)

// Runner runs a single hook tool and returns its standard output.
type Runner interface {
	Run(tool string, args ...string) ([]byte, error)
}

// ToolError is returned when a hook tool exits with a non-zero code.
type ToolError struct {
	Tool   string
	Code   int
	Stderr string
}

// Error implements error.
func (e *ToolError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited %d", e.Tool, e.Code)
	}
	return fmt.Sprintf("%s exited %d: %s", e.Tool, e.Code, msg)
}

// ExecRunner runs hook tools as local processes. Juju places the tools on
// the PATH of the dispatch process, so the environment is inherited.
type ExecRunner struct {
	// Dir is the working directory, normally the charm directory.
	Dir string
}

// Run is part of the Runner interface.
func (r ExecRunner) Run(tool string, args ...string) ([]byte, error) {
	command := shellquote.Join(append([]string{tool}, args...)...)
	resp, err := exec.RunCommands(exec.RunParams{
		Commands:   command,
		WorkingDir: r.Dir,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "running %s", tool)
	}
	if resp.Code != 0 {
		return nil, &ToolError{Tool: tool, Code: resp.Code, Stderr: string(resp.Stderr)}
	}
	return resp.Stdout, nil
}
