// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package workload manages the registration server container through its
// Pebble daemon.
package workload

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/canonical/pebble/client"
	"github.com/canonical/pebble/internals/plan"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"gopkg.in/yaml.v3"
)

var logger = loggo.GetLogger("cos-registration-server.workload")

// DefaultChangeTimeout bounds how long a service restart may take.
const DefaultChangeTimeout = 30 * time.Second

// Container is a workload container reached through Pebble.
type Container struct {
	name          string
	pebble        Pebble
	changeTimeout time.Duration
}

// NewContainer returns a Container for the named workload container.
func NewContainer(name string, pebble Pebble) *Container {
	return &Container{
		name:          name,
		pebble:        pebble,
		changeTimeout: DefaultChangeTimeout,
	}
}

// Name returns the container name.
func (c *Container) Name() string {
	return c.name
}

// CanConnect reports whether Pebble in the container answers.
func (c *Container) CanConnect() bool {
	if _, err := c.pebble.SysInfo(); err != nil {
		logger.Debugf("cannot connect to pebble in %q: %v", c.name, err)
		return false
	}
	return true
}

// Exists reports whether a file or directory exists in the container.
func (c *Container) Exists(p string) (bool, error) {
	files, err := c.pebble.ListFiles(&client.ListFilesOptions{
		Path:   p,
		Itself: true,
	})
	var apiErr *client.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.Annotatef(err, "listing %q", p)
	}
	return len(files) > 0, nil
}

// ExecError is returned when a command exits unsuccessfully.
type ExecError struct {
	Command []string
	Err     error
	Stderr  string
}

// Error implements error.
func (e *ExecError) Error() string {
	msg := e.Err.Error()
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying Pebble error.
func (e *ExecError) Unwrap() error {
	return e.Err
}

// Exec runs a command in the container and waits for it to finish. The
// command's standard output is returned.
func (c *Container) Exec(ctx context.Context, command []string, env map[string]string) (string, error) {
	var stdout, stderr bytes.Buffer
	opts := &client.ExecOptions{
		Command:     command,
		Environment: env,
		Stdout:      &stdout,
		Stderr:      &stderr,
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts.Timeout = time.Until(deadline)
	}
	process, err := c.pebble.Exec(opts)
	if err != nil {
		return "", errors.Annotatef(err, "starting %q", command[0])
	}
	if err := process.Wait(); err != nil {
		return stdout.String(), &ExecError{
			Command: command,
			Err:     err,
			Stderr:  string(bytes.TrimSpace(stderr.Bytes())),
		}
	}
	return stdout.String(), nil
}

type planDoc struct {
	Services   map[string]*plan.Service   `yaml:"services,omitempty"`
	LogTargets map[string]*plan.LogTarget `yaml:"log-targets,omitempty"`
}

func (c *Container) plan() (*planDoc, error) {
	data, err := c.pebble.PlanBytes(&client.PlanOptions{})
	if err != nil {
		return nil, errors.Annotate(err, "fetching pebble plan")
	}
	var doc planDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Annotate(err, "parsing pebble plan")
	}
	return &doc, nil
}

// PlanServices returns the services of the current Pebble plan.
func (c *Container) PlanServices() (map[string]*plan.Service, error) {
	doc, err := c.plan()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return doc.Services, nil
}

// PlanLogTargets returns the log targets of the current Pebble plan.
func (c *Container) PlanLogTargets() (map[string]*plan.LogTarget, error) {
	doc, err := c.plan()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return doc.LogTargets, nil
}

// AddLayer adds (or, when combine is true, merges) a layer into the plan.
func (c *Container) AddLayer(label string, layer *plan.Layer, combine bool) error {
	data, err := yaml.Marshal(layer)
	if err != nil {
		return errors.Annotatef(err, "encoding layer %q", label)
	}
	err = c.pebble.AddLayer(&client.AddLayerOptions{
		Combine:   combine,
		Label:     label,
		LayerData: data,
	})
	return errors.Annotatef(err, "adding layer %q", label)
}

// Restart restarts the named services and waits for the change to settle.
func (c *Container) Restart(names ...string) error {
	changeID, err := c.pebble.Restart(&client.ServiceOptions{Names: names})
	if err != nil {
		return errors.Annotatef(err, "restarting %v", names)
	}
	change, err := c.pebble.WaitChange(changeID, &client.WaitChangeOptions{Timeout: c.changeTimeout})
	if err != nil {
		return errors.Annotatef(err, "waiting for restart of %v", names)
	}
	if change.Err != "" {
		return errors.Errorf("restarting %v: %s", names, change.Err)
	}
	return nil
}

// ServicesEqual reports whether two service maps describe the same
// services.
func ServicesEqual(a, b map[string]*plan.Service) bool {
	if len(a) != len(b) {
		return false
	}
	left, err := yaml.Marshal(a)
	if err != nil {
		return false
	}
	right, err := yaml.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}
