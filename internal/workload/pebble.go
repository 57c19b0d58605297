// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workload

import (
	"github.com/canonical/pebble/client"
	"github.com/juju/errors"
)

// Process is a command started in the workload container.
type Process interface {
	Wait() error
}

// Pebble is the part of the Pebble API the charm uses.
type Pebble interface {
	SysInfo() (*client.SysInfo, error)
	ListFiles(opts *client.ListFilesOptions) ([]*client.FileInfo, error)
	Exec(opts *client.ExecOptions) (Process, error)
	PlanBytes(opts *client.PlanOptions) ([]byte, error)
	AddLayer(opts *client.AddLayerOptions) error
	Restart(opts *client.ServiceOptions) (string, error)
	WaitChange(id string, opts *client.WaitChangeOptions) (*client.Change, error)
}

// SocketPath returns where the sidecar charm container sees the Pebble
// socket of the named workload container.
func SocketPath(container string) string {
	return "/charm/containers/" + container + "/pebble.socket"
}

type pebbleClient struct {
	*client.Client
}

// NewPebble connects a Pebble client to the socket.
func NewPebble(socket string) (Pebble, error) {
	c, err := client.New(&client.Config{Socket: socket})
	if err != nil {
		return nil, errors.Annotatef(err, "creating pebble client for %q", socket)
	}
	return pebbleClient{Client: c}, nil
}

// Exec adapts client.Client.Exec to return the Process interface.
func (c pebbleClient) Exec(opts *client.ExecOptions) (Process, error) {
	process, err := c.Client.Exec(opts)
	if err != nil {
		return nil, err
	}
	return process, nil
}
