// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"os"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/canonical/cos-registration-server-k8s-operator/internal/hooktool"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/operator"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/registry"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/workload"
)

const jujuLogWriter = "juju-log"

const dispatchDoc = `
dispatch is run by the charm's dispatch script. The hook or action to handle
is read from JUJU_DISPATCH_PATH and the rest of the hook context from the
JUJU_* environment variables.
`

type dispatchCommand struct {
	cmd.CommandBase

	getenv      func(string) string
	newRunner   func(dir string) hooktool.Runner
	newWorkload func() (operator.Workload, error)
	fqdn        func() (string, error)
}

func newDispatchCommand() *dispatchCommand {
	return &dispatchCommand{
		getenv: os.Getenv,
		newRunner: func(dir string) hooktool.Runner {
			return hooktool.ExecRunner{Dir: dir}
		},
		newWorkload: newContainer,
		fqdn:        operator.FQDN,
	}
}

func newContainer() (operator.Workload, error) {
	pebble, err := workload.NewPebble(workload.SocketPath(operator.ContainerName))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return workload.NewContainer(operator.ContainerName, pebble), nil
}

func newRegistry(serverURL string) operator.Registry {
	return registry.NewClient(serverURL)
}

// Info implements cmd.Command.
func (c *dispatchCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "dispatch",
		Purpose: "Handle the current hook or action.",
		Doc:     dispatchDoc[1:],
	}
}

// Init implements cmd.Command.
func (c *dispatchCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *dispatchCommand) Run(ctx *cmd.Context) error {
	hookCtx, err := operator.ContextFromEnv(c.getenv)
	if err != nil {
		return errors.Trace(err)
	}
	event, err := hookCtx.Event()
	if err != nil {
		return errors.Trace(err)
	}
	tools := hooktool.NewClient(c.newRunner(hookCtx.CharmDir))
	if err := loggo.RegisterWriter(jujuLogWriter, hooktool.NewLogWriter(tools, ctx.Stderr)); err != nil {
		return errors.Trace(err)
	}
	defer func() { _, _ = loggo.RemoveWriter(jujuLogWriter) }()

	container, err := c.newWorkload()
	if err != nil {
		return errors.Trace(err)
	}
	fqdn, err := c.fqdn()
	if err != nil {
		return errors.Trace(err)
	}
	charm, err := operator.New(operator.Config{
		Context:     hookCtx,
		HookTools:   tools,
		Workload:    container,
		NewRegistry: newRegistry,
		FQDN:        fqdn,
		NewPassword: operator.NewPassword,
	})
	if err != nil {
		return errors.Trace(err)
	}

	stdctx, stop := interruptContext(ctx)
	defer stop()
	logger.Debugf("dispatching %s for %s", event.Name(), hookCtx.UnitName)
	return errors.Annotatef(charm.Dispatch(stdctx, event), "handling %s", event.Name())
}
