// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"net"
	"strconv"
	"time"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/canonical/cos-registration-server-k8s-operator/internal/bundle"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/smoke"
)

const smokeDoc = `
smoke checks that a deployed registration server reports itself healthy
and lists its devices through /api/v1/health/ and /api/v1/devices/. The
server is reached either directly on --address or through the COS proxy on
--proxy-host, in which case --model is needed to build the proxy path.
Requests are retried until the server answers with a 2xx status or the
timeout passes.
`

type smokeCommand struct {
	cmd.CommandBase

	address   string
	port      int
	proxyHost string
	model     string
	app       string
	timeout   time.Duration
	interval  time.Duration

	serverURL string
}

func newSmokeCommand() *smokeCommand {
	return &smokeCommand{}
}

// Info implements cmd.Command.
func (c *smokeCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "smoke",
		Purpose: "Check a deployed registration server answers.",
		Doc:     smokeDoc[1:],
	}
}

// SetFlags implements cmd.Command.
func (c *smokeCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.address, "address", "", "address of the unit")
	f.IntVar(&c.port, "port", 80, "port the unit is reached on")
	f.StringVar(&c.proxyHost, "proxy-host", "", "host of the COS proxy")
	f.StringVar(&c.model, "model", "", "model the charm is deployed in")
	f.StringVar(&c.app, "app", bundle.DefaultApplication, "application name")
	f.DurationVar(&c.timeout, "timeout", smoke.DefaultTimeout, "how long to keep trying")
	f.DurationVar(&c.interval, "interval", smoke.DefaultInterval, "delay between attempts")
}

// Init implements cmd.Command.
func (c *smokeCommand) Init(args []string) error {
	switch {
	case c.address != "" && c.proxyHost != "":
		return errors.New("--address and --proxy-host are mutually exclusive")
	case c.address != "":
		if c.port <= 0 || c.port > 65535 {
			return errors.NotValidf("port %d", c.port)
		}
		c.serverURL = "http://" + net.JoinHostPort(c.address, strconv.Itoa(c.port))
	case c.proxyHost != "":
		if c.model == "" {
			return errors.New("--model is required with --proxy-host")
		}
		c.serverURL = bundle.ProxyURL(c.proxyHost, c.model, c.app)
	default:
		return errors.New("one of --address or --proxy-host is required")
	}
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *smokeCommand) Run(ctx *cmd.Context) error {
	stdctx, stop := interruptContext(ctx)
	defer stop()
	result, err := smoke.Check(stdctx, smoke.Config{
		ServerURL: c.serverURL,
		Timeout:   c.timeout,
		Interval:  c.interval,
	})
	if err != nil {
		return errors.Trace(err)
	}
	ctx.Infof("%s is healthy and lists %d device(s) after %d attempt(s)",
		c.serverURL, result.Devices, result.Attempts)
	return nil
}
