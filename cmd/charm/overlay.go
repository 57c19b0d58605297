// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"os"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/canonical/cos-registration-server-k8s-operator/internal/bundle"
)

const overlayDoc = `
overlay renders the overlay adding the registration server to a COS Lite
deployment and relating it to Traefik, the catalogue, Grafana and Loki.
COS Lite has no blackbox exporter nor tracing receiver; name them with
--blackbox-app and --tracing-app to relate to ones deployed separately.

Examples:

    cos-registration-server-k8s overlay --model cos --image ghcr.io/canonical/cos-registration-server:dev
    cos-registration-server-k8s overlay --model cos --image <image> --output overlay.yaml
    cos-registration-server-k8s overlay --model cos --image <image> --blackbox-app blackbox-exporter
`

type overlayCommand struct {
	cmd.CommandBase

	params bundle.OverlayParams
	model  string
	output string
}

func newOverlayCommand() *overlayCommand {
	return &overlayCommand{}
}

// Info implements cmd.Command.
func (c *overlayCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "overlay",
		Purpose: "Render the COS Lite overlay.",
		Doc:     overlayDoc[1:],
	}
}

// SetFlags implements cmd.Command.
func (c *overlayCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.model, "model", "", "model COS Lite is deployed in")
	f.StringVar(&c.params.Application, "app", bundle.DefaultApplication, "application name")
	f.StringVar(&c.params.Charm, "charm", bundle.DefaultCharm, "charm to deploy")
	f.StringVar(&c.params.Channel, "channel", bundle.DefaultChannel, "charm channel")
	f.StringVar(&c.params.Image, "image", "", "registration server OCI image")
	f.StringVar(&c.params.BlackboxApp, "blackbox-app", "", "blackbox exporter application to send probes to")
	f.StringVar(&c.params.TracingApp, "tracing-app", "", "application receiving the charm traces")
	f.StringVar(&c.output, "output", "", "file to write the overlay to instead of stdout")
}

// Init implements cmd.Command.
func (c *overlayCommand) Init(args []string) error {
	if c.model == "" {
		return errors.New("--model is required")
	}
	if err := c.params.Validate(); err != nil {
		return errors.Trace(err)
	}
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *overlayCommand) Run(ctx *cmd.Context) error {
	overlay, err := bundle.COSOverlay(c.params)
	if err != nil {
		return errors.Trace(err)
	}
	data, err := bundle.Render(overlay)
	if err != nil {
		return errors.Trace(err)
	}
	if c.output == "" {
		_, err = ctx.Stdout.Write(data)
		return errors.Trace(err)
	}
	path := ctx.AbsPath(c.output)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Annotatef(err, "writing overlay")
	}
	ctx.Infof("overlay written to %s; the server will be reachable under %s",
		path, bundle.ProxyPath(c.model, c.params.Application))
	return nil
}
