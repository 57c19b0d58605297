// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"
	"os"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/utils/v4/exec"
	"github.com/kballard/go-shellquote"

	"github.com/canonical/cos-registration-server-k8s-operator/internal/bundle"
)

// DefaultBaseBundle is the bundle the overlay is applied to.
const DefaultBaseBundle = "cos-lite"

const deployDoc = `
deploy runs "juju deploy". Without --overlay the charm is deployed on its own
with the registration server image attached as a resource. With --overlay
the base bundle (cos-lite by default) is deployed with the overlay applied;
the overlay carries the charm and its image, so --image is not used. The
overlay is checked before juju is invoked. The output of juju is passed
through unchanged.

Examples:

    cos-registration-server-k8s deploy --image <image> --dry-run ./cos-registration-server-k8s_ubuntu-22.04-amd64.charm
    cos-registration-server-k8s deploy --model cos --overlay overlay.yaml
`

type deployCommand struct {
	cmd.CommandBase

	charm   string
	app     string
	image   string
	model   string
	bundle  string
	overlay string
	dryRun  bool

	run func(exec.RunParams) (*exec.ExecResponse, error)
}

func newDeployCommand() *deployCommand {
	return &deployCommand{run: exec.RunCommands}
}

// Info implements cmd.Command.
func (c *deployCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "deploy",
		Args:    "[<charm>]",
		Purpose: "Deploy the charm, or COS Lite with the charm, with juju.",
		Doc:     deployDoc[1:],
	}
}

// SetFlags implements cmd.Command.
func (c *deployCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.image, "image", "", "registration server OCI image")
	f.StringVar(&c.app, "app", bundle.DefaultApplication, "application name")
	f.StringVar(&c.model, "m", "", "model to deploy to")
	f.StringVar(&c.model, "model", "", "")
	f.StringVar(&c.bundle, "bundle", DefaultBaseBundle, "bundle the overlay is applied to")
	f.StringVar(&c.overlay, "overlay", "", "overlay adding the charm to the bundle")
	f.BoolVar(&c.dryRun, "dry-run", false, "print the juju command without running it")
}

// Init implements cmd.Command.
func (c *deployCommand) Init(args []string) error {
	if c.overlay != "" {
		if c.image != "" {
			return errors.New("--image cannot be used with --overlay, the overlay sets the image")
		}
		if c.bundle == "" {
			return errors.New("--bundle is required with --overlay")
		}
		return cmd.CheckEmpty(args)
	}
	if c.image == "" {
		return errors.New("--image is required")
	}
	c.charm = bundle.DefaultCharm
	if len(args) > 0 {
		c.charm, args = args[0], args[1:]
	}
	return cmd.CheckEmpty(args)
}

// jujuArgs returns the juju command line.
func (c *deployCommand) jujuArgs(ctx *cmd.Context) []string {
	var args []string
	if c.overlay != "" {
		args = []string{
			"juju", "deploy", c.bundle,
			"--trust",
			"--overlay", ctx.AbsPath(c.overlay),
		}
	} else {
		args = []string{
			"juju", "deploy", c.charm, c.app,
			"--trust",
			"--resource", fmt.Sprintf("%s=%s", bundle.ImageResource, c.image),
		}
	}
	if c.model != "" {
		args = append(args, "-m", c.model)
	}
	return args
}

// Run implements cmd.Command.
func (c *deployCommand) Run(ctx *cmd.Context) error {
	if c.overlay != "" {
		data, err := os.ReadFile(ctx.AbsPath(c.overlay))
		if err != nil {
			return errors.Annotate(err, "reading overlay")
		}
		if _, err := bundle.Parse(data); err != nil {
			return errors.Annotatef(err, "overlay %s", c.overlay)
		}
	}
	command := shellquote.Join(c.jujuArgs(ctx)...)
	if c.dryRun {
		fmt.Fprintln(ctx.Stdout, command)
		return nil
	}
	logger.Debugf("running %s", command)
	resp, err := c.run(exec.RunParams{
		Commands:   command,
		WorkingDir: ctx.Dir,
	})
	if err != nil {
		return errors.Annotate(err, "running juju deploy")
	}
	_, _ = ctx.Stdout.Write(resp.Stdout)
	_, _ = ctx.Stderr.Write(resp.Stderr)
	if resp.Code != 0 {
		return cmd.NewRcPassthroughError(resp.Code)
	}
	return nil
}
