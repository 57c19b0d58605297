// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"os"
	"runtime"

	"github.com/juju/cmd/v3"
	"github.com/juju/loggo"

	jujucmd "github.com/canonical/cos-registration-server-k8s-operator/cmd"
)

var logger = loggo.GetLogger("cos-registration-server.cmd")

const (
	// exit_err is the value that is returned when the command line is invalid.
	exit_err = 2
	// exit_panic is the value that is returned when we exit due to an unhandled panic.
	exit_panic = 3
)

const superDoc = `
cos-registration-server-k8s is the charm for the COS registration server.

Juju runs the dispatch command for every hook and action. The remaining
commands render the COS Lite overlay, deploy the charm and check that a
deployed server answers.
`

func main() {
	os.Exit(Main(os.Args))
}

// Main is not redundant with main(), because it provides an entry point
// for testing with arbitrary command line arguments.
func Main(args []string) int {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			buf = buf[:runtime.Stack(buf, false)]
			logger.Criticalf("Unhandled panic: \n%v\n%s", r, buf)
			os.Exit(exit_panic)
		}
	}()

	ctx, err := cmd.DefaultContext()
	if err != nil {
		cmd.WriteError(os.Stderr, err)
		return exit_err
	}
	return cmd.Main(NewCommand(), ctx, args[1:])
}

// NewCommand returns the top level command of the binary.
func NewCommand() cmd.Command {
	super := jujucmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "cos-registration-server-k8s",
		Purpose: "Operate the COS registration server on Kubernetes.",
		Doc:     superDoc[1:],
	})
	super.Register(newDispatchCommand())
	super.Register(newOverlayCommand())
	super.Register(newDeployCommand())
	super.Register(newSmokeCommand())
	return super
}

// interruptContext returns a context cancelled when the user interrupts
// the command.
func interruptContext(ctx *cmd.Context) (context.Context, func()) {
	stdctx, cancel := context.WithCancel(context.Background())
	interrupted := make(chan os.Signal, 1)
	ctx.InterruptNotify(interrupted)
	go func() {
		select {
		case <-interrupted:
			ctx.Infof("ctrl+c detected, aborting...")
			cancel()
		case <-stdctx.Done():
		}
	}()
	return stdctx, func() {
		ctx.StopInterruptNotify(interrupted)
		cancel()
	}
}
