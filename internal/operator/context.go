// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package operator

import (
	"net"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/names/v5"

	"github.com/canonical/cos-registration-server-k8s-operator/core/hooks"
	"github.com/canonical/cos-registration-server-k8s-operator/core/topology"
)

// CharmName is the name the charm is published under.
const CharmName = "cos-registration-server-k8s"

// Context is the part of the hook environment the charm depends on.
type Context struct {
	UnitName        string
	ApplicationName string
	ModelName       string
	ModelUUID       string
	CharmDir        string
	DispatchPath    string
}

// ContextFromEnv reads the hook context set by the unit agent.
func ContextFromEnv(getenv func(string) string) (Context, error) {
	ctx := Context{
		UnitName:     getenv("JUJU_UNIT_NAME"),
		ModelName:    getenv("JUJU_MODEL_NAME"),
		ModelUUID:    getenv("JUJU_MODEL_UUID"),
		CharmDir:     getenv("JUJU_CHARM_DIR"),
		DispatchPath: getenv("JUJU_DISPATCH_PATH"),
	}
	for name, value := range map[string]string{
		"JUJU_UNIT_NAME":     ctx.UnitName,
		"JUJU_MODEL_NAME":    ctx.ModelName,
		"JUJU_DISPATCH_PATH": ctx.DispatchPath,
	} {
		if value == "" {
			return Context{}, errors.NotFoundf("environment variable %s", name)
		}
	}
	if !names.IsValidUnit(ctx.UnitName) {
		return Context{}, errors.NotValidf("unit name %q", ctx.UnitName)
	}
	app, err := names.UnitApplication(ctx.UnitName)
	if err != nil {
		return Context{}, errors.Trace(err)
	}
	ctx.ApplicationName = app
	if ctx.CharmDir == "" {
		ctx.CharmDir = "."
	}
	return ctx, nil
}

// Event returns the event being dispatched.
func (c Context) Event() (hooks.Event, error) {
	return hooks.ParseDispatchPath(c.DispatchPath)
}

// Topology returns the Juju topology of the unit.
func (c Context) Topology() topology.Topology {
	return topology.Topology{
		Model:       c.ModelName,
		ModelUUID:   c.ModelUUID,
		Application: c.ApplicationName,
		Unit:        c.UnitName,
		CharmName:   CharmName,
	}
}

// FQDN returns the fully qualified name of the host, falling back to the
// plain host name when it does not resolve.
func FQDN() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", errors.Annotate(err, "reading host name")
	}
	cname, err := net.LookupCNAME(host)
	if err != nil || cname == "" {
		return host, nil
	}
	return strings.TrimSuffix(cname, "."), nil
}
