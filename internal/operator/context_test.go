// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package operator_test

import (
	"math/rand"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/cos-registration-server-k8s-operator/core/hooks"
	"github.com/canonical/cos-registration-server-k8s-operator/core/topology"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/operator"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/registry"
)

type contextSuite struct{}

var _ = gc.Suite(&contextSuite{})

func getenv(env map[string]string) func(string) string {
	return func(key string) string { return env[key] }
}

func (s *contextSuite) TestContextFromEnv(c *gc.C) {
	ctx, err := operator.ContextFromEnv(getenv(map[string]string{
		"JUJU_UNIT_NAME":     "cos-registration-server/1",
		"JUJU_MODEL_NAME":    "cos",
		"JUJU_MODEL_UUID":    "1234",
		"JUJU_CHARM_DIR":     "/var/lib/juju/agents/unit-cos-registration-server-1/charm",
		"JUJU_DISPATCH_PATH": "hooks/update-status",
	}))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ctx.ApplicationName, gc.Equals, "cos-registration-server")
	c.Assert(ctx.Topology(), jc.DeepEquals, topology.Topology{
		Model:       "cos",
		ModelUUID:   "1234",
		Application: "cos-registration-server",
		Unit:        "cos-registration-server/1",
		CharmName:   "cos-registration-server-k8s",
	})
	event, err := ctx.Event()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(event, jc.DeepEquals, hooks.Event{Kind: hooks.UpdateStatus})
}

func (s *contextSuite) TestContextFromEnvDefaultsCharmDir(c *gc.C) {
	ctx, err := operator.ContextFromEnv(getenv(map[string]string{
		"JUJU_UNIT_NAME":     "cos-registration-server/0",
		"JUJU_MODEL_NAME":    "cos",
		"JUJU_DISPATCH_PATH": "actions/get-admin-password",
	}))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ctx.CharmDir, gc.Equals, ".")
}

func (s *contextSuite) TestContextFromEnvMissing(c *gc.C) {
	_, err := operator.ContextFromEnv(getenv(map[string]string{
		"JUJU_UNIT_NAME": "cos-registration-server/0",
	}))
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *contextSuite) TestContextFromEnvInvalidUnit(c *gc.C) {
	_, err := operator.ContextFromEnv(getenv(map[string]string{
		"JUJU_UNIT_NAME":     "not a unit",
		"JUJU_MODEL_NAME":    "cos",
		"JUJU_DISPATCH_PATH": "hooks/install",
	}))
	c.Assert(err, gc.ErrorMatches, `unit name "not a unit" not valid`)
}

func (s *contextSuite) TestProbes(c *gc.C) {
	probes := operator.Probes("http://host/cos-app", []registry.DeviceAddress{
		{UID: "robot-1", Address: "10.0.0.5"},
	})
	c.Assert(probes, gc.HasLen, 2)
	c.Assert(probes[0].JobName, gc.Equals, "blackbox_http_2xx")
	c.Assert(probes[0].Params, jc.DeepEquals, map[string][]string{"module": {"http_2xx"}})
	c.Assert(probes[0].StaticConfigs[0].Targets, jc.DeepEquals, []string{"http://host/cos-app/api/v1/health/"})
	c.Assert(probes[1].JobName, gc.Equals, "blackbox_icmp_robot-1")
	c.Assert(probes[1].MetricsPath, gc.Equals, "/probe")
	c.Assert(probes[1].StaticConfigs[0].Labels, jc.DeepEquals, map[string]string{"name": "robot-1"})
}

func (s *contextSuite) TestNewPassword(c *gc.C) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		password, err := operator.NewPassword()
		c.Assert(err, jc.ErrorIsNil)
		c.Assert(password, gc.Matches, "[a-zA-Z0-9]{12}")
		c.Assert(seen[password], jc.IsFalse)
		seen[password] = true
	}
}

func (s *contextSuite) TestNewPasswordIgnoresMathRandSeed(c *gc.C) {
	rand.Seed(42)
	first, err := operator.NewPassword()
	c.Assert(err, jc.ErrorIsNil)
	rand.Seed(42)
	second, err := operator.NewPassword()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(second, gc.Not(gc.Equals), first)
}

func (s *contextSuite) TestNewPasswordRejectsBiasedBytes(c *gc.C) {
	// 248 and above would favour the start of the alphabet.
	batches := [][]byte{
		{248, 255, 0, 25, 26, 51, 52, 61, 62, 247, 250, 1},
		{2, 3, 4},
	}
	var sizes []int
	password, err := operator.NewPasswordFrom(func(n int) ([]byte, error) {
		sizes = append(sizes, n)
		batch := batches[0]
		batches = batches[1:]
		return batch, nil
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(password, gc.Equals, "azAZ09a9bcde")
	c.Assert(sizes, jc.DeepEquals, []int{12, 12})
}

func (s *contextSuite) TestNewPasswordReadError(c *gc.C) {
	_, err := operator.NewPasswordFrom(func(int) ([]byte, error) {
		return nil, errors.New("no entropy")
	})
	c.Assert(err, gc.ErrorMatches, "generating password: no entropy")
}

func (s *contextSuite) TestCatalogueItem(c *gc.C) {
	item := operator.CatalogueItem("http://host/cos-app")
	c.Assert(item.URL, gc.Equals, "http://host/cos-app/devices/")
	c.Assert(item.Icon, gc.Equals, "graph-line-variant")
}
