// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package operator

import (
	"context"

	"github.com/canonical/pebble/internals/plan"
	"github.com/juju/errors"

	"github.com/canonical/cos-registration-server-k8s-operator/internal/hooktool"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation/catalogue"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation/ingress"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/workload"
)

const (
	secretKeyPath   = "/server_data/secret_key"
	installScript   = "/usr/bin/install.bash"
	configureScript = "/usr/bin/configure.bash"
	launcherScript  = "/usr/bin/launcher.bash"

	grafanaDashboardPath = "/server_data/grafana_dashboards"
)

// Layer returns the Pebble layer running the server for the given
// external host.
func (c *Charm) Layer(externalHost string) *plan.Layer {
	model := c.config.Context.ModelName
	app := c.config.Context.ApplicationName
	return &plan.Layer{
		Summary:     "cos registration server k8s layer",
		Description: "cos registration server k8s layer",
		Services: map[string]*plan.Service{
			ServiceName: {
				Name:     ServiceName,
				Summary:  "cos-registration-server-k8s service",
				Override: plan.ReplaceOverride,
				Command:  launcherScript,
				Startup:  plan.StartupEnabled,
				Environment: map[string]string{
					"ALLOWED_HOST_DJANGO": externalHost,
					"SCRIPT_NAME":         "/" + ingress.PathPrefix(model, app),
					"COS_MODEL_NAME":      model,
				},
			},
		},
	}
}

// setupServer prepares the server data. Failures are logged; the server
// is started regardless.
func (c *Charm) setupServer(ctx context.Context) {
	exists, err := c.workload.Exists(secretKeyPath)
	if err != nil {
		logger.Errorf("failed to set up the server: %v", err)
		return
	}
	if !exists {
		if _, err := c.workload.Exec(ctx, []string{installScript}, nil); err != nil {
			logger.Errorf("failed to set up the server: %v", err)
			return
		}
	}
	env := map[string]string{"GRAFANA_DASHBOARD_PATH": grafanaDashboardPath}
	if _, err := c.workload.Exec(ctx, []string{configureScript}, env); err != nil {
		logger.Errorf("failed to set up the server: %v", err)
	}
}

// updateLayerAndRestart (re)starts the server when its service definition
// changed.
func (c *Charm) updateLayerAndRestart(ctx context.Context) error {
	if err := c.setStatus(false, hooktool.StatusMaintenance, "Assembling pod spec"); err != nil {
		return errors.Trace(err)
	}
	if !c.workload.CanConnect() {
		return c.setStatus(false, hooktool.StatusWaiting, "Waiting for Pebble in workload container")
	}
	c.setupServer(ctx)

	host, err := c.ingress.ExternalHost()
	if err != nil {
		return errors.Trace(err)
	}
	layer := c.Layer(host)
	current, err := c.workload.PlanServices()
	if err != nil {
		return errors.Trace(err)
	}
	if !workload.ServicesEqual(current, layer.Services) {
		if err := c.workload.AddLayer(ServiceName, layer, true); err != nil {
			return errors.Trace(err)
		}
		logger.Infof("added updated layer %q to Pebble plan", ServiceName)
		if err := c.workload.Restart(ServiceName); err != nil {
			return errors.Trace(err)
		}
		logger.Infof("restarted %q service", ServiceName)
	}
	return c.setStatus(false, hooktool.StatusActive, "")
}

// configureIngress hands Traefik the route to the server. Only the leader
// does so, once the relation exists.
func (c *Charm) configureIngress(ctx context.Context) error {
	leader, err := c.tools.IsLeader()
	if err != nil || !leader {
		return errors.Trace(err)
	}
	related, err := c.ingress.IsRelated()
	if err != nil || !related {
		return errors.Trace(err)
	}
	if err := c.updateLayerAndRestart(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.submitRoute())
}

func (c *Charm) submitRoute() error {
	host, err := c.ingress.ExternalHost()
	if err != nil {
		return errors.Trace(err)
	}
	config := ingress.RouteConfig(
		c.config.Context.ModelName, c.config.Context.ApplicationName, host, c.internalURL(),
	)
	return errors.Trace(c.ingress.Submit(config))
}

// ingressChanged reacts to Traefik publishing its external host.
func (c *Charm) ingressChanged(ctx context.Context) error {
	ready, err := c.ingress.IsReady()
	if err != nil || !ready {
		return errors.Trace(err)
	}
	return runAll(
		func() error { return c.updateLayerAndRestart(ctx) },
		c.submitRoute,
		c.refreshCatalogue,
		func() error { return c.refreshProbes(ctx) },
	)
}

// CatalogueItem returns the charm's catalogue entry for the given external
// URL.
func CatalogueItem(externalURL string) catalogue.Item {
	return catalogue.Item{
		Name:        "COS registration server",
		Icon:        "graph-line-variant",
		URL:         externalURL + "/devices/",
		Description: "COS registration server to register devices.",
	}
}

func (c *Charm) refreshCatalogue() error {
	url, err := c.externalURL()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(catalogue.NewConsumer(c.tools, CatalogueItem(url)).Publish())
}

// updateStatus keeps the devices' dashboards and keys in line with the
// server.
func (c *Charm) updateStatus(ctx context.Context) error {
	if !c.workload.CanConnect() {
		return c.setStatus(false, hooktool.StatusMaintenance, "Waiting for pod startup to complete")
	}
	return runAll(
		func() error { return c.syncDashboards(ctx) },
		func() error { return c.syncAuthKeys(ctx) },
	)
}
