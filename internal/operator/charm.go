// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package operator is the charm: it reacts to each hook or action Juju
// dispatches by configuring the registration server workload and the
// relations to the rest of COS.
package operator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/canonical/pebble/internals/plan"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/canonical/cos-registration-server-k8s-operator/core/hooks"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/charmconfig"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/hooktool"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/registry"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation/authkeys"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation/blackbox"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation/catalogue"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation/grafana"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation/ingress"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation/logging"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation/tracing"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/storedstate"
)

var logger = loggo.GetLogger("cos-registration-server.operator")

const (
	// ContainerName is the workload container.
	ContainerName = "cos-registration-server"
	// ServiceName is the Pebble service running the server.
	ServiceName = "cos-registration-server"
	// StorageName is the storage holding the server database.
	StorageName = "database"
	// Port is the port the server listens on inside the pod.
	Port = 8000

	// GetAdminPasswordAction returns the Django admin credentials.
	GetAdminPasswordAction = "get-admin-password"

	dashboardsDir        = "src/grafana_dashboards"
	devicesDashboardsDir = "src/grafana_dashboards/devices"
)

// HookTools is the subset of the hook tools the charm uses.
type HookTools interface {
	relation.Backend
	storedstate.Backend
	ConfigGet() (map[string]interface{}, error)
	StorageList(name string) ([]string, error)
	StatusSet(application bool, status, message string) error
	StatusGet() (string, string, error)
	ActionSet(results map[string]interface{}) error
	ActionFail(message string) error
}

// Workload is the registration server container.
type Workload interface {
	logging.Workload
	Exists(path string) (bool, error)
	Exec(ctx context.Context, command []string, env map[string]string) (string, error)
	PlanServices() (map[string]*plan.Service, error)
	Restart(names ...string) error
}

// Registry is the API of the registration server.
type Registry interface {
	Dashboards(ctx context.Context) ([]registry.Dashboard, error)
	AuthorizedKeys(ctx context.Context) ([]registry.AuthorizedKey, error)
	DeviceAddresses(ctx context.Context) ([]registry.DeviceAddress, error)
	Close() error
}

// Config holds the dependencies of a Charm.
type Config struct {
	Context   Context
	HookTools HookTools
	Workload  Workload
	// NewRegistry returns a client for the server reachable at serverURL.
	NewRegistry func(serverURL string) Registry
	// FQDN is the fully qualified name of the unit's pod.
	FQDN string
	// NewPassword returns a fresh admin password.
	NewPassword func() (string, error)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.HookTools == nil {
		return errors.NotValidf("nil HookTools")
	}
	if c.Workload == nil {
		return errors.NotValidf("nil Workload")
	}
	if c.NewRegistry == nil {
		return errors.NotValidf("nil NewRegistry")
	}
	if c.NewPassword == nil {
		return errors.NotValidf("nil NewPassword")
	}
	if c.FQDN == "" {
		return errors.NotValidf("empty FQDN")
	}
	return nil
}

// Charm handles one dispatch.
type Charm struct {
	config   Config
	tools    HookTools
	workload Workload
	state    *storedstate.State

	ingress           *ingress.Requirer
	dashboards        *grafana.Provider
	devicesDashboards *grafana.Provider
	authKeys          *authkeys.Provider
	probes            *blackbox.Provider
	logs              *logging.Forwarder
	tracing           *tracing.Requirer
}

// New returns a Charm configured by config.
func New(config Config) (*Charm, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	tools := config.HookTools
	topology := config.Context.Topology()
	c := &Charm{
		config:   config,
		tools:    tools,
		workload: config.Workload,
		state:    storedstate.New(tools, "charm"),
		ingress:  ingress.NewRequirer(tools),
		authKeys: authkeys.NewProvider(tools, storedstate.New(tools, authkeys.EndpointName), authkeys.EndpointName),
		probes:   blackbox.NewProvider(tools, topology),
		logs:     logging.NewForwarder(tools, topology, config.Workload),
		tracing:  tracing.NewRequirer(tools),
	}
	var err error
	for _, p := range []struct {
		provider **grafana.Provider
		endpoint string
		dir      string
	}{
		{&c.dashboards, grafana.DefaultEndpoint, dashboardsDir},
		{&c.devicesDashboards, grafana.DevicesEndpoint, devicesDashboardsDir},
	} {
		*p.provider, err = grafana.NewProvider(grafana.ProviderParams{
			Backend:       tools,
			State:         storedstate.New(tools, p.endpoint),
			Endpoint:      p.endpoint,
			DashboardsDir: filepath.Join(config.Context.CharmDir, filepath.FromSlash(p.dir)),
			Topology:      topology,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
	return c, nil
}

// Dispatch runs the charm for event.
func (c *Charm) Dispatch(ctx context.Context, event hooks.Event) (err error) {
	storage, err := c.tools.StorageList(StorageName)
	if err != nil {
		return errors.Trace(err)
	}
	if len(storage) == 0 {
		// Storage is attached early in the unit's life; everything can
		// wait until it is.
		logger.Infof("storage %q not attached yet, skipping %s", StorageName, event.Name())
		return nil
	}

	ctx, finish := c.startTracing(ctx, event)
	defer func() { finish(err) }()

	settings, err := c.tools.ConfigGet()
	if err != nil {
		return errors.Trace(err)
	}
	config, err := charmconfig.Parse(settings)
	if err != nil {
		if err := c.setStatus(false, hooktool.StatusBlocked, err.Error()); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(c.collectStatus())
	}
	loggo.GetLogger("cos-registration-server").SetLogLevel(config.Level())

	logger.Debugf("dispatching %s", event.Name())
	if event.Kind == hooks.Action {
		return errors.Trace(c.runAction(ctx, event.Action))
	}
	if err := c.handle(ctx, event); err != nil {
		return errors.Annotatef(err, "handling %s", event.Name())
	}
	return errors.Trace(c.collectStatus())
}

func (c *Charm) handle(ctx context.Context, event hooks.Event) error {
	switch event.Kind {
	case hooks.PebbleReady:
		if event.Container != ContainerName {
			return nil
		}
		return runAll(
			func() error { return c.updateLayerAndRestart(ctx) },
			c.refreshCatalogue,
			c.logs.Update,
		)
	case hooks.LeaderElected:
		return runAll(
			func() error { return c.configureIngress(ctx) },
			func() error { return c.publishAuthKeys(ctx) },
			func() error { return c.publishDashboards(c.dashboards, false) },
			func() error { return c.publishDashboards(c.devicesDashboards, false) },
		)
	case hooks.ConfigChanged:
		return runAll(
			func() error { return c.configureIngress(ctx) },
			c.refreshCatalogue,
			func() error { return c.refreshProbes(ctx) },
		)
	case hooks.UpgradeCharm:
		return runAll(
			func() error { return c.publishAuthKeys(ctx) },
			func() error { return c.publishDashboards(c.dashboards, true) },
			func() error { return c.publishDashboards(c.devicesDashboards, true) },
		)
	case hooks.UpdateStatus:
		return runAll(
			func() error { return c.updateStatus(ctx) },
			func() error { return c.refreshProbes(ctx) },
		)
	}
	if event.Kind.IsRelation() {
		return c.handleRelation(ctx, event)
	}
	return nil
}

func (c *Charm) handleRelation(ctx context.Context, event hooks.Event) error {
	switch event.Relation {
	case ingress.EndpointName:
		switch event.Kind {
		case hooks.RelationJoined:
			return c.configureIngress(ctx)
		case hooks.RelationChanged:
			return c.ingressChanged(ctx)
		case hooks.RelationBroken:
			return c.refreshCatalogue()
		}
	case authkeys.EndpointName:
		if event.Kind == hooks.RelationCreated || event.Kind == hooks.RelationChanged {
			return c.publishAuthKeys(ctx)
		}
	case grafana.DefaultEndpoint, grafana.DevicesEndpoint:
		provider := c.dashboards
		if event.Relation == grafana.DevicesEndpoint {
			provider = c.devicesDashboards
		}
		if event.Kind == hooks.RelationCreated || event.Kind == hooks.RelationJoined {
			return c.publishDashboards(provider, false)
		}
	case blackbox.EndpointName:
		if event.Kind == hooks.RelationJoined {
			return c.refreshProbes(ctx)
		}
	case catalogue.EndpointName:
		if event.Kind == hooks.RelationJoined {
			return c.refreshCatalogue()
		}
	case logging.EndpointName:
		return c.logs.Update()
	case tracing.EndpointName:
		if event.Kind == hooks.RelationCreated || event.Kind == hooks.RelationJoined {
			return c.tracing.RequestProtocols(tracing.ProtocolOTLPHTTP, tracing.ProtocolOTLPGRPC)
		}
	}
	return nil
}

// runAll runs every step, returning the first error once all have run.
func runAll(steps ...func() error) error {
	var first error
	for _, step := range steps {
		if err := step(); err != nil {
			if first == nil {
				first = err
			} else {
				logger.Errorf("%v", err)
			}
		}
	}
	return first
}

func (c *Charm) setStatus(application bool, status, message string) error {
	return errors.Annotatef(c.tools.StatusSet(application, status, message), "setting status %s", status)
}

// collectStatus settles the application status at the end of a dispatch.
// The leader mirrors its own unit's status so that a waiting or blocked
// workload is never reported as an active application.
func (c *Charm) collectStatus() error {
	leader, err := c.tools.IsLeader()
	if err != nil || !leader {
		return errors.Trace(err)
	}
	status, message, err := c.tools.StatusGet()
	if err != nil {
		return errors.Annotate(err, "reading unit status")
	}
	switch status {
	case hooktool.StatusBlocked, hooktool.StatusMaintenance, hooktool.StatusWaiting:
		return c.setStatus(true, status, message)
	}
	return c.setStatus(true, hooktool.StatusActive, "")
}

func (c *Charm) internalURL() string {
	return fmt.Sprintf("http://%s:%d", c.config.FQDN, Port)
}

// externalURL is where the server is reachable from outside the model:
// through Traefik when it told us its host, otherwise directly.
func (c *Charm) externalURL() (string, error) {
	host, err := c.ingress.ExternalHost()
	if err != nil {
		return "", errors.Trace(err)
	}
	if host == "" {
		return c.internalURL(), nil
	}
	scheme, err := c.ingress.Scheme()
	if err != nil {
		return "", errors.Trace(err)
	}
	prefix := ingress.PathPrefix(c.config.Context.ModelName, c.config.Context.ApplicationName)
	return fmt.Sprintf("%s://%s/%s", scheme, host, prefix), nil
}

func (c *Charm) registry() (Registry, error) {
	url, err := c.externalURL()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return c.config.NewRegistry(url), nil
}
