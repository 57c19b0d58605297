// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package operator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/canonical/pebble/internals/plan"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/cos-registration-server-k8s-operator/core/hooks"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/operator"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/registry"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation/blackbox"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation/grafana"
)

type charmSuite struct {
	tools       *fakeTools
	workload    *fakeWorkload
	registry    *fakeRegistry
	charmDir    string
	passwords   int
	passwordErr error
}

var _ = gc.Suite(&charmSuite{})

const (
	fqdn        = "cos-registration-server-0.cos-registration-server-endpoints.cos.svc.cluster.local"
	internalURL = "http://" + fqdn + ":8000"
	externalURL = "http://10.0.0.1/cos-cos-registration-server"
	password    = "s3cr3tPassw0"
)

func (s *charmSuite) SetUpTest(c *gc.C) {
	s.tools = newFakeTools(true)
	s.workload = newFakeWorkload()
	s.registry = &fakeRegistry{}
	s.charmDir = c.MkDir()
	s.passwords = 0
	s.passwordErr = nil
}

func (s *charmSuite) dispatch(c *gc.C, path string) error {
	event, err := hooks.ParseDispatchPath(path)
	c.Assert(err, jc.ErrorIsNil)
	charm, err := operator.New(operator.Config{
		Context: operator.Context{
			UnitName:        "cos-registration-server/0",
			ApplicationName: "cos-registration-server",
			ModelName:       "cos",
			ModelUUID:       "1234",
			CharmDir:        s.charmDir,
			DispatchPath:    path,
		},
		HookTools: s.tools,
		Workload:  s.workload,
		NewRegistry: func(url string) operator.Registry {
			return s.registry.newClient(url)
		},
		FQDN: fqdn,
		NewPassword: func() (string, error) {
			s.passwords++
			return password, s.passwordErr
		},
	})
	c.Assert(err, jc.ErrorIsNil)
	return charm.Dispatch(context.Background(), event)
}

func (s *charmSuite) TestValidate(c *gc.C) {
	_, err := operator.New(operator.Config{HookTools: s.tools})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *charmSuite) TestNoStorage(c *gc.C) {
	s.tools.storage = nil
	c.Assert(s.dispatch(c, "hooks/cos-registration-server-pebble-ready"), jc.ErrorIsNil)
	c.Assert(s.tools.statuses, gc.HasLen, 0)
	c.Assert(s.workload.execs, gc.HasLen, 0)
}

func (s *charmSuite) TestInvalidConfig(c *gc.C) {
	s.tools.config["log-level"] = "verbose"
	c.Assert(s.dispatch(c, "hooks/config-changed"), jc.ErrorIsNil)
	c.Assert(s.tools.statuses, gc.HasLen, 2)
	c.Assert(s.tools.statuses[0].status, gc.Equals, "blocked")
	c.Assert(s.tools.statuses[0].message, gc.Matches, "charm config: .*log-level.*")
	c.Assert(s.tools.statuses[1], jc.DeepEquals, status{true, "blocked", s.tools.statuses[0].message})
}

func (s *charmSuite) TestInvalidConfigNotLeader(c *gc.C) {
	s.tools.Leader = false
	s.tools.config["log-level"] = "verbose"
	c.Assert(s.dispatch(c, "hooks/config-changed"), jc.ErrorIsNil)
	c.Assert(s.tools.statuses, gc.HasLen, 1)
	c.Assert(s.tools.statuses[0].application, jc.IsFalse)
}

func (s *charmSuite) TestPebbleReady(c *gc.C) {
	c.Assert(s.dispatch(c, "hooks/cos-registration-server-pebble-ready"), jc.ErrorIsNil)

	c.Assert(s.workload.commands(), jc.DeepEquals, []string{"/usr/bin/install.bash", "/usr/bin/configure.bash"})
	c.Assert(s.workload.execs[1].env, jc.DeepEquals, map[string]string{
		"GRAFANA_DASHBOARD_PATH": "/server_data/grafana_dashboards",
	})

	layers := s.workload.layers["cos-registration-server"]
	c.Assert(layers, gc.HasLen, 1)
	service := layers[0].Services["cos-registration-server"]
	c.Assert(service.Command, gc.Equals, "/usr/bin/launcher.bash")
	c.Assert(service.Startup, gc.Equals, plan.StartupEnabled)
	c.Assert(service.Override, gc.Equals, plan.ReplaceOverride)
	c.Assert(service.Environment, jc.DeepEquals, map[string]string{
		"ALLOWED_HOST_DJANGO": "",
		"SCRIPT_NAME":         "/cos-cos-registration-server",
		"COS_MODEL_NAME":      "cos",
	})
	c.Assert(s.workload.restarted, jc.DeepEquals, [][]string{{"cos-registration-server"}})

	c.Assert(s.tools.unitStatuses(), jc.DeepEquals, []status{
		{false, "maintenance", "Assembling pod spec"},
		{false, "active", ""},
	})
	c.Assert(s.tools.statuses[len(s.tools.statuses)-1], jc.DeepEquals, status{true, "active", ""})
}

func (s *charmSuite) TestPebbleReadyUnchanged(c *gc.C) {
	c.Assert(s.dispatch(c, "hooks/cos-registration-server-pebble-ready"), jc.ErrorIsNil)
	s.workload.files["/server_data/secret_key"] = true
	s.workload.execs = nil

	c.Assert(s.dispatch(c, "hooks/cos-registration-server-pebble-ready"), jc.ErrorIsNil)
	c.Assert(s.workload.commands(), jc.DeepEquals, []string{"/usr/bin/configure.bash"})
	c.Assert(s.workload.layers["cos-registration-server"], gc.HasLen, 1)
	c.Assert(s.workload.restarted, gc.HasLen, 1)
}

func (s *charmSuite) TestPebbleReadySetupFailureStillStarts(c *gc.C) {
	s.workload.execErrors["/usr/bin/install.bash"] = errors.New("install failed")
	c.Assert(s.dispatch(c, "hooks/cos-registration-server-pebble-ready"), jc.ErrorIsNil)
	c.Assert(s.workload.commands(), jc.DeepEquals, []string{"/usr/bin/install.bash"})
	c.Assert(s.workload.restarted, gc.HasLen, 1)
}

func (s *charmSuite) TestPebbleNotReachable(c *gc.C) {
	s.workload.offline = true
	c.Assert(s.dispatch(c, "hooks/cos-registration-server-pebble-ready"), jc.ErrorIsNil)
	c.Assert(s.tools.unitStatuses(), jc.DeepEquals, []status{
		{false, "maintenance", "Assembling pod spec"},
		{false, "waiting", "Waiting for Pebble in workload container"},
	})
	c.Assert(s.workload.layers, gc.HasLen, 0)
	c.Assert(s.tools.statuses[len(s.tools.statuses)-1], jc.DeepEquals,
		status{true, "waiting", "Waiting for Pebble in workload container"})
}

func (s *charmSuite) TestIngressJoined(c *gc.C) {
	rel := s.tools.AddRelation("ingress", "traefik")
	c.Assert(s.dispatch(c, "hooks/ingress-relation-joined"), jc.ErrorIsNil)

	c.Assert(s.workload.layers["cos-registration-server"], gc.HasLen, 1)
	c.Assert(rel.LocalAppData["config"], gc.Matches, "(?s).*url: "+internalURL+".*")
}

func (s *charmSuite) TestIngressJoinedNotLeader(c *gc.C) {
	s.tools.Leader = false
	rel := s.tools.AddRelation("ingress", "traefik")
	c.Assert(s.dispatch(c, "hooks/ingress-relation-joined"), jc.ErrorIsNil)
	c.Assert(s.workload.layers, gc.HasLen, 0)
	c.Assert(rel.LocalAppData, gc.HasLen, 0)
}

func (s *charmSuite) TestIngressChanged(c *gc.C) {
	ingressRel := s.tools.AddRelation("ingress", "traefik")
	ingressRel.RemoteAppData["external_host"] = "10.0.0.1"
	catalogueRel := s.tools.AddRelation("catalogue", "catalogue")
	probesRel := s.tools.AddRelation("probes", "blackbox-exporter")
	s.registry.addresses = []registry.DeviceAddress{{UID: "robot-1", Address: "192.168.0.10"}}

	c.Assert(s.dispatch(c, "hooks/ingress-relation-changed"), jc.ErrorIsNil)

	service := s.workload.layers["cos-registration-server"][0].Services["cos-registration-server"]
	c.Assert(service.Environment["ALLOWED_HOST_DJANGO"], gc.Equals, "10.0.0.1")
	c.Assert(ingressRel.LocalAppData["config"], gc.Matches, "(?s).*main: 10.0.0.1.*")
	c.Assert(catalogueRel.LocalAppData["url"], gc.Equals, externalURL+"/devices/")
	c.Assert(s.registry.urls, jc.DeepEquals, []string{externalURL})

	var probes []blackbox.Probe
	c.Assert(json.Unmarshal([]byte(probesRel.LocalAppData["scrape_probes"]), &probes), jc.ErrorIsNil)
	c.Assert(probes, gc.HasLen, 2)
	c.Assert(probes[0].StaticConfigs[0].Targets, jc.DeepEquals, []string{externalURL + "/api/v1/health/"})
	c.Assert(probes[1].JobName, gc.Equals, "juju_cos_1234_cos-registration-server_blackbox_icmp_robot-1")
}

func (s *charmSuite) TestIngressChangedNotReady(c *gc.C) {
	s.tools.AddRelation("ingress", "traefik")
	c.Assert(s.dispatch(c, "hooks/ingress-relation-changed"), jc.ErrorIsNil)
	c.Assert(s.workload.layers, gc.HasLen, 0)
}

func (s *charmSuite) TestIngressBrokenRefreshesCatalogue(c *gc.C) {
	rel := s.tools.AddRelation("catalogue", "catalogue")
	c.Assert(s.dispatch(c, "hooks/ingress-relation-broken"), jc.ErrorIsNil)
	c.Assert(rel.LocalAppData["url"], gc.Equals, internalURL+"/devices/")
	c.Assert(rel.LocalAppData["name"], gc.Equals, "COS registration server")
}

func (s *charmSuite) TestUpdateStatusNotReachable(c *gc.C) {
	s.workload.offline = true
	c.Assert(s.dispatch(c, "hooks/update-status"), jc.ErrorIsNil)
	c.Assert(s.tools.unitStatuses(), jc.DeepEquals, []status{
		{false, "maintenance", "Waiting for pod startup to complete"},
	})
	c.Assert(s.tools.statuses[len(s.tools.statuses)-1], jc.DeepEquals,
		status{true, "maintenance", "Waiting for pod startup to complete"})
	c.Assert(s.registry.urls, gc.HasLen, 0)
}

func (s *charmSuite) TestApplicationActiveWhenUnitUnset(c *gc.C) {
	c.Assert(s.dispatch(c, "hooks/upgrade-charm"), jc.ErrorIsNil)
	c.Assert(s.tools.unitStatuses(), gc.HasLen, 0)
	c.Assert(s.tools.statuses, jc.DeepEquals, []status{{true, "active", ""}})
}

func (s *charmSuite) TestUpdateStatusSyncs(c *gc.C) {
	devicesRel := s.tools.AddRelation("grafana-dashboard-devices", "grafana")
	keysRel := s.tools.AddRelation("auth-devices-keys", "file-server")
	s.registry.dashboards = []registry.Dashboard{{
		UID:       "robot-dash",
		Dashboard: map[string]interface{}{"title": "robot"},
	}}
	s.registry.keys = []registry.AuthorizedKey{{UID: "robot-1", PublicSSHKey: "ssh-rsa AAAA"}}

	c.Assert(s.dispatch(c, "hooks/update-status"), jc.ErrorIsNil)

	var payload grafana.Payload
	c.Assert(json.Unmarshal([]byte(devicesRel.LocalAppData["dashboards"]), &payload), jc.ErrorIsNil)
	c.Assert(payload.Templates, gc.HasLen, 1)
	for id, template := range payload.Templates {
		c.Assert(strings.HasPrefix(id, "prog:"), jc.IsTrue)
		c.Assert(template.InjectDropdowns, jc.IsFalse)
		content, err := grafana.Decompress(template.Content)
		c.Assert(err, jc.ErrorIsNil)
		c.Assert(content, jc.JSONEquals, map[string]interface{}{"title": "robot", "uid": "robot-dash"})
	}
	c.Assert(keysRel.LocalAppData["auth_devices_keys"], gc.Equals,
		`[{"uid":"robot-1","public_ssh_key":"ssh-rsa AAAA"}]`)

	// Unchanged content is not published again.
	delete(devicesRel.LocalAppData, "dashboards")
	delete(keysRel.LocalAppData, "auth_devices_keys")
	c.Assert(s.dispatch(c, "hooks/update-status"), jc.ErrorIsNil)
	c.Assert(devicesRel.LocalAppData, gc.HasLen, 0)
	c.Assert(keysRel.LocalAppData, gc.HasLen, 0)
}

func (s *charmSuite) TestUpdateStatusRegistryDown(c *gc.C) {
	keysRel := s.tools.AddRelation("auth-devices-keys", "file-server")
	s.registry.err = errors.New("connection refused")
	c.Assert(s.dispatch(c, "hooks/update-status"), jc.ErrorIsNil)
	c.Assert(keysRel.LocalAppData, gc.HasLen, 0)
}

func (s *charmSuite) TestAuthKeysRelationCreated(c *gc.C) {
	rel := s.tools.AddRelation("auth-devices-keys", "file-server")
	s.registry.keys = []registry.AuthorizedKey{{UID: "robot-1", PublicSSHKey: "ssh-rsa AAAA"}}
	c.Assert(s.dispatch(c, "hooks/auth-devices-keys-relation-created"), jc.ErrorIsNil)
	c.Assert(rel.LocalAppData["auth_devices_keys"], gc.Equals,
		`[{"uid":"robot-1","public_ssh_key":"ssh-rsa AAAA"}]`)
}

func (s *charmSuite) writeDashboard(c *gc.C, dir, name string) {
	path := filepath.Join(s.charmDir, dir)
	c.Assert(os.MkdirAll(path, 0755), jc.ErrorIsNil)
	c.Assert(os.WriteFile(filepath.Join(path, name), []byte(`{"title": "`+name+`"}`), 0644), jc.ErrorIsNil)
}

func (s *charmSuite) TestLeaderElectedPublishesDashboards(c *gc.C) {
	s.writeDashboard(c, "src/grafana_dashboards", "server.json")
	s.writeDashboard(c, "src/grafana_dashboards/devices", "devices.json")
	serverRel := s.tools.AddRelation("grafana-dashboard", "grafana")
	devicesRel := s.tools.AddRelation("grafana-dashboard-devices", "grafana")

	c.Assert(s.dispatch(c, "hooks/leader-elected"), jc.ErrorIsNil)

	for rel, id := range map[string]string{
		serverRel.LocalAppData["dashboards"]:  "file:server",
		devicesRel.LocalAppData["dashboards"]: "file:devices",
	} {
		var payload grafana.Payload
		c.Assert(json.Unmarshal([]byte(rel), &payload), jc.ErrorIsNil)
		c.Assert(payload.Templates, gc.HasLen, 1)
		_, ok := payload.Templates[id]
		c.Assert(ok, jc.IsTrue, gc.Commentf("missing %s", id))
	}
}

func (s *charmSuite) TestGrafanaRelationJoined(c *gc.C) {
	s.writeDashboard(c, "src/grafana_dashboards", "server.json")
	rel := s.tools.AddRelation("grafana-dashboard", "grafana")
	c.Assert(s.dispatch(c, "hooks/grafana-dashboard-relation-joined"), jc.ErrorIsNil)
	c.Assert(rel.LocalAppData["dashboards"], gc.Matches, `.*"file:server".*`)
}

func (s *charmSuite) TestProbesJoined(c *gc.C) {
	rel := s.tools.AddRelation("probes", "blackbox-exporter")
	c.Assert(s.dispatch(c, "hooks/probes-relation-joined"), jc.ErrorIsNil)
	var probes []blackbox.Probe
	c.Assert(json.Unmarshal([]byte(rel.LocalAppData["scrape_probes"]), &probes), jc.ErrorIsNil)
	c.Assert(probes, gc.HasLen, 1)
	c.Assert(probes[0].JobName, gc.Equals, "juju_cos_1234_cos-registration-server_blackbox_http_2xx")
	c.Assert(s.registry.urls, jc.DeepEquals, []string{internalURL})
}

func (s *charmSuite) TestLoggingRelation(c *gc.C) {
	rel := s.tools.AddRelation("logging", "loki")
	rel.RemoteUnits["loki/0"] = map[string]string{"endpoint": `{"url": "http://loki-0:3100/loki/api/v1/push"}`}
	c.Assert(s.dispatch(c, "hooks/logging-relation-changed"), jc.ErrorIsNil)
	layers := s.workload.layers["cos-registration-server-log-forwarding"]
	c.Assert(layers, gc.HasLen, 1)
	c.Assert(layers[0].LogTargets["loki/0"].Location, gc.Equals, "http://loki-0:3100/loki/api/v1/push")
}

func (s *charmSuite) TestTracingRelationJoined(c *gc.C) {
	rel := s.tools.AddRelation("tracing", "tempo")
	c.Assert(s.dispatch(c, "hooks/tracing-relation-joined"), jc.ErrorIsNil)
	c.Assert(rel.LocalAppData["receivers"], gc.Equals, `["otlp_http","otlp_grpc"]`)
}

func (s *charmSuite) TestCharmTracing(c *gc.C) {
	var (
		mu    sync.Mutex
		paths []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rel := s.tools.AddRelation("tracing", "tempo")
	rel.RemoteAppData["receivers"] = `[{"protocol": {"name": "otlp_http", "type": "http"}, "url": "` + server.URL + `"}]`
	c.Assert(s.dispatch(c, "hooks/update-status"), jc.ErrorIsNil)

	mu.Lock()
	defer mu.Unlock()
	c.Assert(paths, jc.DeepEquals, []string{"/v1/traces"})
}

func (s *charmSuite) TestGetAdminPasswordNotReachable(c *gc.C) {
	s.workload.offline = true
	c.Assert(s.dispatch(c, "actions/get-admin-password"), jc.ErrorIsNil)
	c.Assert(s.tools.actionFailure, gc.Equals, "The container is not ready yet. Please try again in a few minutes")
	c.Assert(s.tools.actionResults, gc.IsNil)
}

func (s *charmSuite) TestGetAdminPassword(c *gc.C) {
	c.Assert(s.dispatch(c, "actions/get-admin-password"), jc.ErrorIsNil)
	c.Assert(s.tools.actionFailure, gc.Equals, "")
	c.Assert(s.tools.actionResults, jc.DeepEquals, map[string]interface{}{
		"url":      internalURL + "/admin/",
		"user":     "admin",
		"password": password,
	})
	c.Assert(s.workload.execs, jc.DeepEquals, []execCall{{
		command: []string{"/usr/bin/create_super_user.bash", "--noinput"},
		env: map[string]string{
			"DJANGO_SUPERUSER_PASSWORD": password,
			"DJANGO_SUPERUSER_EMAIL":    "admin@example.com",
			"DJANGO_SUPERUSER_USERNAME": "admin",
		},
	}})

	// The admin user is created once.
	c.Assert(s.dispatch(c, "actions/get-admin-password"), jc.ErrorIsNil)
	c.Assert(s.tools.actionResults["password"], gc.Equals, password)
	c.Assert(s.workload.execs, gc.HasLen, 1)
	c.Assert(s.passwords, gc.Equals, 1)
}

func (s *charmSuite) TestGetAdminPasswordFailure(c *gc.C) {
	s.workload.execErrors["/usr/bin/create_super_user.bash --noinput"] = errors.New("boom")
	c.Assert(s.dispatch(c, "actions/get-admin-password"), jc.ErrorIsNil)
	c.Assert(s.tools.actionFailure, gc.Equals, "Failed to create the admin user: boom")

	delete(s.workload.execErrors, "/usr/bin/create_super_user.bash --noinput")
	c.Assert(s.dispatch(c, "actions/get-admin-password"), jc.ErrorIsNil)
	c.Assert(s.passwords, gc.Equals, 2)
}

func (s *charmSuite) TestGetAdminPasswordGenerationFailure(c *gc.C) {
	s.passwordErr = errors.New("entropy exhausted")
	c.Assert(s.dispatch(c, "actions/get-admin-password"), jc.ErrorIsNil)
	c.Assert(s.tools.actionFailure, gc.Equals, "Failed to create the admin user: entropy exhausted")
	c.Assert(s.workload.execs, gc.HasLen, 0)
	c.Assert(s.tools.actionResults, gc.IsNil)
}

func (s *charmSuite) TestUnknownAction(c *gc.C) {
	c.Assert(s.dispatch(c, "actions/backup"), jc.ErrorIsNil)
	c.Assert(s.tools.actionFailure, gc.Equals, "unknown action backup")
}
