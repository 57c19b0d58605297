// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package operator

import (
	"context"
	"encoding/json"

	"github.com/juju/errors"

	"github.com/canonical/cos-registration-server-k8s-operator/internal/digest"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/registry"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation/blackbox"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation/grafana"
)

const (
	dashboardsHashKey = "dashboard-dict-hash"
	authKeysHashKey   = "auth-devices-keys-hash"
)

// fetchDashboards asks the server for the device dashboards. Failures are
// logged and yield nothing.
func (c *Charm) fetchDashboards(ctx context.Context) []registry.Dashboard {
	client, err := c.registry()
	if err != nil {
		logger.Errorf("failed to fetch Grafana dashboards: %v", err)
		return nil
	}
	defer client.Close()
	dashboards, err := client.Dashboards(ctx)
	if err != nil {
		logger.Errorf("failed to fetch Grafana dashboards: %v", err)
		return nil
	}
	return dashboards
}

func (c *Charm) fetchAuthKeys(ctx context.Context) []registry.AuthorizedKey {
	client, err := c.registry()
	if err != nil {
		logger.Errorf("failed to fetch auth devices keys: %v", err)
		return nil
	}
	defer client.Close()
	keys, err := client.AuthorizedKeys(ctx)
	if err != nil {
		logger.Errorf("failed to fetch auth devices keys: %v", err)
		return nil
	}
	return keys
}

func (c *Charm) fetchDeviceAddresses(ctx context.Context) []registry.DeviceAddress {
	client, err := c.registry()
	if err != nil {
		logger.Errorf("failed to fetch devices addresses: %v", err)
		return nil
	}
	defer client.Close()
	addresses, err := client.DeviceAddresses(ctx)
	if err != nil {
		logger.Errorf("failed to fetch devices addresses: %v", err)
		return nil
	}
	return addresses
}

// changed reports whether hash differs from the one stored under key, and
// stores it when it does.
func (c *Charm) changed(key, hash string) (bool, error) {
	previous, err := c.state.GetString(key)
	if err != nil {
		return false, errors.Trace(err)
	}
	if previous == hash {
		return false, nil
	}
	return true, errors.Trace(c.state.Set(key, hash))
}

// syncDashboards replaces the device dashboards when the server's set
// changed.
func (c *Charm) syncDashboards(ctx context.Context) error {
	dashboards := c.fetchDashboards(ctx)
	if len(dashboards) == 0 {
		return nil
	}
	hash, err := digest.List(dashboards)
	if err != nil {
		return errors.Trace(err)
	}
	changed, err := c.changed(dashboardsHashKey, hash)
	if err != nil || !changed {
		return errors.Trace(err)
	}
	logger.Infof("Grafana dashboards changed, updating dashboards")
	if err := c.devicesDashboards.RemoveNonBuiltin(); err != nil {
		return errors.Trace(err)
	}
	for _, dashboard := range dashboards {
		content := make(map[string]interface{}, len(dashboard.Dashboard)+1)
		for k, v := range dashboard.Dashboard {
			content[k] = v
		}
		content["uid"] = dashboard.UID
		data, err := json.Marshal(content)
		if err != nil {
			return errors.Annotatef(err, "encoding dashboard %q", dashboard.UID)
		}
		if err := c.devicesDashboards.AddDashboard(string(data), false); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// syncAuthKeys publishes the device keys when the server's set changed.
func (c *Charm) syncAuthKeys(ctx context.Context) error {
	keys := c.fetchAuthKeys(ctx)
	if len(keys) == 0 {
		return nil
	}
	hash, err := digest.List(keys)
	if err != nil {
		return errors.Trace(err)
	}
	changed, err := c.changed(authKeysHashKey, hash)
	if err != nil || !changed {
		return errors.Trace(err)
	}
	logger.Infof("authorized device keys changed, updating them")
	return errors.Trace(c.authKeys.Update(keys))
}

// publishAuthKeys sends the server's current keys to every relation,
// falling back to the last known keys when the server does not answer.
func (c *Charm) publishAuthKeys(ctx context.Context) error {
	leader, err := c.tools.IsLeader()
	if err != nil || !leader {
		return errors.Trace(err)
	}
	if keys := c.fetchAuthKeys(ctx); len(keys) > 0 {
		return errors.Trace(c.authKeys.Update(keys))
	}
	return errors.Trace(c.authKeys.Publish())
}

func (c *Charm) publishDashboards(provider *grafana.Provider, force bool) error {
	if err := provider.ReloadBuiltin(force); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(provider.Publish())
}

// Probes returns the blackbox probes for the server at externalURL and
// the given devices.
func Probes(externalURL string, devices []registry.DeviceAddress) []blackbox.Probe {
	probes := []blackbox.Probe{{
		JobName: "blackbox_http_2xx",
		Params:  map[string][]string{"module": {"http_2xx"}},
		StaticConfigs: []blackbox.StaticConfig{{
			Targets: []string{externalURL + registry.APIPath + "health/"},
			Labels:  map[string]string{"name": "cos-registration-server"},
		}},
	}}
	for _, device := range devices {
		probes = append(probes, blackbox.Probe{
			JobName:     "blackbox_icmp_" + device.UID,
			MetricsPath: "/probe",
			Params:      map[string][]string{"module": {"icmp"}},
			StaticConfigs: []blackbox.StaticConfig{{
				Targets: []string{device.Address},
				Labels:  map[string]string{"name": device.UID},
			}},
		})
	}
	return probes
}

func (c *Charm) refreshProbes(ctx context.Context) error {
	related, err := relation.NewEndpoint(c.tools, blackbox.EndpointName).Related()
	if err != nil || !related {
		return errors.Trace(err)
	}
	url, err := c.externalURL()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.probes.SetProbes(Probes(url, c.fetchDeviceAddresses(ctx)), nil))
}
