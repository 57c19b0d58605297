// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package blackbox implements the blackbox_exporter_probes interface. The
// provider hands probe jobs and modules to Blackbox Exporter; the requirer
// collects them.
package blackbox

import (
	"encoding/json"

	"github.com/juju/errors"

	"github.com/canonical/cos-registration-server-k8s-operator/core/topology"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation"
)

// EndpointName is the charm endpoint related to Blackbox Exporter.
const EndpointName = "probes"

// Databag keys written by the provider.
const (
	MetadataKey = "scrape_metadata"
	ProbesKey   = "scrape_probes"
	ModulesKey  = "scrape_modules"
)

// StaticConfig is a list of probe targets sharing labels.
type StaticConfig struct {
	Targets []string          `json:"targets"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// Probe is a Prometheus scrape job going through Blackbox Exporter.
type Probe struct {
	JobName       string              `json:"job_name"`
	MetricsPath   string              `json:"metrics_path,omitempty"`
	Params        map[string][]string `json:"params,omitempty"`
	StaticConfigs []StaticConfig      `json:"static_configs"`
}

// Modules maps module names to Blackbox Exporter module configurations.
type Modules map[string]interface{}

// Prefix returns the string prepended to job and module names so they do
// not clash with those of other applications.
func Prefix(t topology.Topology) string {
	return "juju_" + t.Identifier() + "_"
}

// Provider publishes probes on the probes endpoint.
type Provider struct {
	endpoint relation.Endpoint
	topology topology.Topology
}

// NewProvider returns a Provider for the application described by t.
func NewProvider(backend relation.Backend, t topology.Topology) *Provider {
	return &Provider{
		endpoint: relation.NewEndpoint(backend, EndpointName),
		topology: t,
	}
}

// SetProbes publishes probes and custom modules to every relation. Job
// names and custom module names get the topology prefix, and probes using
// a custom module refer to it by its prefixed name. Non-leaders skip.
func (p *Provider) SetProbes(probes []Probe, modules Modules) error {
	related, err := p.endpoint.Related()
	if err != nil || !related {
		return errors.Trace(err)
	}
	prefix := Prefix(p.topology)
	prefixedModules := make(Modules, len(modules))
	for name, module := range modules {
		prefixedModules[prefix+name] = module
	}
	prefixedProbes := make([]Probe, 0, len(probes))
	for _, probe := range probes {
		prefixedProbes = append(prefixedProbes, prefixProbe(prefix, probe, modules))
	}

	settings := make(map[string]string)
	for key, value := range map[string]interface{}{
		MetadataKey: p.topology.AsMap(),
		ProbesKey:   prefixedProbes,
		ModulesKey:  prefixedModules,
	} {
		data, err := json.Marshal(value)
		if err != nil {
			return errors.Annotatef(err, "encoding %s", key)
		}
		settings[key] = string(data)
	}
	_, err = p.endpoint.SetAppData(settings)
	return errors.Trace(err)
}

func prefixProbe(prefix string, probe Probe, modules Modules) Probe {
	out := probe
	out.JobName = prefix + probe.JobName
	if len(probe.Params) == 0 {
		return out
	}
	out.Params = make(map[string][]string, len(probe.Params))
	for key, values := range probe.Params {
		values = append([]string(nil), values...)
		if key == "module" {
			for i, name := range values {
				if _, ok := modules[name]; ok {
					values[i] = prefix + name
				}
			}
		}
		out.Params[key] = values
	}
	return out
}

// Requirer reads the probes published by related providers.
type Requirer struct {
	endpoint relation.Endpoint
}

// NewRequirer returns a Requirer on endpoint.
func NewRequirer(backend relation.Backend, endpoint string) *Requirer {
	return &Requirer{endpoint: relation.NewEndpoint(backend, endpoint)}
}

// Probes returns the probes of every related provider.
func (r *Requirer) Probes() ([]Probe, error) {
	var all []Probe
	err := r.eachRelation(func(data map[string]string) error {
		var probes []Probe
		if raw := data[ProbesKey]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &probes); err != nil {
				return errors.Annotatef(err, "decoding %s", ProbesKey)
			}
		}
		all = append(all, probes...)
		return nil
	})
	return all, errors.Trace(err)
}

// Modules returns the modules of every related provider.
func (r *Requirer) Modules() (Modules, error) {
	all := make(Modules)
	err := r.eachRelation(func(data map[string]string) error {
		var modules Modules
		if raw := data[ModulesKey]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &modules); err != nil {
				return errors.Annotatef(err, "decoding %s", ModulesKey)
			}
		}
		for name, module := range modules {
			all[name] = module
		}
		return nil
	})
	return all, errors.Trace(err)
}

func (r *Requirer) eachRelation(f func(map[string]string) error) error {
	ids, err := r.endpoint.IDs()
	if err != nil {
		return errors.Trace(err)
	}
	for _, id := range ids {
		data, err := r.endpoint.RemoteAppData(id)
		if err != nil {
			return errors.Trace(err)
		}
		if err := f(data); err != nil {
			return errors.Annotatef(err, "relation %s", id)
		}
	}
	return nil
}
