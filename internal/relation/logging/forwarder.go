// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package logging forwards workload logs to Loki. Each remote unit of the
// loki_push_api relation publishes a push endpoint; every endpoint becomes
// a Pebble log target of the workload container.
package logging

import (
	"encoding/json"
	"reflect"
	"sort"

	"github.com/canonical/pebble/internals/plan"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/canonical/cos-registration-server-k8s-operator/core/topology"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation"
)

var logger = loggo.GetLogger("cos-registration-server.relation.logging")

const (
	// EndpointName is the charm endpoint related to Loki.
	EndpointName = "logging"

	endpointKey = "endpoint"
)

// Workload is the container whose logs are forwarded.
type Workload interface {
	CanConnect() bool
	PlanLogTargets() (map[string]*plan.LogTarget, error)
	AddLayer(label string, layer *plan.Layer, combine bool) error
}

// Forwarder keeps the Pebble log targets of a container in line with the
// related Loki units.
type Forwarder struct {
	endpoint relation.Endpoint
	topology topology.Topology
	workload Workload
}

// NewForwarder returns a Forwarder for workload.
func NewForwarder(backend relation.Backend, t topology.Topology, workload Workload) *Forwarder {
	return &Forwarder{
		endpoint: relation.NewEndpoint(backend, EndpointName),
		topology: t,
		workload: workload,
	}
}

// LayerLabel returns the label of the Pebble layer holding the log targets.
func (f *Forwarder) LayerLabel() string {
	return f.topology.Application + "-log-forwarding"
}

// Endpoints returns the Loki push URLs published by the remote units, keyed
// by unit name.
func (f *Forwarder) Endpoints() (map[string]string, error) {
	ids, err := f.endpoint.IDs()
	if err != nil {
		return nil, errors.Trace(err)
	}
	endpoints := make(map[string]string)
	for _, id := range ids {
		units, err := f.endpoint.RemoteUnitsData(id)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for unit, data := range units {
			raw := data[endpointKey]
			if raw == "" {
				continue
			}
			var endpoint struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal([]byte(raw), &endpoint); err != nil {
				logger.Warningf("ignoring invalid endpoint of %s: %v", unit, err)
				continue
			}
			if endpoint.URL != "" {
				endpoints[unit] = endpoint.URL
			}
		}
	}
	return endpoints, nil
}

// Update adds a log target per Loki endpoint and disables targets whose
// endpoint went away. Nothing happens while the container is unreachable.
func (f *Forwarder) Update() error {
	if !f.workload.CanConnect() {
		logger.Debugf("container not reachable, not updating log forwarding")
		return nil
	}
	endpoints, err := f.Endpoints()
	if err != nil {
		return errors.Trace(err)
	}
	current, err := f.workload.PlanLogTargets()
	if err != nil {
		return errors.Trace(err)
	}

	targets := make(map[string]*plan.LogTarget)
	for unit, url := range endpoints {
		targets[unit] = f.target(unit, url, true)
	}
	for name, target := range current {
		if _, ok := endpoints[name]; !ok {
			targets[name] = f.target(name, target.Location, false)
		}
	}
	if len(targets) == 0 || targetsEqual(current, targets) {
		return nil
	}

	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)
	logger.Debugf("forwarding logs to %v", names)
	layer := &plan.Layer{
		Summary:     "Log forwarding layer",
		Description: "Forwards workload logs to Loki.",
		LogTargets:  targets,
	}
	return errors.Trace(f.workload.AddLayer(f.LayerLabel(), layer, true))
}

func (f *Forwarder) target(name, location string, enable bool) *plan.LogTarget {
	target := &plan.LogTarget{
		Name:     name,
		Type:     plan.LokiTarget,
		Location: location,
		Services: []string{"-all"},
		Override: plan.ReplaceOverride,
	}
	if enable {
		target.Services = []string{"all"}
		target.Labels = f.topology.LokiLabels()
	}
	return target
}

func targetsEqual(current, desired map[string]*plan.LogTarget) bool {
	if len(current) != len(desired) {
		return false
	}
	for name, want := range desired {
		got, ok := current[name]
		if !ok {
			return false
		}
		if got.Type != want.Type || got.Location != want.Location ||
			!reflect.DeepEqual(got.Services, want.Services) ||
			!equalLabels(got.Labels, want.Labels) {
			return false
		}
	}
	return true
}

func equalLabels(a, b map[string]string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
