// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package topology describes where a unit lives in a Juju deployment, in
// the shape the observability charms expect it.
package topology

import "fmt"

// Topology identifies a unit by model, application and charm.
type Topology struct {
	Model       string
	ModelUUID   string
	Application string
	Unit        string
	CharmName   string
}

// Identifier returns the string used to namespace scrape jobs and modules.
func (t Topology) Identifier() string {
	return fmt.Sprintf("%s_%s_%s", t.Model, t.ModelUUID, t.Application)
}

// AsMap returns the topology as relation data, omitting unset fields.
func (t Topology) AsMap() map[string]string {
	out := make(map[string]string)
	for k, v := range map[string]string{
		"model":       t.Model,
		"model_uuid":  t.ModelUUID,
		"application": t.Application,
		"unit":        t.Unit,
		"charm_name":  t.CharmName,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// LokiLabels returns the labels attached to every log line forwarded to
// Loki.
func (t Topology) LokiLabels() map[string]string {
	labels := map[string]string{
		"product": "Juju",
	}
	for k, v := range map[string]string{
		"juju_model":       t.Model,
		"juju_model_uuid":  t.ModelUUID,
		"juju_application": t.Application,
		"juju_unit":        t.Unit,
		"charm":            t.CharmName,
	} {
		if v != "" {
			labels[k] = v
		}
	}
	return labels
}
