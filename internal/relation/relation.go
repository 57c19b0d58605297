// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package relation holds what the relation libraries of the charm share:
// access to relation databags through the hook tools.
package relation

import (
	"github.com/juju/errors"
)

// Backend reads and writes relation data. It is implemented by
// hooktool.Client.
type Backend interface {
	IsLeader() (bool, error)
	RelationIDs(endpoint string) ([]string, error)
	RelationList(id string) ([]string, error)
	RelationRemoteApp(id string) (string, error)
	RelationGet(id, entity string, app bool) (map[string]string, error)
	RelationSet(id string, app bool, settings map[string]string) error
}

// Endpoint is a relation endpoint of the local application.
type Endpoint struct {
	backend Backend
	name    string
}

// NewEndpoint returns the named endpoint.
func NewEndpoint(backend Backend, name string) Endpoint {
	return Endpoint{backend: backend, name: name}
}

// Name returns the endpoint name.
func (e Endpoint) Name() string {
	return e.name
}

// IDs returns the ids of the relations established on the endpoint.
func (e Endpoint) IDs() ([]string, error) {
	ids, err := e.backend.RelationIDs(e.name)
	return ids, errors.Annotatef(err, "listing %q relations", e.name)
}

// Related reports whether at least one relation exists on the endpoint.
func (e Endpoint) Related() (bool, error) {
	ids, err := e.IDs()
	if err != nil {
		return false, errors.Trace(err)
	}
	return len(ids) > 0, nil
}

// IsLeader reports whether the local unit leads the application.
func (e Endpoint) IsLeader() (bool, error) {
	return e.backend.IsLeader()
}

// RemoteAppData returns the remote application databag of a relation.
func (e Endpoint) RemoteAppData(id string) (map[string]string, error) {
	app, err := e.backend.RelationRemoteApp(id)
	if err != nil {
		return nil, errors.Annotatef(err, "finding remote application of %s", id)
	}
	if app == "" {
		return map[string]string{}, nil
	}
	data, err := e.backend.RelationGet(id, app, true)
	return data, errors.Annotatef(err, "reading %s data of %s", app, id)
}

// RemoteUnitsData returns the databags of the remote units of a relation,
// keyed by unit name.
func (e Endpoint) RemoteUnitsData(id string) (map[string]map[string]string, error) {
	units, err := e.backend.RelationList(id)
	if err != nil {
		return nil, errors.Annotatef(err, "listing units of %s", id)
	}
	out := make(map[string]map[string]string, len(units))
	for _, unit := range units {
		data, err := e.backend.RelationGet(id, unit, false)
		if err != nil {
			return nil, errors.Annotatef(err, "reading %s data of %s", unit, id)
		}
		out[unit] = data
	}
	return out, nil
}

// SetAppData writes settings into the local application databag of every
// relation on the endpoint. Only the leader may do so; on other units it is
// a no-op reporting false.
func (e Endpoint) SetAppData(settings map[string]string) (bool, error) {
	leader, err := e.backend.IsLeader()
	if err != nil {
		return false, errors.Trace(err)
	}
	if !leader {
		return false, nil
	}
	ids, err := e.IDs()
	if err != nil {
		return false, errors.Trace(err)
	}
	for _, id := range ids {
		if err := e.SetAppDataOn(id, settings); err != nil {
			return false, errors.Trace(err)
		}
	}
	return true, nil
}

// SetAppDataOn writes settings into the local application databag of one
// relation. The caller is responsible for checking leadership.
func (e Endpoint) SetAppDataOn(id string, settings map[string]string) error {
	return errors.Annotatef(e.backend.RelationSet(id, true, settings), "updating %s", id)
}
