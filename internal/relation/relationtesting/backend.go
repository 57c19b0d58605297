// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package relationtesting provides an in-memory relation backend for
// testing the relation libraries and the operator.
package relationtesting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"
)

// Relation is an established relation in the fake model.
type Relation struct {
	ID        string
	Endpoint  string
	RemoteApp string
	// RemoteAppData is the databag of the remote application.
	RemoteAppData map[string]string
	// RemoteUnits maps remote unit names to their databags.
	RemoteUnits map[string]map[string]string
	// LocalAppData is what the charm wrote for its application.
	LocalAppData map[string]string
}

// Backend is an in-memory relation.Backend.
type Backend struct {
	Leader    bool
	LocalApp  string
	Relations map[string]*Relation
	nextID    int
}

// NewBackend returns an empty model for the local application.
func NewBackend(localApp string, leader bool) *Backend {
	return &Backend{
		Leader:    leader,
		LocalApp:  localApp,
		Relations: make(map[string]*Relation),
	}
}

// AddRelation establishes a relation between endpoint and remoteApp and
// returns it.
func (b *Backend) AddRelation(endpoint, remoteApp string) *Relation {
	id := fmt.Sprintf("%s:%d", endpoint, b.nextID)
	b.nextID++
	rel := &Relation{
		ID:            id,
		Endpoint:      endpoint,
		RemoteApp:     remoteApp,
		RemoteAppData: make(map[string]string),
		RemoteUnits:   make(map[string]map[string]string),
		LocalAppData:  make(map[string]string),
	}
	b.Relations[id] = rel
	return rel
}

// Relation returns the first relation established on endpoint.
func (b *Backend) Relation(endpoint string) *Relation {
	ids, _ := b.RelationIDs(endpoint)
	if len(ids) == 0 {
		return nil
	}
	return b.Relations[ids[0]]
}

// IsLeader is part of relation.Backend.
func (b *Backend) IsLeader() (bool, error) {
	return b.Leader, nil
}

// RelationIDs is part of relation.Backend.
func (b *Backend) RelationIDs(endpoint string) ([]string, error) {
	var ids []string
	for id, rel := range b.Relations {
		if rel.Endpoint == endpoint {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *Backend) relation(id string) (*Relation, error) {
	rel, ok := b.Relations[id]
	if !ok {
		return nil, errors.NotFoundf("relation %q", id)
	}
	return rel, nil
}

// RelationList is part of relation.Backend.
func (b *Backend) RelationList(id string) ([]string, error) {
	rel, err := b.relation(id)
	if err != nil {
		return nil, err
	}
	var units []string
	for unit := range rel.RemoteUnits {
		units = append(units, unit)
	}
	sort.Strings(units)
	return units, nil
}

// RelationRemoteApp is part of relation.Backend.
func (b *Backend) RelationRemoteApp(id string) (string, error) {
	rel, err := b.relation(id)
	if err != nil {
		return "", err
	}
	return rel.RemoteApp, nil
}

// RelationGet is part of relation.Backend.
func (b *Backend) RelationGet(id, entity string, app bool) (map[string]string, error) {
	rel, err := b.relation(id)
	if err != nil {
		return nil, err
	}
	var data map[string]string
	switch {
	case app && entity == rel.RemoteApp:
		data = rel.RemoteAppData
	case app && entity == b.LocalApp:
		data = rel.LocalAppData
	case !app && strings.HasPrefix(entity, rel.RemoteApp+"/"):
		data = rel.RemoteUnits[entity]
	default:
		return nil, errors.NotFoundf("%q in relation %q", entity, id)
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out, nil
}

// RelationSet is part of relation.Backend.
func (b *Backend) RelationSet(id string, app bool, settings map[string]string) error {
	rel, err := b.relation(id)
	if err != nil {
		return err
	}
	if !app {
		return errors.NotSupportedf("unit databags")
	}
	if !b.Leader {
		return errors.Forbiddenf("application data on a non-leader unit")
	}
	for k, v := range settings {
		if v == "" {
			delete(rel.LocalAppData, k)
			continue
		}
		rel.LocalAppData[k] = v
	}
	return nil
}
