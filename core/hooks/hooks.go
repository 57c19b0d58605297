// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hooks defines the hook kinds the charm reacts to and the parsing
// of the dispatch path Juju hands to the charm's dispatch script.
package hooks

import (
	"strings"

	"github.com/juju/errors"
)

// Kind enumerates the different kinds of hooks that exist.
type Kind string

const (
	// None of these hooks are ever associated with a relation; each of them
	// represents a change to the state of the unit as a whole.
	Install       Kind = "install"
	Start         Kind = "start"
	ConfigChanged Kind = "config-changed"
	UpgradeCharm  Kind = "upgrade-charm"
	UpdateStatus  Kind = "update-status"
	LeaderElected Kind = "leader-elected"
	Stop          Kind = "stop"
	Remove        Kind = "remove"

	// These hooks require an associated relation, and the name of the
	// relation endpoint is prefixed to the hook name.
	RelationCreated  Kind = "relation-created"
	RelationJoined   Kind = "relation-joined"
	RelationChanged  Kind = "relation-changed"
	RelationDeparted Kind = "relation-departed"
	RelationBroken   Kind = "relation-broken"

	// These hooks require an associated storage. The hook name is prefixed
	// with the storage name.
	StorageAttached  Kind = "storage-attached"
	StorageDetaching Kind = "storage-detaching"

	// PebbleReady is fired once the Pebble daemon of a workload container
	// answers. The hook name is prefixed with the container name.
	PebbleReady Kind = "pebble-ready"

	// Action is not a hook; it marks an action dispatch.
	Action Kind = "action"
)

var unitKinds = []Kind{
	Install, Start, ConfigChanged, UpgradeCharm, UpdateStatus, LeaderElected, Stop, Remove,
}

var relationKinds = []Kind{
	RelationCreated, RelationJoined, RelationChanged, RelationDeparted, RelationBroken,
}

var storageKinds = []Kind{StorageAttached, StorageDetaching}

// IsRelation returns whether the Kind represents a relation hook.
func (kind Kind) IsRelation() bool {
	for _, k := range relationKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// IsStorage returns whether the Kind represents a storage hook.
func (kind Kind) IsStorage() bool {
	for _, k := range storageKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Event identifies a single dispatch of the charm.
type Event struct {
	Kind Kind

	// Relation is the relation endpoint name for relation hooks.
	Relation string

	// Storage is the storage name for storage hooks.
	Storage string

	// Container is the workload container name for pebble-ready hooks.
	Container string

	// Action is the action name when Kind is Action.
	Action string
}

// Name returns the hook (or action) name as Juju knows it.
func (e Event) Name() string {
	switch {
	case e.Kind == Action:
		return e.Action
	case e.Kind.IsRelation():
		return e.Relation + "-" + string(e.Kind)
	case e.Kind.IsStorage():
		return e.Storage + "-" + string(e.Kind)
	case e.Kind == PebbleReady:
		return e.Container + "-" + string(e.Kind)
	}
	return string(e.Kind)
}

// Is reports whether the event is a relation hook of the given kind on the
// given endpoint.
func (e Event) Is(endpoint string, kind Kind) bool {
	return e.Kind == kind && e.Relation == endpoint
}

// ParseDispatchPath turns the value of JUJU_DISPATCH_PATH into an Event.
// Valid paths look like "hooks/<hook-name>" or "actions/<action-name>".
func ParseDispatchPath(path string) (Event, error) {
	dir, name, ok := strings.Cut(strings.Trim(path, "/"), "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return Event{}, errors.NotValidf("dispatch path %q", path)
	}
	switch dir {
	case "actions":
		return Event{Kind: Action, Action: name}, nil
	case "hooks":
		return ParseHookName(name)
	}
	return Event{}, errors.NotValidf("dispatch path %q", path)
}

// ParseHookName returns the Event described by a hook name.
func ParseHookName(name string) (Event, error) {
	for _, k := range unitKinds {
		if name == string(k) {
			return Event{Kind: k}, nil
		}
	}
	for _, k := range relationKinds {
		if prefix, ok := strings.CutSuffix(name, "-"+string(k)); ok && prefix != "" {
			return Event{Kind: k, Relation: prefix}, nil
		}
	}
	for _, k := range storageKinds {
		if prefix, ok := strings.CutSuffix(name, "-"+string(k)); ok && prefix != "" {
			return Event{Kind: k, Storage: prefix}, nil
		}
	}
	if prefix, ok := strings.CutSuffix(name, "-"+string(PebbleReady)); ok && prefix != "" {
		return Event{Kind: PebbleReady, Container: prefix}, nil
	}
	return Event{}, errors.NotValidf("hook name %q", name)
}
