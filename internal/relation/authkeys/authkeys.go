// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package authkeys implements both sides of the auth_devices_keys
// interface, which shares the public SSH keys of registered devices with
// the services devices push data to.
package authkeys

import (
	"encoding/json"

	"github.com/juju/errors"

	"github.com/canonical/cos-registration-server-k8s-operator/internal/registry"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/storedstate"
)

const (
	// EndpointName is the charm endpoint offering the keys.
	EndpointName = "auth-devices-keys"

	// DataKey is the application databag key holding the keys.
	DataKey = "auth_devices_keys"

	keysKey = "keys"
)

// Provider publishes the device keys known to the registration server.
type Provider struct {
	endpoint relation.Endpoint
	state    *storedstate.State
}

// NewProvider returns a Provider on endpoint, persisting the last key list
// in state.
func NewProvider(backend relation.Backend, state *storedstate.State, endpoint string) *Provider {
	return &Provider{
		endpoint: relation.NewEndpoint(backend, endpoint),
		state:    state,
	}
}

// Keys returns the last stored key list.
func (p *Provider) Keys() ([]registry.AuthorizedKey, error) {
	var keys []registry.AuthorizedKey
	_, err := p.state.Get(keysKey, &keys)
	return keys, errors.Trace(err)
}

// Update stores keys and publishes them. An empty list leaves the stored
// keys untouched, so a server that is still starting up does not wipe
// them.
func (p *Provider) Update(keys []registry.AuthorizedKey) error {
	if len(keys) == 0 {
		return nil
	}
	if err := p.state.Set(keysKey, keys); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(p.Publish())
}

// Publish writes the stored keys to every relation. Non-leaders skip.
func (p *Provider) Publish() error {
	keys, err := p.Keys()
	if err != nil {
		return errors.Trace(err)
	}
	if keys == nil {
		keys = []registry.AuthorizedKey{}
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return errors.Annotate(err, "encoding device keys")
	}
	_, err = p.endpoint.SetAppData(map[string]string{DataKey: string(data)})
	return errors.Trace(err)
}

// Consumer receives device keys from a provider.
type Consumer struct {
	endpoint relation.Endpoint
	state    *storedstate.State
}

// NewConsumer returns a Consumer on endpoint.
func NewConsumer(backend relation.Backend, state *storedstate.State, endpoint string) *Consumer {
	return &Consumer{
		endpoint: relation.NewEndpoint(backend, endpoint),
		state:    state,
	}
}

// Refresh reads the keys published on relation id and reports whether they
// differ from the stored ones. Only the leader tracks keys.
func (c *Consumer) Refresh(id string) (bool, error) {
	leader, err := c.endpoint.IsLeader()
	if err != nil || !leader {
		return false, errors.Trace(err)
	}
	data, err := c.endpoint.RemoteAppData(id)
	if err != nil {
		return false, errors.Trace(err)
	}
	raw := data[DataKey]
	if raw == "" {
		return false, nil
	}
	var keys []registry.AuthorizedKey
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return false, errors.Annotatef(err, "decoding %s of %s", DataKey, id)
	}
	previous, err := c.Keys()
	if err != nil {
		return false, errors.Trace(err)
	}
	if equalKeys(previous, keys) {
		return false, nil
	}
	return true, errors.Trace(c.state.Set(keysKey, keys))
}

// Keys returns the last keys received.
func (c *Consumer) Keys() ([]registry.AuthorizedKey, error) {
	var keys []registry.AuthorizedKey
	_, err := c.state.Get(keysKey, &keys)
	return keys, errors.Trace(err)
}

func equalKeys(a, b []registry.AuthorizedKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
