// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package storedstate persists small JSON values between hook dispatches
// using the Juju charm state tools.
package storedstate

import (
	"encoding/json"

	"github.com/juju/errors"
)

// Backend is the charm state store, implemented by the hook tool client.
type Backend interface {
	StateGet(key string) (string, bool, error)
	StateSet(values map[string]string) error
	StateDelete(keys ...string) error
}

// State is a namespaced view of the charm state. Values read during a
// dispatch are cached; writes go straight to the backend.
type State struct {
	backend   Backend
	namespace string
	cache     map[string]string
}

// New returns a State whose keys are prefixed with namespace.
func New(backend Backend, namespace string) *State {
	return &State{
		backend:   backend,
		namespace: namespace,
		cache:     make(map[string]string),
	}
}

func (s *State) key(name string) string {
	return s.namespace + "." + name
}

// Get decodes the value stored under name into v. It returns false when
// nothing is stored.
func (s *State) Get(name string, v interface{}) (bool, error) {
	key := s.key(name)
	raw, ok := s.cache[key]
	if !ok {
		var (
			found bool
			err   error
		)
		raw, found, err = s.backend.StateGet(key)
		if err != nil {
			return false, errors.Annotatef(err, "reading %q", key)
		}
		if !found {
			return false, nil
		}
		s.cache[key] = raw
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, errors.Annotatef(err, "decoding %q", key)
	}
	return true, nil
}

// GetString is a convenience for string values; missing keys yield "".
func (s *State) GetString(name string) (string, error) {
	var value string
	_, err := s.Get(name, &value)
	return value, errors.Trace(err)
}

// Set stores v under name.
func (s *State) Set(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Annotatef(err, "encoding %q", name)
	}
	key := s.key(name)
	if err := s.backend.StateSet(map[string]string{key: string(data)}); err != nil {
		return errors.Annotatef(err, "writing %q", key)
	}
	s.cache[key] = string(data)
	return nil
}

// Delete removes the value stored under name.
func (s *State) Delete(name string) error {
	key := s.key(name)
	delete(s.cache, key)
	return errors.Annotatef(s.backend.StateDelete(key), "deleting %q", key)
}
