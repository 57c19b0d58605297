// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package storedstatetesting provides an in-memory charm state store.
package storedstatetesting

// Store keeps charm state in a map. It implements storedstate.Backend.
type Store struct {
	Values map[string]string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{Values: make(map[string]string)}
}

// StateGet is part of storedstate.Backend.
func (b *Store) StateGet(key string) (string, bool, error) {
	v, ok := b.Values[key]
	return v, ok, nil
}

// StateSet is part of storedstate.Backend.
func (b *Store) StateSet(values map[string]string) error {
	for k, v := range values {
		b.Values[k] = v
	}
	return nil
}

// StateDelete is part of storedstate.Backend.
func (b *Store) StateDelete(keys ...string) error {
	for _, k := range keys {
		delete(b.Values, k)
	}
	return nil
}
