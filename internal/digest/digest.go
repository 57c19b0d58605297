// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package digest computes the MD5 fingerprints the charm uses to notice
// that data fetched from the registration server changed.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"
)

// File feeds the content of the file at path into h.
func File(path string, h hash.Hash) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()
	_, err = io.Copy(h, f)
	return errors.Annotatef(err, "hashing %q", path)
}

// Dir returns the hex MD5 of a directory: entry names in case-insensitive
// order, each followed by the content of regular files. Subdirectories
// contribute their name only.
func Dir(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", errors.Trace(err)
	}
	if !info.IsDir() {
		return "", errors.NewNotValid(nil, fmt.Sprintf("%q is not a directory", dir))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Trace(err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})
	h := md5.New()
	for _, entry := range entries {
		_, _ = io.WriteString(h, entry.Name())
		if entry.Type().IsRegular() {
			if err := File(filepath.Join(dir, entry.Name()), h); err != nil {
				return "", errors.Trace(err)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Map returns the hex MD5 of the JSON encoding of v. Map keys are encoded
// in sorted order, so equal maps hash equally.
func Map(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Annotate(err, "encoding value to hash")
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// List returns the hex MD5 of a list. Order matters.
func List[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	return Map(items)
}
