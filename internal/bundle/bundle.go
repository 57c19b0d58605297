// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package bundle renders the overlay that adds the registration server to
// a COS Lite deployment.
package bundle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/names/v5"
	"gopkg.in/yaml.v2"
)

// Data is a bundle or overlay.
type Data struct {
	Applications map[string]*Application `yaml:"applications"`
	// Relations lists pairs of "application[:endpoint]".
	Relations [][]string `yaml:"relations,omitempty"`
}

// Application is an application deployed by a bundle.
type Application struct {
	Charm     string                 `yaml:"charm"`
	Channel   string                 `yaml:"channel,omitempty"`
	Scale     int                    `yaml:"scale,omitempty"`
	Trust     bool                   `yaml:"trust,omitempty"`
	Resources map[string]string      `yaml:"resources,omitempty"`
	Options   map[string]interface{} `yaml:"options,omitempty"`
}

// Verify checks that every application and relation is well formed.
func (d *Data) Verify() error {
	var errs []string
	if len(d.Applications) == 0 {
		errs = append(errs, "no applications")
	}
	appNames := make([]string, 0, len(d.Applications))
	for name := range d.Applications {
		appNames = append(appNames, name)
	}
	sort.Strings(appNames)
	for _, name := range appNames {
		app := d.Applications[name]
		if !names.IsValidApplication(name) {
			errs = append(errs, fmt.Sprintf("invalid application name %q", name))
		}
		if app == nil || app.Charm == "" {
			errs = append(errs, fmt.Sprintf("application %q has no charm", name))
		}
	}
	for i, relation := range d.Relations {
		if len(relation) != 2 {
			errs = append(errs, fmt.Sprintf("relation %d has %d endpoints", i, len(relation)))
			continue
		}
		for _, endpoint := range relation {
			app, _, _ := strings.Cut(endpoint, ":")
			if !names.IsValidApplication(app) {
				errs = append(errs, fmt.Sprintf("invalid endpoint %q in relation %d", endpoint, i))
			}
		}
	}
	if len(errs) > 0 {
		return errors.NotValidf("bundle: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Render returns the YAML form of the bundle.
func Render(d *Data) ([]byte, error) {
	if err := d.Verify(); err != nil {
		return nil, errors.Trace(err)
	}
	out, err := yaml.Marshal(d)
	return out, errors.Annotate(err, "encoding bundle")
}

// Parse reads and verifies a bundle.
func Parse(data []byte) (*Data, error) {
	var d Data
	if err := yaml.UnmarshalStrict(data, &d); err != nil {
		return nil, errors.Annotate(err, "parsing bundle")
	}
	if err := d.Verify(); err != nil {
		return nil, errors.Trace(err)
	}
	return &d, nil
}
