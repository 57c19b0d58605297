// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package bundle

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/names/v5"
)

const (
	// DefaultApplication is the application name used by the overlay.
	DefaultApplication = "cos-registration-server"
	// DefaultCharm is the published charm.
	DefaultCharm = "cos-registration-server-k8s"
	// DefaultChannel is the channel the overlay deploys from.
	DefaultChannel = "latest/edge"
	// ImageResource is the charm's OCI image resource.
	ImageResource = "cos-registration-server-image"
)

// OverlayParams configures the COS overlay.
type OverlayParams struct {
	Application string
	Charm       string
	Channel     string
	// Image is the OCI image of the registration server.
	Image string
	// BlackboxApp, when set, names the blackbox exporter to send probes
	// to. COS Lite does not deploy one.
	BlackboxApp string
	// TracingApp, when set, names the application receiving the charm's
	// traces. COS Lite does not deploy one.
	TracingApp string
}

// Validate checks that no parameter is empty.
func (p OverlayParams) Validate() error {
	for name, value := range map[string]string{
		"application": p.Application,
		"charm":       p.Charm,
		"channel":     p.Channel,
		"image":       p.Image,
	} {
		if value == "" {
			return errors.NotValidf("empty %s", name)
		}
	}
	for _, app := range []string{p.BlackboxApp, p.TracingApp} {
		if app != "" && !names.IsValidApplication(app) {
			return errors.NotValidf("application name %q", app)
		}
	}
	return nil
}

// COSOverlay returns the overlay relating the registration server to the
// COS Lite applications, and to the optional blackbox exporter and tracing
// applications.
func COSOverlay(p OverlayParams) (*Data, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	app := p.Application
	overlay := &Data{
		Applications: map[string]*Application{
			app: {
				Charm:     p.Charm,
				Channel:   p.Channel,
				Scale:     1,
				Trust:     true,
				Resources: map[string]string{ImageResource: p.Image},
			},
		},
		Relations: [][]string{
			{app + ":ingress", "traefik:traefik-route"},
			{app + ":catalogue", "catalogue:catalogue"},
			{app + ":grafana-dashboard", "grafana:grafana-dashboard"},
			{app + ":grafana-dashboard-devices", "grafana:grafana-dashboard"},
			{app + ":logging", "loki:logging"},
		},
	}
	if p.BlackboxApp != "" {
		overlay.Relations = append(overlay.Relations, []string{app + ":probes", p.BlackboxApp + ":probes"})
	}
	if p.TracingApp != "" {
		overlay.Relations = append(overlay.Relations, []string{app + ":tracing", p.TracingApp + ":tracing"})
	}
	return overlay, nil
}

// ProxyPath is the path Traefik serves the application under.
func ProxyPath(model, app string) string {
	return fmt.Sprintf("/%s-%s/", model, app)
}

// ProxyURL is the URL of the application behind the COS proxy.
func ProxyURL(host, model, app string) string {
	return "http://" + host + ProxyPath(model, app)
}
