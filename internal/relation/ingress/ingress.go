// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ingress implements the requirer side of the traefik_route
// interface: the charm hands Traefik a raw routing configuration and reads
// back the external host Traefik serves on.
package ingress

import (
	"fmt"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"

	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation"
)

// EndpointName is the charm endpoint related to traefik-route.
const EndpointName = "ingress"

// Requirer reads and writes the traefik_route relation.
type Requirer struct {
	endpoint relation.Endpoint
}

// NewRequirer returns a Requirer on the ingress endpoint.
func NewRequirer(backend relation.Backend) *Requirer {
	return &Requirer{endpoint: relation.NewEndpoint(backend, EndpointName)}
}

func (r *Requirer) relationID() (string, bool, error) {
	ids, err := r.endpoint.IDs()
	if err != nil {
		return "", false, errors.Trace(err)
	}
	if len(ids) == 0 {
		return "", false, nil
	}
	return ids[0], true, nil
}

// IsRelated reports whether an ingress relation is established.
func (r *Requirer) IsRelated() (bool, error) {
	_, ok, err := r.relationID()
	return ok, errors.Trace(err)
}

// IsReady reports whether an ingress relation is established and Traefik
// has told us its external host.
func (r *Requirer) IsReady() (bool, error) {
	host, err := r.ExternalHost()
	return host != "", errors.Trace(err)
}

func (r *Requirer) remoteValue(key string) (string, error) {
	id, ok, err := r.relationID()
	if err != nil || !ok {
		return "", errors.Trace(err)
	}
	data, err := r.endpoint.RemoteAppData(id)
	if err != nil {
		return "", errors.Trace(err)
	}
	return data[key], nil
}

// ExternalHost returns the host Traefik is reachable on, or "" when it is
// not known yet.
func (r *Requirer) ExternalHost() (string, error) {
	return r.remoteValue("external_host")
}

// Scheme returns the scheme Traefik serves, defaulting to http.
func (r *Requirer) Scheme() (string, error) {
	scheme, err := r.remoteValue("scheme")
	if err != nil {
		return "", errors.Trace(err)
	}
	if scheme == "" {
		scheme = "http"
	}
	return scheme, nil
}

// Submit publishes the routing configuration. Only the leader writes; on
// other units nothing happens.
func (r *Requirer) Submit(config Config) error {
	id, ok, err := r.relationID()
	if err != nil || !ok {
		return errors.Trace(err)
	}
	leader, err := r.endpoint.IsLeader()
	if err != nil || !leader {
		return errors.Trace(err)
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.Annotate(err, "encoding traefik configuration")
	}
	return errors.Trace(r.endpoint.SetAppDataOn(id, map[string]string{"config": string(data)}))
}

// Config is a Traefik dynamic configuration.
type Config struct {
	HTTP HTTPConfig `yaml:"http"`
}

// HTTPConfig holds the HTTP routers and services.
type HTTPConfig struct {
	Routers  map[string]Router  `yaml:"routers"`
	Services map[string]Service `yaml:"services"`
}

// Router matches requests and sends them to a service.
type Router struct {
	EntryPoints []string `yaml:"entryPoints"`
	Rule        string   `yaml:"rule"`
	Service     string   `yaml:"service"`
	TLS         *TLS     `yaml:"tls,omitempty"`
}

// TLS lists the certificate domains of a router.
type TLS struct {
	Domains []Domain `yaml:"domains"`
}

// Domain is a certificate domain.
type Domain struct {
	Main string   `yaml:"main"`
	Sans []string `yaml:"sans"`
}

// Service balances requests over servers.
type Service struct {
	LoadBalancer LoadBalancer `yaml:"loadBalancer"`
}

// LoadBalancer lists the backend servers.
type LoadBalancer struct {
	Servers []Server `yaml:"servers"`
}

// Server is a backend URL.
type Server struct {
	URL string `yaml:"url"`
}

// PathPrefix returns the ingress path of an application in a model,
// without the leading slash.
func PathPrefix(model, app string) string {
	return fmt.Sprintf("%s-%s", model, app)
}

// RouteConfig returns the configuration routing /<model>-<app> on both the
// web and websecure entrypoints to internalURL.
func RouteConfig(model, app, externalHost, internalURL string) Config {
	prefix := PathPrefix(model, app)
	rule := fmt.Sprintf("PathPrefix(`/%s`)", prefix)
	service := fmt.Sprintf("juju-%s-%s-service", model, app)
	router := fmt.Sprintf("juju-%s-%s-router", model, app)
	return Config{
		HTTP: HTTPConfig{
			Routers: map[string]Router{
				router: {
					EntryPoints: []string{"web"},
					Rule:        rule,
					Service:     service,
				},
				router + "-tls": {
					EntryPoints: []string{"websecure"},
					Rule:        rule,
					Service:     service,
					TLS: &TLS{
						Domains: []Domain{{
							Main: externalHost,
							Sans: []string{"*." + externalHost},
						}},
					},
				},
			},
			Services: map[string]Service{
				service: {
					LoadBalancer: LoadBalancer{
						Servers: []Server{{URL: internalURL}},
					},
				},
			},
		},
	}
}
