// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package grafana implements the provider side of the grafana_dashboard
// interface.
//
// Dashboards are kept as templates in the charm state, keyed by id.
// Built-in dashboards shipped with the charm have ids "file:<stem>",
// dashboards added at runtime have ids "prog:<fragment>". Every change is
// published to all relations of the endpoint together with a fresh uuid,
// so Grafana notices the update.
package grafana

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"golang.org/x/crypto/sha3"

	"github.com/canonical/cos-registration-server-k8s-operator/core/topology"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/digest"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/storedstate"
)

var logger = loggo.GetLogger("cos-registration-server.relation.grafana")

const (
	// DefaultEndpoint carries the dashboards of the server itself.
	DefaultEndpoint = "grafana-dashboard"
	// DevicesEndpoint carries the dashboards of the registered devices.
	DevicesEndpoint = "grafana-dashboard-devices"

	// DataKey is the application databag key holding the dashboards.
	DataKey = "dashboards"

	builtinPrefix      = "file:"
	programmaticPrefix = "prog:"

	templatesKey = "templates"
	dirHashKey   = "dir-hash"
)

// Template is a dashboard as sent over the relation.
type Template struct {
	Charm           string            `json:"charm"`
	Content         string            `json:"content"`
	JujuTopology    map[string]string `json:"juju_topology"`
	InjectDropdowns bool              `json:"inject_dropdowns"`
	DashboardAltUID string            `json:"dashboard_alt_uid,omitempty"`
}

// Payload is the JSON document stored under DataKey.
type Payload struct {
	Templates map[string]Template `json:"templates"`
	UUID      string              `json:"uuid"`
}

// ProviderParams configures a Provider.
type ProviderParams struct {
	Backend relation.Backend
	// State persists the templates. Each provider needs its own
	// namespace.
	State    *storedstate.State
	Endpoint string
	// DashboardsDir holds the built-in dashboards. It may be empty.
	DashboardsDir string
	Topology      topology.Topology
}

// Validate checks the parameters.
func (p ProviderParams) Validate() error {
	if p.Backend == nil {
		return errors.NotValidf("nil Backend")
	}
	if p.State == nil {
		return errors.NotValidf("nil State")
	}
	if p.Endpoint == "" {
		return errors.NotValidf("empty Endpoint")
	}
	return nil
}

// Provider publishes dashboards on one endpoint.
type Provider struct {
	endpoint relation.Endpoint
	state    *storedstate.State
	dir      string
	topology topology.Topology
}

// NewProvider returns a Provider configured by params.
func NewProvider(params ProviderParams) (*Provider, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Provider{
		endpoint: relation.NewEndpoint(params.Backend, params.Endpoint),
		state:    params.State,
		dir:      params.DashboardsDir,
		topology: params.Topology,
	}, nil
}

// Templates returns the stored dashboard templates.
func (p *Provider) Templates() (map[string]Template, error) {
	templates := make(map[string]Template)
	if _, err := p.state.Get(templatesKey, &templates); err != nil {
		return nil, errors.Trace(err)
	}
	return templates, nil
}

func (p *Provider) setTemplates(templates map[string]Template) error {
	if err := p.state.Set(templatesKey, templates); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(p.Publish())
}

func (p *Provider) template(id, encoded string, injectDropdowns bool) Template {
	t := Template{
		Charm:           p.topology.CharmName,
		Content:         encoded,
		JujuTopology:    map[string]string{},
		InjectDropdowns: injectDropdowns,
		DashboardAltUID: altUID(p.topology.CharmName, id),
	}
	if injectDropdowns {
		t.JujuTopology = map[string]string{
			"model":       p.topology.Model,
			"model_uuid":  p.topology.ModelUUID,
			"application": p.topology.Application,
			"unit":        p.topology.Unit,
		}
	}
	return t
}

// altUID derives a stable dashboard uid from the charm name and template id.
func altUID(charm, id string) string {
	sum := make([]byte, 8)
	sha3.ShakeSum256(sum, []byte(charm+"-"+id))
	return hex.EncodeToString(sum)
}

// AddDashboard stores a dashboard given as raw JSON and publishes it.
func (p *Provider) AddDashboard(content string, injectDropdowns bool) error {
	encoded, err := Compress(content)
	if err != nil {
		return errors.Trace(err)
	}
	id := programmaticPrefix + idFragment(encoded)
	templates, err := p.Templates()
	if err != nil {
		return errors.Trace(err)
	}
	templates[id] = p.template(id, encoded, injectDropdowns)
	logger.Debugf("adding dashboard %s on %s", id, p.endpoint.Name())
	return errors.Trace(p.setTemplates(templates))
}

// idFragment picks eight characters near the end of the encoded content,
// clear of the constant xz footer.
func idFragment(encoded string) string {
	if len(encoded) < 24 {
		return encoded
	}
	return encoded[len(encoded)-24 : len(encoded)-16]
}

// RemoveNonBuiltin drops every dashboard added with AddDashboard.
func (p *Provider) RemoveNonBuiltin() error {
	templates, err := p.Templates()
	if err != nil {
		return errors.Trace(err)
	}
	for id := range templates {
		if strings.HasPrefix(id, programmaticPrefix) {
			delete(templates, id)
		}
	}
	return errors.Trace(p.setTemplates(templates))
}

// ReloadBuiltin rescans the dashboards directory, replacing every built-in
// template, and publishes the result. Nothing happens when the directory
// content is unchanged since the last scan unless force is set.
func (p *Provider) ReloadBuiltin(force bool) error {
	if p.dir == "" {
		return nil
	}
	hash, err := digest.Dir(p.dir)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debugf("no built-in dashboards at %q", p.dir)
		return nil
	} else if err != nil {
		return errors.Annotate(err, "scanning built-in dashboards")
	}
	previous, err := p.state.GetString(dirHashKey)
	if err != nil {
		return errors.Trace(err)
	}
	if !force && previous == hash {
		return nil
	}

	templates, err := p.Templates()
	if err != nil {
		return errors.Trace(err)
	}
	for id := range templates {
		if strings.HasPrefix(id, builtinPrefix) {
			delete(templates, id)
		}
	}
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return errors.Trace(err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !isDashboardFile(name) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(p.dir, name))
		if err != nil {
			return errors.Annotatef(err, "reading dashboard %q", name)
		}
		encoded, err := Compress(string(content))
		if err != nil {
			return errors.Trace(err)
		}
		id := builtinPrefix + strings.TrimSuffix(name, filepath.Ext(name))
		templates[id] = p.template(id, encoded, true)
	}
	if err := p.state.Set(dirHashKey, hash); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(p.setTemplates(templates))
}

func isDashboardFile(name string) bool {
	return strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.tmpl")
}

// Publish writes the stored templates to every relation. Non-leaders skip.
func (p *Provider) Publish() error {
	related, err := p.endpoint.Related()
	if err != nil || !related {
		return errors.Trace(err)
	}
	templates, err := p.Templates()
	if err != nil {
		return errors.Trace(err)
	}
	data, err := json.Marshal(Payload{
		Templates: templates,
		UUID:      uuid.NewString(),
	})
	if err != nil {
		return errors.Annotate(err, "encoding dashboards")
	}
	_, err = p.endpoint.SetAppData(map[string]string{DataKey: string(data)})
	return errors.Trace(err)
}
