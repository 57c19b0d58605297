// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package registry is a client for the HTTP API of the COS registration
// server running in the workload container.
package registry

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/juju/errors"
	"resty.dev/v3"
)

// APIPath is the prefix of every registration server API route.
const APIPath = "/api/v1/"

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 10 * time.Second

// Dashboard is a Grafana dashboard stored in the registration server.
type Dashboard struct {
	UID       string                 `json:"uid"`
	Dashboard map[string]interface{} `json:"dashboard"`
}

// AuthorizedKey is the public SSH key a device authenticates with.
type AuthorizedKey struct {
	UID          string `json:"uid"`
	PublicSSHKey string `json:"public_ssh_key"`
}

// DeviceAddress is the network address of a registered device.
type DeviceAddress struct {
	UID     string `json:"uid"`
	Address string `json:"address"`
}

// Client calls the registration server API.
type Client struct {
	baseURL string
	resty   *resty.Client
}

// NewClient returns a Client for the server reachable at serverURL, which
// may include a path prefix such as the ingress path.
func NewClient(serverURL string) *Client {
	client := resty.New().SetTimeout(DefaultTimeout)
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/") + APIPath,
		resty:   client,
	}
}

// Close releases the client's resources.
func (c *Client) Close() error {
	return c.resty.Close()
}

// URL returns the absolute URL of an API route.
func (c *Client) URL(route string) string {
	return c.baseURL + strings.TrimLeft(route, "/")
}

func (c *Client) get(ctx context.Context, route string, query map[string]string, result interface{}) error {
	url := c.URL(route)
	req := c.resty.R().SetContext(ctx).SetQueryParams(query)
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Get(url)
	if err != nil {
		return errors.Annotatef(err, "fetching %q", url)
	}
	//nolint:errcheck
	defer resp.Body.Close()

	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return errors.NotFoundf("%q", url)
	case code < 200 || code > 299:
		return errors.Errorf("unexpected response code from %q: %d - %s", url, code, resp.String())
	}
	return nil
}

// Dashboards returns the Grafana dashboards registered by devices.
func (c *Client) Dashboards(ctx context.Context) ([]Dashboard, error) {
	var dashboards []Dashboard
	if err := c.get(ctx, "applications/grafana/dashboards/", nil, &dashboards); err != nil {
		return nil, errors.Trace(err)
	}
	return dashboards, nil
}

// AuthorizedKeys returns the public SSH keys of all registered devices.
func (c *Client) AuthorizedKeys(ctx context.Context) ([]AuthorizedKey, error) {
	var keys []AuthorizedKey
	err := c.get(ctx, "devices/", map[string]string{"fields": "uid,public_ssh_key"}, &keys)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return keys, nil
}

// DeviceAddresses returns the addresses of all registered devices.
func (c *Client) DeviceAddresses(ctx context.Context) ([]DeviceAddress, error) {
	var addresses []DeviceAddress
	err := c.get(ctx, "devices/", map[string]string{"fields": "uid,address"}, &addresses)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return addresses, nil
}

// Devices returns the raw device list.
func (c *Client) Devices(ctx context.Context) ([]map[string]interface{}, error) {
	var devices []map[string]interface{}
	if err := c.get(ctx, "devices/", nil, &devices); err != nil {
		return nil, errors.Trace(err)
	}
	return devices, nil
}

// Health returns nil when the server reports itself healthy.
func (c *Client) Health(ctx context.Context) error {
	return errors.Trace(c.get(ctx, "health/", nil, nil))
}
