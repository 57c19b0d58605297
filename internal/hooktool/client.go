// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hooktool talks to the Juju unit agent through the hook tools
// (is-leader, relation-get, status-set and friends) available to a charm
// while a hook or action is dispatched.
package hooktool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"
)

// Status values accepted by status-set.
const (
	StatusActive      = "active"
	StatusBlocked     = "blocked"
	StatusMaintenance = "maintenance"
	StatusWaiting     = "waiting"
)

// Client wraps the hook tools.
type Client struct {
	runner Runner
}

// NewClient returns a Client running tools with the given runner.
func NewClient(runner Runner) *Client {
	return &Client{runner: runner}
}

func (c *Client) runJSON(out interface{}, tool string, args ...string) error {
	stdout, err := c.runner.Run(tool, append([]string{"--format=json"}, args...)...)
	if err != nil {
		return errors.Trace(err)
	}
	stdout = bytes.TrimSpace(stdout)
	if len(stdout) == 0 {
		return nil
	}
	if err := json.Unmarshal(stdout, out); err != nil {
		return errors.Annotatef(err, "parsing %s output", tool)
	}
	return nil
}

// IsLeader reports whether the unit is the application leader.
func (c *Client) IsLeader() (bool, error) {
	var leader bool
	err := c.runJSON(&leader, "is-leader")
	return leader, errors.Annotate(err, "leadership status unknown")
}

// ConfigGet returns the charm configuration.
func (c *Client) ConfigGet() (map[string]interface{}, error) {
	settings := make(map[string]interface{})
	if err := c.runJSON(&settings, "config-get"); err != nil {
		return nil, errors.Trace(err)
	}
	return settings, nil
}

// StorageList returns the storage instance ids attached under name.
func (c *Client) StorageList(name string) ([]string, error) {
	var ids []string
	if err := c.runJSON(&ids, "storage-list", name); err != nil {
		return nil, errors.Trace(err)
	}
	return ids, nil
}

// RelationIDs returns the ids ("endpoint:N") of relations on endpoint.
func (c *Client) RelationIDs(endpoint string) ([]string, error) {
	var ids []string
	if err := c.runJSON(&ids, "relation-ids", endpoint); err != nil {
		return nil, errors.Trace(err)
	}
	return ids, nil
}

// RelationList returns the remote units participating in a relation.
func (c *Client) RelationList(id string) ([]string, error) {
	var units []string
	if err := c.runJSON(&units, "relation-list", "-r", id); err != nil {
		return nil, errors.Trace(err)
	}
	return units, nil
}

// RelationRemoteApp returns the name of the application on the other side
// of a relation.
func (c *Client) RelationRemoteApp(id string) (string, error) {
	var app string
	if err := c.runJSON(&app, "relation-list", "-r", id, "--app"); err != nil {
		return "", errors.Trace(err)
	}
	return app, nil
}

// RelationGet returns the databag of entity (a unit or, when app is true,
// an application) in the relation.
func (c *Client) RelationGet(id, entity string, app bool) (map[string]string, error) {
	args := []string{"-r", id}
	if app {
		args = append(args, "--app")
	}
	args = append(args, "-", entity)
	settings := make(map[string]string)
	if err := c.runJSON(&settings, "relation-get", args...); err != nil {
		return nil, errors.Trace(err)
	}
	return settings, nil
}

// RelationSet updates the local unit's (or application's) databag. Keys
// with an empty value are removed. Settings are written through a file so
// that large values are not subject to argument limits.
func (c *Client) RelationSet(id string, app bool, settings map[string]string) error {
	path, cleanup, err := writeSettingsFile(settings)
	if err != nil {
		return errors.Trace(err)
	}
	defer cleanup()
	args := []string{"-r", id}
	if app {
		args = append(args, "--app")
	}
	args = append(args, "--file", path)
	_, err = c.runner.Run("relation-set", args...)
	return errors.Trace(err)
}

// StatusSet sets the workload status of the unit or, when application is
// true, of the application.
func (c *Client) StatusSet(application bool, status, message string) error {
	var args []string
	if application {
		args = append(args, "--application")
	}
	args = append(args, "--", status)
	if message != "" {
		args = append(args, message)
	}
	_, err := c.runner.Run("status-set", args...)
	return errors.Trace(err)
}

// StatusGet returns the unit's current workload status and message.
func (c *Client) StatusGet() (string, string, error) {
	var current struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := c.runJSON(&current, "status-get"); err != nil {
		return "", "", errors.Trace(err)
	}
	return current.Status, current.Message, nil
}

// ActionSet records action results. Nested maps are flattened into dotted
// keys.
func (c *Client) ActionSet(results map[string]interface{}) error {
	flat := make(map[string]string)
	flatten("", results, flat)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, k+"="+flat[k])
	}
	_, err := c.runner.Run("action-set", args...)
	return errors.Trace(err)
}

func flatten(prefix string, in map[string]interface{}, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := v.(type) {
		case map[string]interface{}:
			flatten(key, v, out)
		case string:
			out[key] = v
		case bool:
			out[key] = strconv.FormatBool(v)
		default:
			out[key] = fmt.Sprint(v)
		}
	}
}

// ActionFail marks the running action as failed.
func (c *Client) ActionFail(message string) error {
	_, err := c.runner.Run("action-fail", "--", message)
	return errors.Trace(err)
}

// StateGet returns the charm state value for key. The boolean is false when
// the key is unset.
func (c *Client) StateGet(key string) (string, bool, error) {
	var value *string
	if err := c.runJSON(&value, "state-get", key); err != nil {
		return "", false, errors.Trace(err)
	}
	if value == nil {
		return "", false, nil
	}
	return *value, true, nil
}

// StateSet stores charm state values.
func (c *Client) StateSet(values map[string]string) error {
	path, cleanup, err := writeSettingsFile(values)
	if err != nil {
		return errors.Trace(err)
	}
	defer cleanup()
	_, err = c.runner.Run("state-set", "--file", path)
	return errors.Trace(err)
}

// StateDelete removes charm state keys.
func (c *Client) StateDelete(keys ...string) error {
	for _, key := range keys {
		if _, err := c.runner.Run("state-delete", key); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// JujuLog writes a message to the unit's log.
func (c *Client) JujuLog(level, message string) error {
	_, err := c.runner.Run("juju-log", "--log-level", level, "--", message)
	return errors.Trace(err)
}

func writeSettingsFile(settings map[string]string) (string, func(), error) {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return "", nil, errors.Trace(err)
	}
	f, err := os.CreateTemp("", "hooktool-*.yaml")
	if err != nil {
		return "", nil, errors.Trace(err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, errors.Trace(err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, errors.Trace(err)
	}
	return f.Name(), cleanup, nil
}
