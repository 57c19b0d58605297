// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package tracing implements the requirer side of the tracing interface
// (version 2) and sets up the exporter the charm sends its own spans
// through.
package tracing

import (
	"encoding/json"

	"github.com/juju/errors"

	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation"
)

// EndpointName is the charm endpoint related to the tracing backend.
const EndpointName = "tracing"

// Receiver protocols understood by the charm.
const (
	ProtocolOTLPHTTP = "otlp_http"
	ProtocolOTLPGRPC = "otlp_grpc"
)

const receiversKey = "receivers"

// Protocol names a receiver protocol and its transport.
type Protocol struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Receiver is an endpoint the tracing backend accepts spans on.
type Receiver struct {
	Protocol Protocol `json:"protocol"`
	URL      string   `json:"url"`
}

// Requirer asks the tracing backend for receivers and reads them back.
type Requirer struct {
	endpoint relation.Endpoint
}

// NewRequirer returns a Requirer on the tracing endpoint.
func NewRequirer(backend relation.Backend) *Requirer {
	return &Requirer{endpoint: relation.NewEndpoint(backend, EndpointName)}
}

// RequestProtocols asks for receivers speaking the given protocols.
// Non-leaders skip.
func (r *Requirer) RequestProtocols(protocols ...string) error {
	related, err := r.endpoint.Related()
	if err != nil || !related {
		return errors.Trace(err)
	}
	data, err := json.Marshal(protocols)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = r.endpoint.SetAppData(map[string]string{receiversKey: string(data)})
	return errors.Trace(err)
}

// Receivers returns the receivers published by the tracing backend.
func (r *Requirer) Receivers() ([]Receiver, error) {
	ids, err := r.endpoint.IDs()
	if err != nil || len(ids) == 0 {
		return nil, errors.Trace(err)
	}
	data, err := r.endpoint.RemoteAppData(ids[0])
	if err != nil {
		return nil, errors.Trace(err)
	}
	raw := data[receiversKey]
	if raw == "" {
		return nil, nil
	}
	var receivers []Receiver
	if err := json.Unmarshal([]byte(raw), &receivers); err != nil {
		return nil, errors.Annotatef(err, "decoding receivers of %s", ids[0])
	}
	return receivers, nil
}

// IsReady reports whether the backend published at least one receiver.
func (r *Requirer) IsReady() (bool, error) {
	receivers, err := r.Receivers()
	return len(receivers) > 0, errors.Trace(err)
}

// Endpoint returns the URL of the receiver for protocol. It is a NotFound
// error when the backend offers no such receiver.
func (r *Requirer) Endpoint(protocol string) (string, error) {
	receivers, err := r.Receivers()
	if err != nil {
		return "", errors.Trace(err)
	}
	for _, receiver := range receivers {
		if receiver.Protocol.Name == protocol {
			return receiver.URL, nil
		}
	}
	return "", errors.NotFoundf("%s receiver", protocol)
}
