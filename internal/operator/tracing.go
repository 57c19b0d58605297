// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package operator

import (
	"context"
	"time"

	"github.com/juju/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/canonical/cos-registration-server-k8s-operator/core/hooks"
	"github.com/canonical/cos-registration-server-k8s-operator/internal/relation/tracing"
)

const tracingShutdownTimeout = 5 * time.Second

// tracingEndpoint returns the receiver charm spans are sent to, preferring
// OTLP over HTTP. The protocol is empty when there is none.
func (c *Charm) tracingEndpoint() (protocol, url string, err error) {
	for _, protocol := range []string{tracing.ProtocolOTLPHTTP, tracing.ProtocolOTLPGRPC} {
		url, err := c.tracing.Endpoint(protocol)
		if errors.Is(err, errors.NotFound) {
			continue
		}
		if err != nil {
			return "", "", errors.Trace(err)
		}
		return protocol, url, nil
	}
	return "", "", nil
}

// startTracing opens a span covering the dispatch when a tracing backend
// is related. The returned function ends the span and flushes it.
func (c *Charm) startTracing(ctx context.Context, event hooks.Event) (context.Context, func(error)) {
	noop := func(error) {}
	protocol, url, err := c.tracingEndpoint()
	if err != nil {
		logger.Warningf("charm tracing disabled: %v", err)
		return ctx, noop
	}
	if protocol == "" {
		return ctx, noop
	}
	topology := c.config.Context.Topology()
	provider, err := tracing.NewTracerProvider(ctx, tracing.ExporterConfig{
		Protocol:    protocol,
		URL:         url,
		ServiceName: topology.Application + "-charm",
		Attributes:  topology.AsMap(),
	})
	if err != nil {
		logger.Warningf("charm tracing disabled: %v", err)
		return ctx, noop
	}
	ctx, span := provider.Tracer(CharmName).Start(ctx, event.Name(),
		trace.WithAttributes(attribute.String("juju.dispatch_path", c.config.Context.DispatchPath)),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warningf("flushing charm traces: %v", err)
		}
	}
}
