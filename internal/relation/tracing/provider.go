// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tracing

import (
	"context"
	"strings"

	"github.com/juju/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ExporterConfig describes where charm spans go.
type ExporterConfig struct {
	// Protocol is one of ProtocolOTLPHTTP or ProtocolOTLPGRPC.
	Protocol string
	// URL is the receiver URL as published by the backend.
	URL         string
	ServiceName string
	// Attributes are added to the resource of every span.
	Attributes map[string]string
}

// Validate checks the configuration.
func (c ExporterConfig) Validate() error {
	if c.URL == "" {
		return errors.NotValidf("empty URL")
	}
	if c.ServiceName == "" {
		return errors.NotValidf("empty ServiceName")
	}
	switch c.Protocol {
	case ProtocolOTLPHTTP, ProtocolOTLPGRPC:
	default:
		return errors.NotSupportedf("tracing protocol %q", c.Protocol)
	}
	return nil
}

// NewTracerProvider returns a provider batching spans to the receiver
// described by config. Callers must shut it down to flush.
func NewTracerProvider(ctx context.Context, config ExporterConfig) (*sdktrace.TracerProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(config.ServiceName)}
	for k, v := range config.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	res := resource.NewWithAttributes(semconv.SchemaURL, attrs...)

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch config.Protocol {
	case ProtocolOTLPGRPC:
		exporter, err = otlptracegrpc.New(ctx, grpcOptions(config.URL)...)
	default:
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(strings.TrimSuffix(config.URL, "/")+"/v1/traces"),
		)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "creating %s exporter", config.Protocol)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// grpcOptions accepts both bare host:port receivers and full URLs.
func grpcOptions(url string) []otlptracegrpc.Option {
	if strings.Contains(url, "://") {
		return []otlptracegrpc.Option{otlptracegrpc.WithEndpointURL(url)}
	}
	return []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(url),
		otlptracegrpc.WithInsecure(),
	}
}
