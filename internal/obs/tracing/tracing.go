/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tracing wires OpenTelemetry spans around provider spawn,
// health probe, and halt operations.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	otrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ServiceHost is the tracer resource name for the host supervisor process.
const ServiceHost = "hostrt-host"

// Config holds tracing configuration.
type Config struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	SamplingRatio  float64
}

// DefaultConfig returns default tracing configuration sourced from the
// process environment.
func DefaultConfig(serviceName, version string) *Config {
	return &Config{
		Enabled:        getEnvBool("HOSTRT_TRACING_ENABLED", false),
		Endpoint:       getEnv("HOSTRT_TRACING_ENDPOINT", ""),
		ServiceName:    serviceName,
		ServiceVersion: version,
		SamplingRatio:  getEnvFloat("HOSTRT_TRACING_SAMPLING_RATIO", 0.1),
	}
}

// Setup installs a tracer provider. When tracing is disabled (the
// common case for a host with no collector configured) it installs a
// no-op provider so span creation stays cheap and side-effect free.
func Setup(ctx context.Context, config *Config) (func(context.Context) error, error) {
	if config == nil || !config.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	if config.Endpoint == "" {
		return nil, fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(config.Endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", config.ServiceName),
			attribute.String("service.version", config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build tracing resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(config.SamplingRatio)),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartSpan starts a new span under the host supervisor tracer.
func StartSpan(ctx context.Context, name string, opts ...otrace.SpanStartOption) (context.Context, otrace.Span) {
	tracer := otel.Tracer(ServiceHost)
	return tracer.Start(ctx, name, opts...)
}

// Attribute keys used across provider lifecycle spans.
var (
	AttrPublicKey  = attribute.Key("provider.public_key")
	AttrLinkName   = attribute.Key("provider.link_name")
	AttrContractID = attribute.Key("provider.contract_id")
	AttrInstanceID = attribute.Key("provider.instance_id")
	AttrReason     = attribute.Key("provider.stop_reason")
)

// Span names for provider lifecycle operations.
const (
	SpanProviderStart  = "provider.start"
	SpanProviderHalt   = "provider.halt"
	SpanHealthProbe    = "provider.health_probe"
	SpanHostStartup    = "host.startup"
	SpanHostShutdown   = "host.shutdown"
)

// StartProviderSpan starts a span for a provider lifecycle operation,
// tagged with the provider's identity.
func StartProviderSpan(ctx context.Context, spanName, publicKey, linkName, contractID string) (context.Context, otrace.Span) {
	return StartSpan(ctx, spanName,
		otrace.WithAttributes(
			AttrPublicKey.String(publicKey),
			AttrLinkName.String(linkName),
			AttrContractID.String(contractID),
		),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
