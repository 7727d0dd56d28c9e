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

// Package logging sets up structured logging for the host supervisor and
// the provider lifecycle subsystem.
package logging

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ContextKey is the type for context keys carrying correlation fields.
type ContextKey string

const (
	// HostKey is the context key for the host's public key.
	HostKey ContextKey = "host"
	// ProviderKey is the context key for a provider's public key.
	ProviderKey ContextKey = "provider"
	// LinkNameKey is the context key for a provider's link name.
	LinkNameKey ContextKey = "linkName"
	// InstanceKey is the context key for a provider instance id.
	InstanceKey ContextKey = "instanceID"
	// ContractKey is the context key for a capability contract id.
	ContractKey ContextKey = "contractID"
)

// Config holds logging configuration.
type Config struct {
	Level       string
	Format      string // json or console
	Development bool
}

// DefaultConfig returns default logging configuration sourced from the
// process environment.
func DefaultConfig() *Config {
	return &Config{
		Level:       getEnvWithDefault("LOG_LEVEL", "info"),
		Format:      getEnvWithDefault("LOG_FORMAT", "json"),
		Development: getEnvBoolWithDefault("LOG_DEVELOPMENT", false),
	}
}

// Setup builds a logr.Logger backed by zap from config's level,
// format, and development settings. It does not consult the host
// descriptor's enable_structured_logging flag.
func Setup(config *Config) (logr.Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	zapConfig := zap.NewProductionConfig()
	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}

	if config.Format == "console" {
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig.Encoding = "json"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	}

	level := zap.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zap.DebugLevel
	case "warn", "warning":
		level = zap.WarnLevel
	case "error":
		level = zap.ErrorLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapConfig.Build(zap.AddCallerSkip(1))
	if err != nil {
		return logr.Logger{}, fmt.Errorf("failed to build logger: %w", err)
	}

	return zapr.NewLogger(zapLogger), nil
}

// WithProvider adds provider identity correlation to a context.
func WithProvider(ctx context.Context, publicKey, linkName string) context.Context {
	ctx = context.WithValue(ctx, ProviderKey, publicKey)
	return context.WithValue(ctx, LinkNameKey, linkName)
}

// WithInstance adds instance id correlation to a context.
func WithInstance(ctx context.Context, instanceID string) context.Context {
	return context.WithValue(ctx, InstanceKey, instanceID)
}

// WithHost adds host correlation to a context.
func WithHost(ctx context.Context, hostKey string) context.Context {
	return context.WithValue(ctx, HostKey, hostKey)
}

// Enrich attaches any correlation fields present on ctx to logger.
func Enrich(ctx context.Context, logger logr.Logger) logr.Logger {
	fields := make([]interface{}, 0, 10)

	if v := ctx.Value(HostKey); v != nil {
		fields = append(fields, "host", v)
	}
	if v := ctx.Value(ProviderKey); v != nil {
		fields = append(fields, "provider", v)
	}
	if v := ctx.Value(LinkNameKey); v != nil {
		fields = append(fields, "linkName", v)
	}
	if v := ctx.Value(InstanceKey); v != nil {
		fields = append(fields, "instanceID", v)
	}
	if v := ctx.Value(ContractKey); v != nil {
		fields = append(fields, "contractID", v)
	}

	if len(fields) == 0 {
		return logger
	}
	return logger.WithValues(fields...)
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
