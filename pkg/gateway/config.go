// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"log/slog"
	"time"

	"github.com/relaymesh/gwproxy/pkg/breaker"
)

// Config is the gateway's process-wide, immutable-after-construction
// configuration, plus the ambient fields that size the
// metrics/breaker/health stack.
type Config struct {
	// GatewayHost is the explicit authority of the gateway. When empty it
	// is auto-derived per request from the Host header.
	GatewayHost string

	// GatewaySubdomain separates an encoded target from the gateway
	// authority. Defaults to "gateway-proxy".
	GatewaySubdomain string

	// ForceProtocol, if set, overrides the parsed upstream scheme.
	ForceProtocol string

	// DisableForceHTTP turns off the default https/wss-to-http/ws
	// downgrade when forwarding. Zero-value (false) keeps forcing plain
	// HTTP, same as the documented default; unlike a positive-sense
	// "ForceHTTP" field, a caller building Config{} directly without
	// DefaultConfig cannot silently lose this default by leaving the
	// field unset.
	DisableForceHTTP bool

	// DisableForceWebsocketProtocol is reserved; it mirrors
	// DisableForceHTTP for websocket scheme selection. Carried for config
	// compatibility but has no effect beyond DisableForceHTTP in this
	// implementation.
	DisableForceWebsocketProtocol bool

	// SocketPorts lists ports eligible for raw TCP tunneling. It is carried
	// in Config only: neither the default HTTP middleware chain nor the
	// standalone TCP Tunnel Engine (pkg/server/tcp, which dials its own
	// TargetAddress) reads it.
	SocketPorts []int

	// Logger receives structured log output. Defaults to slog.Default().
	Logger *slog.Logger

	// DisableLogErrorsToConsole turns off the slog-backed event subscriber
	// New otherwise auto-registers at construction time. Zero-value
	// (false) keeps it enabled, the documented default.
	DisableLogErrorsToConsole bool

	// MetricsNamespace is the Prometheus namespace for this gateway's
	// instrumentation. Defaults to "gateway".
	MetricsNamespace string

	// Breaker tunes the per-backend circuit breaker wrapping upstream
	// dials. Zero-value fields take breaker.New's defaults; only
	// DisableBreaker turns breaking off.
	Breaker breaker.Config

	// DisableBreaker turns off circuit breaking entirely; every dial is
	// attempted unconditionally.
	DisableBreaker bool

	// HealthCheckInterval is the cache TTL intended for a health.Checker
	// built next to this gateway. New does not read it and the Gateway
	// owns no health checker; cmd/gatewayd passes its own interval to
	// health.NewChecker, where zero means a 10s TTL.
	HealthCheckInterval time.Duration
}

// DefaultConfig returns a Config with every documented default applied.
// Every bool field in Config is negative-sense (DisableX) specifically so
// its zero value already matches the documented default; a caller
// building Config{} directly, without going through DefaultConfig, still
// gets forced HTTP downgrade and console error logging. Callers should
// still start from DefaultConfig and override only the fields they care
// about, for the string defaults below that a zero-value struct cannot
// express.
func DefaultConfig() Config {
	return Config{
		GatewaySubdomain: "gateway-proxy",
		MetricsNamespace: "gateway",
	}
}

// withDefaults fills any remaining unset field (those with a meaningful
// Go zero value) after the caller's overrides have been applied.
func (cfg Config) withDefaults() Config {
	if cfg.GatewaySubdomain == "" {
		cfg.GatewaySubdomain = "gateway-proxy"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsNamespace == "" {
		cfg.MetricsNamespace = "gateway"
	}
	return cfg
}
