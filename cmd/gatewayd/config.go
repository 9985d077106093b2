// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import "time"

// AppConfig is the gatewayd process configuration. Precedence, lowest to
// highest: DefaultAppConfig() < --config TOML file < environment variables
// < the handful of CLI flags CLI itself exposes.
type AppConfig struct {
	ListenAddr          string        `toml:"listen_addr" env:"GATEWAY_LISTEN_ADDR"`
	MetricsAddr         string        `toml:"metrics_addr" env:"GATEWAY_METRICS_ADDR"`
	HealthAddr          string        `toml:"health_addr" env:"GATEWAY_HEALTH_ADDR"`
	GatewayHost         string        `toml:"gateway_host" env:"GATEWAY_HOST"`
	GatewaySubdomain    string        `toml:"gateway_subdomain" env:"GATEWAY_SUBDOMAIN"`
	Backends            []string      `toml:"backends" env:"GATEWAY_BACKENDS" envSeparator:","`
	ForceHTTP           bool          `toml:"force_http" env:"GATEWAY_FORCE_HTTP"`
	LogLevel            string        `toml:"log_level" env:"GATEWAY_LOG_LEVEL"`
	LogFormat           string        `toml:"log_format" env:"GATEWAY_LOG_FORMAT"`
	MaxGoroutines       int           `toml:"max_goroutines" env:"GATEWAY_MAX_GOROUTINES"`
	DisableBreaker      bool          `toml:"disable_breaker" env:"GATEWAY_DISABLE_BREAKER"`
	BreakerMaxFailures  int           `toml:"breaker_max_failures" env:"GATEWAY_BREAKER_MAX_FAILURES"`
	BreakerResetTimeout time.Duration `toml:"breaker_reset_timeout" env:"GATEWAY_BREAKER_RESET_TIMEOUT"`
	BreakerTimeout      time.Duration `toml:"breaker_timeout" env:"GATEWAY_BREAKER_TIMEOUT"`
	ShutdownTimeout     time.Duration `toml:"shutdown_timeout" env:"GATEWAY_SHUTDOWN_TIMEOUT"`
	HealthCheckInterval time.Duration `toml:"health_check_interval" env:"GATEWAY_HEALTH_CHECK_INTERVAL"`
}

// DefaultAppConfig mirrors gateway.DefaultConfig's role: Go zero values
// cannot express several of these defaults (force_http defaults true, the
// listen addresses are non-empty), so the app starts here and layers
// overrides on top.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		ListenAddr:          ":8000",
		MetricsAddr:         ":9090",
		HealthAddr:          ":8081",
		GatewaySubdomain:    "gateway-proxy",
		ForceHTTP:           true,
		LogLevel:            "info",
		LogFormat:           "json",
		MaxGoroutines:       50000,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 60 * time.Second,
		BreakerTimeout:      30 * time.Second,
		ShutdownTimeout:     30 * time.Second,
		HealthCheckInterval: 10 * time.Second,
	}
}
