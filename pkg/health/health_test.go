// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/relaymesh/gwproxy/pkg/breaker"
	"github.com/relaymesh/gwproxy/pkg/metrics"
)

func TestBackendCheckHealthyBackend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	m := metrics.New("healthtest")
	check := BackendCheck(ln.Addr().String(), nil, time.Second, m)

	if err := check(context.Background()); err != nil {
		t.Fatalf("expected a healthy dial, got error: %v", err)
	}

	families, _ := m.Registry.Gather()
	found := false
	for _, f := range families {
		if f.GetName() == "healthtest_health_checks_total" {
			found = true
		}
	}
	if !found {
		t.Error("expected healthtest_health_checks_total to be recorded")
	}
}

func TestBackendCheckUnreachableBackend(t *testing.T) {
	check := BackendCheck("127.0.0.1:1", nil, 200*time.Millisecond, nil)

	if err := check(context.Background()); err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
}

func TestBackendCheckTripsBreaker(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.Config{MaxFailures: 1, ResetTimeout: time.Hour})
	check := BackendCheck("127.0.0.1:1", breakers, 200*time.Millisecond, nil)

	check(context.Background())
	if breakers.For("127.0.0.1:1").State() != breaker.StateOpen {
		t.Error("expected a single failure with MaxFailures=1 to open the breaker")
	}

	if err := check(context.Background()); !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Errorf("expected subsequent calls to short-circuit with ErrCircuitOpen, got %v", err)
	}
}
