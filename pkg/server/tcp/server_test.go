// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"
)

func TestTCPServer_ListenAndAccept(t *testing.T) {
	backendListener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to create backend listener: %v", err)
	}
	defer backendListener.Close()

	go func() {
		conn, err := backendListener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	cfg := Config{
		Address:         "localhost:0",
		TargetAddress:   backendListener.Addr().String(),
		ShutdownTimeout: 5 * time.Second,
		Logger:          slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}

	server := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Listen(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	select {
	case err := <-serverErr:
		t.Fatalf("server exited with error: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-serverErr:
		if err != nil && err != context.Canceled {
			t.Errorf("server shutdown with error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Error("server shutdown timeout")
	}
}

func TestTCPServer_InvalidAddress(t *testing.T) {
	cfg := Config{
		Address:         "invalid:address:99999",
		TargetAddress:   "localhost:0",
		ShutdownTimeout: 5 * time.Second,
		Logger:          slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}

	server := New(cfg)

	if err := server.Listen(context.Background()); err == nil {
		t.Error("expected error for invalid address")
	}
}

func TestTCPServer_BackendDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	// Only reserve a free port; the server must be able to bind it.
	addr := listener.Addr().String()
	listener.Close()

	cfg := Config{
		Address:         addr,
		TargetAddress:   "localhost:9",
		ShutdownTimeout: 1 * time.Second,
		Logger:          slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}

	server := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Listen(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	conn, err := net.Dial("tcp", cfg.Address)
	if err != nil {
		return
	}
	conn.Write([]byte("test"))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("expected the server to close the client connection after the backend dial failed")
	}
	conn.Close()

	time.Sleep(100 * time.Millisecond)

	cancel()
	<-serverErr
}

func TestNew_DefaultConfig(t *testing.T) {
	cfg := Config{
		Address:       "localhost:0",
		TargetAddress: "localhost:0",
	}

	server := New(cfg)

	if server == nil {
		t.Fatal("expected non-nil server")
	}
	if server.config.Logger == nil {
		t.Error("expected default logger to be set")
	}
	if server.config.ShutdownTimeout == 0 {
		t.Error("expected default shutdown timeout to be set")
	}
	if server.config.DialTimeout == 0 {
		t.Error("expected default dial timeout to be set")
	}
}

func TestTCPServer_ContextCancellation(t *testing.T) {
	cfg := Config{
		Address:         "localhost:0",
		TargetAddress:   "localhost:0",
		ShutdownTimeout: 5 * time.Second,
		Logger:          slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}

	server := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Listen(ctx)
	}()

	cancel()

	select {
	case <-serverErr:
	case <-time.After(2 * time.Second):
		t.Error("server did not shutdown in time after context cancellation")
	}
}
