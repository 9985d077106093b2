// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the gateway's TCP Tunnel Engine: a raw socket
// bridge between an accepted client connection and a freshly dialed
// backend connection.
//
// # Overview
//
// The TCP server accepts connections, dials TargetAddress through a
// per-backend circuit breaker, and splices the two sockets together with
// half-close. It supports TLS termination on the listener and graceful
// shutdown with connection draining.
//
// This engine is not wired into the default HTTP middleware chain; it is
// exposed as its own mountable listener for hosts that dispatch
// CONNECT-style traffic directly to a backend address rather than through
// the classifier.
//
// # Architecture
//
//	┌─────────┐         ┌─────────┐         ┌─────────┐
//	│ Client  │ ←─TCP─→ │  Server │ ←─TCP─→ │ Backend │
//	└─────────┘         └─────────┘         └─────────┘
//	                         ↓
//	                    ┌─────────┐
//	                    │ Breaker │
//	                    └─────────┘
//
// # Connection Flow
//
//  1. Client connects to server
//  2. Server accepts connection
//  3. Server dials backend through the per-backend breaker
//  4. Server splices both sockets with half-close (proxy.Splice)
//  5. Either side closing ends the tunnel
//
// # Graceful Shutdown
//
// When context is canceled:
//
//  1. Server stops accepting new connections
//  2. Server waits for existing connections (with timeout)
//  3. After ShutdownTimeout, forcefully closes remaining connections
//  4. Returns ErrShutdownTimeout if timeout exceeded
//
// Connection tracking uses sync.WaitGroup:
//
//	server.wg.Add(1)
//	go server.handleConn(...)
//	defer server.wg.Done()
//
// # TLS Support
//
// Optional TLS termination:
//
//	tlsConfig := &tls.Config{
//		Certificates: []tls.Certificate{cert},
//	}
//	cfg := tcp.Config{
//		Address:       ":8443",
//		TargetAddress: "localhost:9443",
//		TLSConfig:     tlsConfig,
//	}
//
// # Configuration
//
//   - Address: Server listen address (e.g., ":9000")
//   - TargetAddress: Backend address (e.g., "backend:9000")
//   - TLSConfig: Optional TLS configuration
//   - ShutdownTimeout: Max wait time for graceful shutdown (default: 30s)
//   - Logger: Structured logger
//
// # Error Handling
//
//   - Connection errors: logged and connection closed
//   - Backend dial errors: mapped through statusmap, logged, client connection closed
//   - Breaker open: dial is skipped, mapped to the CIRCUITOPEN token
//   - Shutdown timeout: returns ErrShutdownTimeout
//
// # Example
//
//	cfg := tcp.Config{
//		Address:         ":8443",
//		TargetAddress:   "backend:8443",
//		ShutdownTimeout: 30 * time.Second,
//	}
//
//	server := tcp.New(cfg)
//	if err := server.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
