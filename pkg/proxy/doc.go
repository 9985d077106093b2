// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package proxy implements the gateway's two wired forwarding engines:
// HTTPEngine (the HTTP Proxy Engine) and WebSocketEngine (the WebSocket
// Tunnel Engine). Both share HTTPEngine's request builder so header and
// path rewriting rules live in one place.
//
// # Architecture
//
//	Gateway (pkg/gateway)
//	     ↓
//	┌─────────────────┐      ┌──────────────────┐
//	│   HTTPEngine     │      │ WebSocketEngine   │
//	│  builds request  │◄─────┤ shares builder    │
//	│  streams body    │      │ hijacks + splices │
//	└─────────────────┘      └──────────────────┘
//	     ↓                          ↓
//	┌─────────────────────────────────────┐
//	│     breaker.Registry (per backend)  │
//	└─────────────────────────────────────┘
//
// Splice, used by WebSocketEngine and by the standalone TCP Tunnel Engine
// in pkg/server/tcp, performs the full-duplex byte copy with half-close
// shared by every raw-socket tunnel the gateway opens.
//
// # Error mapping
//
// Every dial and transport failure is wrapped through pkg/statusmap before
// it reaches the caller, so the middleware orchestrator always has an HTTP
// status to answer the client with, regardless of which engine failed.
package proxy
