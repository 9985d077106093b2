// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package gateway implements the Middleware Orchestrator: the per-request
// state machine ENTRY → CLASSIFIED → FILTERED →
// {PASS | REDIRECT | PROXY | WEBSOCKET | ERROR} that composes the
// classifier, the optional caller filter, and the HTTP/WebSocket proxy
// engines into a single net/http middleware.
package gateway
