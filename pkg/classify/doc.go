// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package classify implements the two-phase request classification state
// machine: it turns an incoming *http.Request into a RequestInfo record
// that says whether the gateway should intercept the request, and if so,
// where to forward it.
//
// Phase 1 always runs: it decides the gateway host/postfix, detects
// websocket-upgrade and host-mode requests, and for host-mode requests
// decodes the target id and resolves the backend URL. Phase 2 runs after
// any caller-supplied filter has had a chance to veto, and fills in the
// remaining RequestInfo fields needed to forward the request.
package classify
