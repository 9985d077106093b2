// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package parser defines the pluggable backend-resolution strategy used by
// the gateway's request classifier.
//
// # Overview
//
// A BackendParser is a bundle of four optional callbacks, each with a
// well-defined default, that the classifier calls to turn an incoming
// *http.Request into an upstream URL, protocol, and method:
//
//	ParseURLFromID    — host-mode: decoded target id -> backend URL
//	ParseURLFromRoute — route-mode: request path/host -> backend URL, or nil
//	ParseProtocol     — backend URL scheme
//	ParseMethod       — backend HTTP method
//
// A deployment typically supplies only ParseURLFromRoute and leaves the
// rest at their defaults; a bare function argument passed to the gateway
// middleware factory is lifted into a BackendParser whose ParseURLFromRoute
// is that function (see gateway.New).
package parser
