// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"net/http"
	"net/url"
	"strings"
)

// BackendParser is a bundle of four optional callbacks the classifier calls
// to derive an upstream URL, protocol, and method from a request. Any nil
// field falls back to the matching Default* function. BackendParser is
// constructed once per middleware and never mutated afterwards; the same
// value is safe to share across concurrent requests.
type BackendParser struct {
	// ParseURLFromID resolves the backend URL when the request arrived in
	// host mode, i.e. the target id was decoded out of the Host header.
	ParseURLFromID func(r *http.Request, targetID string) (*url.URL, error)

	// ParseURLFromRoute resolves the backend URL when the request arrived
	// in route mode. Returning (nil, nil) means "do not intercept this
	// request" and the gateway passes it through unchanged.
	ParseURLFromRoute func(r *http.Request) (*url.URL, error)

	// ParseProtocol returns the upstream scheme to use.
	ParseProtocol func(r *http.Request) string

	// ParseMethod returns the upstream HTTP method to use.
	ParseMethod func(r *http.Request) string
}

// New lifts a bare route-resolution function into a BackendParser whose
// ParseURLFromRoute is fn and whose other three slots use their defaults.
// This is the duck-typing the gateway's middleware factory performs at its
// boundary: callers may pass either a *BackendParser or a plain function.
func New(fn func(r *http.Request) (*url.URL, error)) *BackendParser {
	return &BackendParser{ParseURLFromRoute: fn}
}

// Resolve returns a copy of p with every nil callback filled in by its
// default, the protocol default closing over the gateway's force-protocol
// and force-http settings. gateway.New calls Resolve once per
// BackendParser at gateway-construction time, not per request.
func (p *BackendParser) Resolve(forceProtocol string, forceHTTP bool) *BackendParser {
	resolved := &BackendParser{}
	if p != nil {
		*resolved = *p
	}
	if resolved.ParseURLFromID == nil {
		resolved.ParseURLFromID = DefaultParseURLFromID
	}
	if resolved.ParseURLFromRoute == nil {
		resolved.ParseURLFromRoute = DefaultParseURLFromRoute
	}
	if resolved.ParseProtocol == nil {
		resolved.ParseProtocol = func(r *http.Request) string {
			return DefaultParseProtocol(r, forceProtocol, forceHTTP)
		}
	}
	if resolved.ParseMethod == nil {
		resolved.ParseMethod = DefaultParseMethod
	}
	return resolved
}

// RequestScheme infers the scheme a request arrived on. It trusts r.TLS
// over any forwarded header, since the gateway sits directly in front of
// clients in the default topology.
func RequestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

// DefaultParseURLFromID builds scheme://targetID<originalPath>?<query>, the
// default resolution for host-mode requests.
func DefaultParseURLFromID(r *http.Request, targetID string) (*url.URL, error) {
	return url.Parse(RequestScheme(r) + "://" + targetID + r.URL.RequestURI())
}

// DefaultParseURLFromRoute treats the request path, with its leading slash
// stripped, as scheme://<remainder>. It assumes the host
// framework has already stripped its own mount prefix from r.URL.Path
// before the gateway middleware runs, which is how net/http's
// http.StripPrefix and every Go router's sub-mux convention work. An empty
// remainder means "do not intercept".
func DefaultParseURLFromRoute(r *http.Request) (*url.URL, error) {
	remainder := strings.TrimPrefix(r.URL.RequestURI(), "/")
	if remainder == "" {
		return nil, nil
	}
	return url.Parse(RequestScheme(r) + "://" + remainder)
}

// DefaultParseProtocol returns the request's scheme, overridden by
// forceProtocol when set, then downgraded from https/wss to http/ws when
// forceHTTP is true.
func DefaultParseProtocol(r *http.Request, forceProtocol string, forceHTTP bool) string {
	scheme := RequestScheme(r)
	if forceProtocol != "" {
		scheme = forceProtocol
	}
	if forceHTTP {
		scheme = Downgrade(scheme)
	}
	return scheme
}

// Downgrade maps https->http and wss->ws, leaving any other scheme as-is.
func Downgrade(scheme string) string {
	switch scheme {
	case "https":
		return "http"
	case "wss":
		return "ws"
	default:
		return scheme
	}
}

// DefaultParseMethod returns the request's own HTTP method.
func DefaultParseMethod(r *http.Request) string {
	return r.Method
}
