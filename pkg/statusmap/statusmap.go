// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package statusmap translates name-resolution and connection-failure
// tokens (as surfaced by net.DNSError and friends, or by the breaker) into
// the HTTP status code the gateway should answer the client with.
package statusmap

import (
	"errors"
	"net"

	"github.com/relaymesh/gwproxy/pkg/breaker"
)

const (
	// NotFound is the token for a resolver NXDOMAIN/no-such-host failure.
	NotFound = "NOTFOUND"
	// Refused is the token for an explicit connection refusal.
	Refused = "REFUSED"
	// Cancelled is the token for a cancelled dial/lookup.
	Cancelled = "CANCELLED"
	// ConnRefused is the OS-level spelling some resolvers/dialers use.
	ConnRefused = "CONNREFUSED"
	// CircuitOpen is the synthetic token for a tripped breaker.
	CircuitOpen = "CIRCUITOPEN"
)

// Code maps a failure token to an HTTP status code. Unknown and empty
// tokens map to 500. Every defined token maps to exactly one of
// {403, 404, 500}.
func Code(token string) int {
	switch token {
	case NotFound:
		return 404
	case Refused, Cancelled, ConnRefused, CircuitOpen:
		return 403
	default:
		return 500
	}
}

// Mapped is an error carrying both the resolved HTTP status and the
// original failure token, for diagnostics.
type Mapped struct {
	Code         int
	StatusCode   int
	OriginalCode string
	Err          error
}

func (m *Mapped) Error() string {
	if m.Err != nil {
		return m.Err.Error()
	}
	return m.OriginalCode
}

func (m *Mapped) Unwrap() error { return m.Err }

// TokenFor derives the failure token from a dial/lookup error: the
// breaker's ErrCircuitOpen gives CircuitOpen, a not-found net.DNSError
// gives NotFound, and any other *net.OpError gives Cancelled when it is a
// timeout and ConnRefused otherwise. Anything else gets the empty token
// (-> 500).
func TokenFor(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, breaker.ErrCircuitOpen) {
		return CircuitOpen
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return NotFound
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return Cancelled
		}
		return ConnRefused
	}

	return ""
}

// Map wraps err as a *Mapped using the token derived by TokenFor.
func Map(err error) *Mapped {
	token := TokenFor(err)
	return &Mapped{
		Code:         Code(token),
		StatusCode:   Code(token),
		OriginalCode: token,
		Err:          err,
	}
}

// MapToken wraps err as a *Mapped using an explicit token (e.g. CircuitOpen
// from the breaker, which carries no net.DNSError to inspect).
func MapToken(token string, err error) *Mapped {
	return &Mapped{
		Code:         Code(token),
		StatusCode:   Code(token),
		OriginalCode: token,
		Err:          err,
	}
}
