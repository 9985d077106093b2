// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"net/http"

	"github.com/relaymesh/gwproxy/pkg/classify"
)

// FilterResult is an explicit, statically typed replacement for a callback
// convention that would otherwise overload "strict-equal-false" and
// "called next itself" onto a single return value.
type FilterResult int

const (
	// Proceed lets Phase 2 classification and forwarding continue.
	Proceed FilterResult = iota

	// Veto stops interception outright; the request passes through to
	// the wrapped handler unchanged, exactly as if Phase 2 had resolved
	// no backend URL.
	Veto

	// Consumed means the filter itself produced the response (it called
	// NextFunc to hand the request to the wrapped handler, or wrote a
	// response directly). The orchestrator does not call NextFunc again
	// and does not run Phase 2.
	Consumed
)

// NextFunc is the filter's handle on the orchestrator's own pass-through
// step. Calling it with a non-nil err reports an error; calling it with
// nil hands the request to the wrapped handler. A filter that calls
// NextFunc itself must return Consumed.
type NextFunc func(err error)

// Filter inspects Phase 1's RequestInfo and the request before Phase 2
// runs. It may veto interception, consume the request itself, or return
// Proceed to let classification continue unchanged.
type Filter func(info *classify.RequestInfo, w http.ResponseWriter, r *http.Request, next NextFunc) FilterResult
