// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/relaymesh/gwproxy/pkg/classify"
)

func TestBuildRequestClearsSelfHost(t *testing.T) {
	e := &HTTPEngine{}
	backend, _ := url.Parse("http://backend.internal:9000/foo?x=1")
	r := httptest.NewRequest(http.MethodGet, "http://gateway.example/foo?x=1", nil)
	r.Header.Set("Host", "backend.internal:9000")

	info := &classify.RequestInfo{BackendURL: backend, TargetMethod: http.MethodGet}

	upstream, err := e.BuildRequest(r, info)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if upstream.Header.Get("Host") != "" {
		t.Error("expected self-referential Host header to be cleared")
	}
	if upstream.Host != "backend.internal:9000" {
		t.Errorf("got upstream.Host %q", upstream.Host)
	}
	if upstream.URL.String() != backend.String() {
		t.Errorf("got upstream url %q, want %q", upstream.URL.String(), backend.String())
	}
}

func TestForwardHTTPStreamsResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Echo", r.Header.Get("X-Ping"))
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "hello from backend")
	}))
	defer backend.Close()

	backendURL, _ := url.Parse(backend.URL)
	info := &classify.RequestInfo{BackendURL: backendURL, TargetMethod: http.MethodGet}

	r := httptest.NewRequest(http.MethodGet, "http://gateway.example/", nil)
	r.Header.Set("X-Ping", "pong")
	w := httptest.NewRecorder()

	e := &HTTPEngine{}
	if err := e.ForwardHTTP(w, r, info); err != nil {
		t.Fatalf("ForwardHTTP: %v", err)
	}

	if w.Code != http.StatusTeapot {
		t.Errorf("got status %d, want %d", w.Code, http.StatusTeapot)
	}
	if w.Header().Get("X-Echo") != "pong" {
		t.Errorf("got X-Echo %q, want pong", w.Header().Get("X-Echo"))
	}
	if w.Body.String() != "hello from backend" {
		t.Errorf("got body %q", w.Body.String())
	}
}

func TestForwardHTTPMapsDialError(t *testing.T) {
	backendURL, _ := url.Parse("http://127.0.0.1:1")
	info := &classify.RequestInfo{BackendURL: backendURL, TargetMethod: http.MethodGet}

	r := httptest.NewRequest(http.MethodGet, "http://gateway.example/", nil)
	w := httptest.NewRecorder()

	e := &HTTPEngine{}
	err := e.ForwardHTTP(w, r, info)
	if err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
}
