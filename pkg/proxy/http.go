// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/relaymesh/gwproxy/pkg/breaker"
	"github.com/relaymesh/gwproxy/pkg/classify"
	pkgerrors "github.com/relaymesh/gwproxy/pkg/errors"
	"github.com/relaymesh/gwproxy/pkg/events"
	"github.com/relaymesh/gwproxy/pkg/metrics"
	"github.com/relaymesh/gwproxy/pkg/statusmap"
)

// HTTPEngine builds and streams plain HTTP proxy requests. It holds no
// per-request state: one instance is shared, read-only,
// across every request the gateway proxies.
type HTTPEngine struct {
	// Breakers hands out one independent circuit breaker per backend
	// host. A nil Breakers disables the circuit breaker (always closed).
	Breakers *breaker.Registry

	// Emitter receives error/log events for every proxied request.
	Emitter *events.Emitter

	// Metrics receives proxy duration/size observations. May be nil.
	Metrics *metrics.Metrics

	// TLSClientConfig is used for upstream dials whose scheme is https.
	TLSClientConfig *tls.Config

	// DialTimeout bounds establishing the upstream TCP connection.
	DialTimeout time.Duration
}

// BuildRequest constructs the upstream *http.Request from the client
// request and the classified RequestInfo: method, path, query, and headers
// are preserved verbatim, except that a Host header
// ending in the backend's host is cleared to avoid a self-redirect loop.
func (e *HTTPEngine) BuildRequest(r *http.Request, info *classify.RequestInfo) (*http.Request, error) {
	upstream, err := http.NewRequestWithContext(r.Context(), info.TargetMethod, info.BackendURL.String(), r.Body)
	if err != nil {
		return nil, err
	}

	upstream.Header = r.Header.Clone()
	clientHost := r.Host
	if host := upstream.Header.Get("Host"); host != "" {
		clientHost = host
	}
	upstream.Host = info.BackendURL.Host
	if strings.HasSuffix(clientHost, info.BackendURL.Host) {
		upstream.Header.Del("Host")
	} else if clientHost != "" {
		upstream.Host = clientHost
	}
	upstream.ContentLength = r.ContentLength

	return upstream, nil
}

// transport returns the RoundTripper for scheme, dialing through this
// engine's per-backend breaker.
func (e *HTTPEngine) transport(host, scheme string) http.RoundTripper {
	var cb *breaker.CircuitBreaker
	if e.Breakers != nil {
		cb = e.Breakers.For(host)
	}

	dialTimeout := e.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: dialTimeout}

	rt := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (conn net.Conn, err error) {
			call := func() error {
				conn, err = dialer.DialContext(ctx, network, addr)
				return err
			}
			if cb != nil {
				err = cb.Call(call)
			} else {
				err = call()
			}
			return conn, err
		},
	}

	if scheme == "https" || scheme == "wss" {
		rt.TLSClientConfig = e.TLSClientConfig
	}

	return rt
}

// ForwardHTTP executes the full HTTP proxy round trip: build the upstream
// request, dial and send it through the per-backend breaker, and stream
// the response (status line, headers, and body verbatim) back to w.
func (e *HTTPEngine) ForwardHTTP(w http.ResponseWriter, r *http.Request, info *classify.RequestInfo) error {
	upstream, err := e.BuildRequest(r, info)
	if err != nil {
		return statusmap.Map(err)
	}

	client := &http.Client{
		Transport: e.transport(info.BackendURL.Host, info.BackendURL.Scheme),
		// Relay a backend redirect to the client instead of following it.
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	start := time.Now()
	resp, err := client.Do(upstream)
	if err != nil {
		e.observe(info.TargetMethod, "error", time.Since(start))
		wrapped := pkgerrors.New("dial", "http", info.TargetID, r.RemoteAddr, err)
		if e.Emitter != nil {
			e.Emitter.Error(wrapped)
		}
		return statusmap.Map(wrapped)
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	written, copyErr := io.Copy(w, resp.Body)
	e.observe(info.TargetMethod, http.StatusText(resp.StatusCode), time.Since(start))
	if e.Metrics != nil {
		e.Metrics.ProxyResponseSize.WithLabelValues().Observe(float64(written))
	}

	if e.Emitter != nil {
		e.Emitter.Log(events.DEBUG, "http proxy forwarded", "target", info.TargetID, "method", info.TargetMethod, "status", resp.StatusCode, "elapsed", time.Since(start))
	}

	if copyErr != nil {
		// Headers were already flushed; nothing left to map through
		// statusmap. Log and let the handler close the connection.
		if e.Emitter != nil {
			e.Emitter.Log(events.WARN, "http proxy body copy failed", "target", info.TargetID, "error", copyErr.Error())
		}
	}

	return nil
}

func (e *HTTPEngine) observe(method, status string, elapsed time.Duration) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.ProxyRequestsTotal.WithLabelValues(method, status).Inc()
	e.Metrics.ProxyDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
