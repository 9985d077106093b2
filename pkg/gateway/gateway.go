// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/relaymesh/gwproxy/pkg/breaker"
	"github.com/relaymesh/gwproxy/pkg/classify"
	"github.com/relaymesh/gwproxy/pkg/codec"
	pkgerrors "github.com/relaymesh/gwproxy/pkg/errors"
	"github.com/relaymesh/gwproxy/pkg/events"
	"github.com/relaymesh/gwproxy/pkg/metrics"
	"github.com/relaymesh/gwproxy/pkg/parser"
	"github.com/relaymesh/gwproxy/pkg/proxy"
	"github.com/relaymesh/gwproxy/pkg/statusmap"
)

// Gateway drives the per-request state machine:
// ENTRY → CLASSIFIED → FILTERED → {PASS | REDIRECT | PROXY | WEBSOCKET |
// ERROR}. One Gateway is constructed per mount point and its Middleware
// method wraps an inner http.Handler, exactly like the host framework's
// own middleware convention.
type Gateway struct {
	cfg        Config
	classifier *classify.Classifier
	http       *proxy.HTTPEngine
	ws         *proxy.WebSocketEngine
	filter     Filter
	emitter    *events.Emitter
	metrics    *metrics.Metrics
	breakers   *breaker.Registry
}

// New builds a Gateway. parserOrFn is either a *parser.BackendParser or a
// bare func(*http.Request) (*url.URL, error) lifted via parser.New. filter
// may be nil.
func New(parserOrFn any, filter Filter, cfg Config) (*Gateway, error) {
	cfg = cfg.withDefaults()

	bp, err := resolveBackendParser(parserOrFn)
	if err != nil {
		return nil, err
	}
	resolved := bp.Resolve(cfg.ForceProtocol, !cfg.DisableForceHTTP)

	emitter := events.New()
	if !cfg.DisableLogErrorsToConsole {
		emitter.UseSlog(cfg.Logger)
	}

	m := metrics.New(cfg.MetricsNamespace)

	var breakers *breaker.Registry
	if !cfg.DisableBreaker {
		breakers = breaker.NewRegistry(cfg.Breaker)
		breakers.OnTrip(func(key string, from, to breaker.State) {
			m.BreakerState.WithLabelValues(key).Set(float64(to))
			if to == breaker.StateOpen {
				m.BreakerTrips.WithLabelValues(key).Inc()
			}
		})
	}

	httpEngine := &proxy.HTTPEngine{
		Breakers: breakers,
		Emitter:  emitter,
		Metrics:  m,
	}
	wsEngine := &proxy.WebSocketEngine{
		HTTP:     httpEngine,
		Breakers: breakers,
		Emitter:  emitter,
		Metrics:  m,
	}

	return &Gateway{
		cfg: cfg,
		classifier: &classify.Classifier{
			GatewayHost:      cfg.GatewayHost,
			GatewaySubdomain: cfg.GatewaySubdomain,
			Parser:           resolved,
		},
		http:     httpEngine,
		ws:       wsEngine,
		filter:   filter,
		emitter:  emitter,
		metrics:  m,
		breakers: breakers,
	}, nil
}

// resolveBackendParser implements the duck-typing the middleware factory
// accepts at its boundary.
func resolveBackendParser(parserOrFn any) (*parser.BackendParser, error) {
	switch v := parserOrFn.(type) {
	case nil:
		return &parser.BackendParser{}, nil
	case *parser.BackendParser:
		return v, nil
	case func(r *http.Request) (*url.URL, error):
		return parser.New(v), nil
	default:
		return nil, fmt.Errorf("gateway: unsupported parser type %T", parserOrFn)
	}
}

// Emitter returns the gateway's event bus, so a caller can add its own
// subscribers (a metrics exporter, a test) alongside the console sink.
func (g *Gateway) Emitter() *events.Emitter { return g.emitter }

// SubscribeError registers fn on the gateway's event bus for every error
// event any component publishes.
func (g *Gateway) SubscribeError(fn events.ErrorFunc) { g.emitter.OnError(fn) }

// SubscribeLog registers fn on the gateway's event bus for every log event
// any component publishes.
func (g *Gateway) SubscribeLog(fn events.LogFunc) { g.emitter.OnLog(fn) }

// Metrics returns the gateway's Prometheus instrumentation.
func (g *Gateway) Metrics() *metrics.Metrics { return g.metrics }

// Breakers returns the gateway's per-backend circuit breaker registry, or
// nil if breaking is disabled.
func (g *Gateway) Breakers() *breaker.Registry { return g.breakers }

// Middleware wraps next, intercepting requests per the state machine above
// and falling through to next for every PASS decision.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.serve(w, r, next)
	})
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	info, err := g.classifier.Phase1(r)
	if err != nil {
		g.fail(w, err, "")
		return
	}

	if g.filter != nil {
		consumed := false
		nextCalled := false
		result := g.filter(info, w, r, func(nextErr error) {
			nextCalled = true
			if nextErr != nil {
				g.fail(w, nextErr, info.TargetID)
				return
			}
			next.ServeHTTP(w, r)
		})

		switch result {
		case Veto:
			g.observe("pass")
			if !nextCalled {
				next.ServeHTTP(w, r)
			}
			return
		case Consumed:
			consumed = true
		case Proceed:
		}
		if consumed {
			return
		}
	}

	if err := g.classifier.Phase2(info, r); err != nil {
		g.fail(w, err, info.TargetID)
		return
	}

	switch {
	case !info.IsGatewayIntercept:
		g.observe("pass")
		next.ServeHTTP(w, r)

	case info.IsWebsocketRequest:
		g.observe("websocket")
		if err := g.ws.Tunnel(w, r, info); err != nil {
			g.fail(w, err, info.TargetID)
		}

	case !info.IsGatewayHost:
		g.observe("redirect")
		g.redirect(w, r, info)

	default:
		g.observe("proxy")
		if err := g.http.ForwardHTTP(w, r, info); err != nil {
			g.fail(w, err, info.TargetID)
		}
	}
}

// redirect answers with HTTP 302 to the subdomain-encoded form of this
// request's target.
func (g *Gateway) redirect(w http.ResponseWriter, r *http.Request, info *classify.RequestInfo) {
	location := &url.URL{
		Scheme:   parser.RequestScheme(r),
		Host:     codec.Encode(info.TargetID) + "." + info.GatewayDomainPostfix,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	http.Redirect(w, r, location.String(), http.StatusFound)
}

// fail implements the ERROR transition: emit error + log events, respond
// with the statusmap-mapped status (or 500 for an unmapped error). An
// error carrying a *ProxyError was already published by the engine that
// built it, so it is not published a second time.
func (g *Gateway) fail(w http.ResponseWriter, err error, targetID string) {
	g.observe("error")
	var proxyErr *pkgerrors.ProxyError
	if !errors.As(err, &proxyErr) {
		g.emitter.Error(err)
	}
	g.emitter.Log(events.ERROR, "gateway request failed", "target", targetID, "error", err.Error())

	if g.metrics != nil {
		var token string
		mapped := statusmap.Map(err)
		if mapped.OriginalCode != "" {
			token = mapped.OriginalCode
			g.metrics.UpstreamErrors.WithLabelValues(token).Inc()
		}
		http.Error(w, http.StatusText(mapped.StatusCode), mapped.StatusCode)
		return
	}

	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (g *Gateway) observe(decision string) {
	if g.metrics != nil {
		g.metrics.ObserveDecision(decision)
	}
}

// Logger exposes the resolved slog.Logger for callers that want to log
// alongside the gateway using the same sink.
func (g *Gateway) Logger() *slog.Logger { return g.cfg.Logger }
