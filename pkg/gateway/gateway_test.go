package gateway

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/relaymesh/gwproxy/pkg/breaker"
	"github.com/relaymesh/gwproxy/pkg/classify"
)

func newTestGateway(t *testing.T, fn func(r *http.Request) (*url.URL, error), filter Filter) *Gateway {
	t.Helper()
	cfg := DefaultConfig()
	cfg.GatewayHost = "example.com"
	cfg.DisableBreaker = true

	g, err := New(fn, filter, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestMiddlewarePassThrough(t *testing.T) {
	fn := func(r *http.Request) (*url.URL, error) { return nil, nil }
	g := newTestGateway(t, fn, nil)

	calledNext := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calledNext = true
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodGet, "http://example.com/other", nil)
	w := httptest.NewRecorder()
	g.Middleware(next).ServeHTTP(w, r)

	if !calledNext {
		t.Error("expected pass-through to call next handler")
	}
	if w.Code != http.StatusOK {
		t.Errorf("got status %d, want 200", w.Code)
	}
}

func TestMiddlewareRedirect(t *testing.T) {
	want, _ := url.Parse("http://localhost:3030/foo")
	fn := func(r *http.Request) (*url.URL, error) { return want, nil }
	g := newTestGateway(t, fn, nil)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next should not be called on redirect")
	})

	r := httptest.NewRequest(http.MethodGet, "http://example.com/backend/foo", nil)
	w := httptest.NewRecorder()
	g.Middleware(next).ServeHTTP(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("got status %d, want 302", w.Code)
	}
	loc := w.Header().Get("Location")
	if loc == "" {
		t.Fatal("expected Location header")
	}
}

func TestFilterVeto(t *testing.T) {
	fn := func(r *http.Request) (*url.URL, error) {
		t.Error("parser should not run after veto")
		return nil, nil
	}
	filter := func(info *classify.RequestInfo, w http.ResponseWriter, r *http.Request, next NextFunc) FilterResult {
		return Veto
	}
	g := newTestGateway(t, fn, filter)

	calledNext := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calledNext = true
	})

	r := httptest.NewRequest(http.MethodGet, "http://example.com/backend/foo", nil)
	w := httptest.NewRecorder()
	g.Middleware(next).ServeHTTP(w, r)

	if !calledNext {
		t.Error("expected veto to fall through to next handler")
	}
}

func TestFilterConsumed(t *testing.T) {
	filter := func(info *classify.RequestInfo, w http.ResponseWriter, r *http.Request, next NextFunc) FilterResult {
		next(nil)
		return Consumed
	}
	fn := func(r *http.Request) (*url.URL, error) {
		t.Error("parser should not run once filter consumed the request")
		return nil, nil
	}
	g := newTestGateway(t, fn, filter)

	calledNext := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calledNext = true
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodGet, "http://example.com/backend/foo", nil)
	w := httptest.NewRecorder()
	g.Middleware(next).ServeHTTP(w, r)

	if !calledNext {
		t.Error("expected filter's own next() call to reach the wrapped handler")
	}
}

func TestNewWiresBreakerTripsIntoMetrics(t *testing.T) {
	fn := func(r *http.Request) (*url.URL, error) { return nil, nil }
	cfg := DefaultConfig()
	cfg.GatewayHost = "example.com"
	cfg.Breaker = breaker.Config{MaxFailures: 1, ResetTimeout: time.Hour}

	g, err := New(fn, nil, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cb := g.Breakers().For("backend.internal:9000")
	cb.Call(func() error { return errors.New("dial refused") })
	if cb.State() != breaker.StateOpen {
		t.Fatal("expected breaker to open after MaxFailures=1")
	}

	// OnStateChange (and so the gauge/counter update this hooks into) runs
	// on its own goroutine; poll the gathered metrics until it lands.
	deadline := time.Now().Add(time.Second)
	var sawTrips, sawState bool
	for time.Now().Before(deadline) {
		families, err := g.Metrics().Registry.Gather()
		if err != nil {
			t.Fatalf("Gather: %v", err)
		}
		for _, f := range families {
			switch f.GetName() {
			case "gateway_breaker_trips_total":
				sawTrips = true
			case "gateway_breaker_state":
				for _, metric := range f.GetMetric() {
					if metric.GetGauge().GetValue() == float64(breaker.StateOpen) {
						sawState = true
					}
				}
			}
		}
		if sawTrips && sawState {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !sawTrips {
		t.Error("expected gateway_breaker_trips_total to be recorded after a trip")
	}
	if !sawState {
		t.Error("expected gateway_breaker_state to be recorded as open after a trip")
	}
}
