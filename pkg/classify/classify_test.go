package classify

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/relaymesh/gwproxy/pkg/parser"
)

func newClassifier(bp *parser.BackendParser) *Classifier {
	return &Classifier{
		GatewayHost:      "example.com",
		GatewaySubdomain: "gateway-proxy",
		Parser:           bp.Resolve("", true),
	}
}

func TestPhase1RouteMode(t *testing.T) {
	c := newClassifier(&parser.BackendParser{})
	r := httptest.NewRequest(http.MethodGet, "http://example.com/backend/x", nil)

	info, err := c.Phase1(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.IsGatewayHost {
		t.Error("expected IsGatewayHost = false")
	}
	if info.GatewayDomainPostfix != "gateway-proxy.example.com" {
		t.Errorf("got postfix %q", info.GatewayDomainPostfix)
	}
}

func TestPhase1HostMode(t *testing.T) {
	c := newClassifier(&parser.BackendParser{})
	r := httptest.NewRequest(http.MethodGet, "http://127.0.0.1.e058.3030.gateway-proxy.example.com/x", nil)
	r.Host = "127.0.0.1.e058.3030.gateway-proxy.example.com"

	info, err := c.Phase1(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.IsGatewayHost {
		t.Fatal("expected IsGatewayHost = true")
	}
	if info.TargetID != "127.0.0.1:3030" {
		t.Errorf("got target id %q", info.TargetID)
	}
	if info.BackendURL == nil || info.BackendURL.String() != "http://127.0.0.1:3030/x" {
		t.Errorf("got backend url %v", info.BackendURL)
	}
}

func TestPhase2PassThrough(t *testing.T) {
	bp := &parser.BackendParser{
		ParseURLFromRoute: func(r *http.Request) (*url.URL, error) { return nil, nil },
	}
	c := newClassifier(bp)
	r := httptest.NewRequest(http.MethodGet, "http://example.com/other", nil)

	info, err := c.Phase1(r)
	if err != nil {
		t.Fatalf("phase1: %v", err)
	}
	if err := c.Phase2(info, r); err != nil {
		t.Fatalf("phase2: %v", err)
	}
	if info.IsGatewayIntercept {
		t.Error("expected pass-through, IsGatewayIntercept = true")
	}
}

func TestPhase2Proxy(t *testing.T) {
	want, _ := url.Parse("http://localhost:3030/foo")
	bp := &parser.BackendParser{
		ParseURLFromRoute: func(r *http.Request) (*url.URL, error) { return want, nil },
	}
	c := newClassifier(bp)
	r := httptest.NewRequest(http.MethodGet, "http://example.com/backend/foo", nil)

	info, err := c.Phase1(r)
	if err != nil {
		t.Fatalf("phase1: %v", err)
	}
	if err := c.Phase2(info, r); err != nil {
		t.Fatalf("phase2: %v", err)
	}
	if !info.IsGatewayIntercept {
		t.Fatal("expected intercept")
	}
	if info.TargetID != "localhost:3030" {
		t.Errorf("got target id %q", info.TargetID)
	}
	if info.TargetMethod != http.MethodGet {
		t.Errorf("got method %q", info.TargetMethod)
	}
}

func TestPhase2WebsocketPathStrip(t *testing.T) {
	want, _ := url.Parse("http://localhost:3030/chat/.websocket")
	bp := &parser.BackendParser{
		ParseURLFromRoute: func(r *http.Request) (*url.URL, error) { return want, nil },
	}
	c := newClassifier(bp)
	r := httptest.NewRequest(http.MethodGet, "http://example.com/backend/chat", nil)
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Connection", "Upgrade")

	info, err := c.Phase1(r)
	if err != nil {
		t.Fatalf("phase1: %v", err)
	}
	if !info.IsWebsocketRequest {
		t.Fatal("expected websocket request")
	}
	if err := c.Phase2(info, r); err != nil {
		t.Fatalf("phase2: %v", err)
	}
	if info.BackendURL.Path != "/chat" {
		t.Errorf("got path %q, want /chat", info.BackendURL.Path)
	}
}

func TestIsWebsocketRequestViaSecProtocol(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/x", nil)
	r.Header.Set("Sec-WebSocket-Protocol", "chat")
	if !isWebsocketRequest(r) {
		t.Error("expected true via Sec-WebSocket-Protocol header")
	}
}
