package classify

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/relaymesh/gwproxy/pkg/codec"
	"github.com/relaymesh/gwproxy/pkg/parser"
)

// websocketPathSuffix is appended by some upstream frameworks and must be
// stripped before forwarding.
const websocketPathSuffix = "/.websocket"

// RequestInfo is the per-request scratch record produced by the
// Classifier. It is owned exclusively by the request that created it and
// discarded when that request completes; nothing caches or shares it
// across requests.
type RequestInfo struct {
	// IsGatewayIntercept is the final decision: should this request be
	// proxied by the gateway at all?
	IsGatewayIntercept bool

	// IsGatewayHost is true when the Host header ends with
	// GatewayDomainPostfix, meaning the target identity is encoded in the
	// leading DNS label (host mode).
	IsGatewayHost bool

	// IsWebsocketRequest is true when the request carries an Upgrade:
	// websocket or a Sec-WebSocket-Protocol header.
	IsWebsocketRequest bool

	// TargetID is the opaque backend identifier. In host mode it is
	// decoded from the leading label; otherwise it defaults to the
	// resolved backend URL's host. Empty means "not yet known".
	TargetID string

	// GatewayDomainPostfix is "<subdomain>.<gateway_host>".
	GatewayDomainPostfix string

	// TargetMethod is the HTTP method to use upstream.
	TargetMethod string

	// BackendURL is the absolute upstream URL: scheme, host, port, path,
	// query. Populated once IsGatewayIntercept is true.
	BackendURL *url.URL
}

// Classifier runs the two-phase classification the gateway state machine
// needs before it can forward a request. It is constructed once per gateway and shared, read-only, across all
// requests it classifies.
type Classifier struct {
	// GatewayHost is the explicit authority of the gateway. When empty it
	// is auto-derived per request from the Host header.
	GatewayHost string

	// GatewaySubdomain is the DNS label separating an encoded target from
	// the gateway authority.
	GatewaySubdomain string

	// Parser is the resolved BackendParser (its nil fields already
	// replaced by defaults via BackendParser.Resolve).
	Parser *parser.BackendParser
}

// Phase1 always runs, before any caller-supplied filter. It never touches
// the backend: it only inspects headers and, for host-mode requests,
// resolves the backend URL via Parser.ParseURLFromID.
func (c *Classifier) Phase1(r *http.Request) (*RequestInfo, error) {
	info := &RequestInfo{}

	gatewayHost := c.GatewayHost
	if gatewayHost == "" {
		sep := "." + c.GatewaySubdomain + "."
		if idx := strings.LastIndex(r.Host, sep); idx >= 0 {
			gatewayHost = r.Host[idx+len(sep):]
		} else {
			gatewayHost = r.Host
		}
	}

	info.GatewayDomainPostfix = c.GatewaySubdomain + "." + gatewayHost
	info.IsGatewayHost = strings.HasSuffix(r.Host, info.GatewayDomainPostfix)
	info.IsWebsocketRequest = isWebsocketRequest(r)

	if info.IsGatewayHost {
		label := strings.TrimSuffix(r.Host, info.GatewayDomainPostfix)
		label = strings.TrimSuffix(label, ".")
		info.TargetID = codec.Decode(label)

		backendURL, err := c.Parser.ParseURLFromID(r, info.TargetID)
		if err != nil {
			return nil, err
		}
		info.BackendURL = backendURL
	}

	return info, nil
}

// Phase2 runs after the filter (if any) has proceeded without vetoing. It
// resolves the route-mode backend URL when needed and fills in the fields
// required to forward the request.
func (c *Classifier) Phase2(info *RequestInfo, r *http.Request) error {
	info.IsGatewayIntercept = true

	if !info.IsGatewayHost {
		backendURL, err := c.Parser.ParseURLFromRoute(r)
		if err != nil {
			return err
		}
		info.BackendURL = backendURL
	}

	if info.BackendURL == nil {
		info.IsGatewayIntercept = false
		return nil
	}

	if info.TargetID == "" {
		info.TargetID = info.BackendURL.Host
	}
	info.TargetMethod = c.Parser.ParseMethod(r)
	info.BackendURL.Scheme = c.Parser.ParseProtocol(r)

	if info.IsWebsocketRequest {
		info.BackendURL.Path = strings.TrimSuffix(info.BackendURL.Path, websocketPathSuffix)
	}

	return nil
}

// isWebsocketRequest classifies the upgrade intent of r: gorilla/websocket's
// IsWebSocketUpgrade already gets the Connection/Upgrade token matching
// right; an Upgrade: websocket header without the Connection token also
// counts, and the Sec-WebSocket-Protocol check is added on top since some
// clients signal a protocol without repeating the Upgrade header.
func isWebsocketRequest(r *http.Request) bool {
	if websocket.IsWebSocketUpgrade(r) {
		return true
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return true
	}
	return r.Header.Get("Sec-WebSocket-Protocol") != ""
}
