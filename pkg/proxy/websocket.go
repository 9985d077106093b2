// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/relaymesh/gwproxy/pkg/breaker"
	"github.com/relaymesh/gwproxy/pkg/classify"
	pkgerrors "github.com/relaymesh/gwproxy/pkg/errors"
	"github.com/relaymesh/gwproxy/pkg/events"
	"github.com/relaymesh/gwproxy/pkg/metrics"
	"github.com/relaymesh/gwproxy/pkg/statusmap"
)

// WebSocketEngine performs the upgrade handshake against the backend and
// splices the two raw sockets together. It shares the
// HTTPEngine's request builder so header/path rules stay in one place.
type WebSocketEngine struct {
	HTTP *HTTPEngine

	Breakers *breaker.Registry
	Emitter  *events.Emitter
	Metrics  *metrics.Metrics

	// DialTimeout bounds the upstream TCP dial.
	DialTimeout time.Duration
}

// tuneTCP applies the TCP_NODELAY/keepalive discipline expected of both the
// client and upstream sockets on a tunnel.
func tuneTCP(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	tcp.SetNoDelay(true)
	tcp.SetKeepAlive(true)
	tcp.SetKeepAlivePeriod(0)
}

// Tunnel hijacks the client connection and bridges it to the backend: dial,
// handshake, response synthesis, and duplex splice with half-close.
func (e *WebSocketEngine) Tunnel(w http.ResponseWriter, r *http.Request, info *classify.RequestInfo) error {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return statusmap.MapToken(statusmap.ConnRefused, fmt.Errorf("response writer does not support hijacking"))
	}

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		return statusmap.Map(err)
	}
	clientConn.SetDeadline(time.Time{})
	tuneTCP(clientConn)

	upstreamConn, upstreamResp, leading, err := e.dialUpstream(r, info)
	if err != nil {
		wrapped := pkgerrors.New("dial", "websocket", info.TargetID, r.RemoteAddr, err)
		if e.Emitter != nil {
			e.Emitter.Error(wrapped)
		}
		// The connection is hijacked, so the mapped status goes straight
		// onto the client socket.
		mapped := statusmap.Map(wrapped)
		fmt.Fprintf(clientConn, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\n\r\n", mapped.StatusCode, http.StatusText(mapped.StatusCode))
		clientConn.Close()
		return mapped
	}

	if upstreamResp.StatusCode != http.StatusSwitchingProtocols {
		if e.Emitter != nil {
			deniedErr := pkgerrors.New("upgrade", "websocket", info.TargetID, r.RemoteAddr, pkgerrors.ErrUpgradeDenied)
			e.Emitter.Error(deniedErr)
			e.Emitter.Log(events.WARN, "websocket upgrade denied by backend", "target", info.TargetID, "status", upstreamResp.StatusCode)
		}
		fmt.Fprintf(clientConn, "HTTP/1.1 %d %s\r\nContent-Length: 6\r\n\r\ndenied", upstreamResp.StatusCode, http.StatusText(upstreamResp.StatusCode))
		upstreamConn.Close()
		clientConn.Close()
		if e.Metrics != nil {
			e.Metrics.TunnelsTotal.WithLabelValues("websocket", "denied").Inc()
		}
		return nil
	}

	tuneTCP(upstreamConn)

	if err := writeUpgradeResponse(clientConn, upstreamResp); err != nil {
		upstreamConn.Close()
		clientConn.Close()
		return statusmap.Map(err)
	}

	if e.Metrics != nil {
		e.Metrics.TunnelsActive.WithLabelValues("websocket").Inc()
	}
	if e.Emitter != nil {
		e.Emitter.Log(events.DEBUG, "websocket tunnel established", "target", info.TargetID)
	}

	Splice(clientConn, upstreamConn, leading, "websocket", e.Metrics)

	if e.Metrics != nil {
		e.Metrics.TunnelsActive.WithLabelValues("websocket").Dec()
		e.Metrics.TunnelsTotal.WithLabelValues("websocket", "closed").Inc()
	}

	return nil
}

// dialUpstream opens the backend TCP connection (through the per-backend
// breaker), writes the upgrade request, and reads the backend's response
// line and headers. It returns any bytes the backend sent immediately
// after its response headers as leading, to be replayed into the splice.
func (e *WebSocketEngine) dialUpstream(r *http.Request, info *classify.RequestInfo) (net.Conn, *http.Response, []byte, error) {
	var cb *breaker.CircuitBreaker
	if e.Breakers != nil {
		cb = e.Breakers.For(info.BackendURL.Host)
	}

	dialTimeout := e.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}

	var conn net.Conn
	dial := func() error {
		var err error
		d := &net.Dialer{Timeout: dialTimeout}
		conn, err = d.DialContext(context.Background(), "tcp", info.BackendURL.Host)
		return err
	}

	var err error
	if cb != nil {
		err = cb.Call(dial)
	} else {
		err = dial()
	}
	if err != nil {
		return nil, nil, nil, err
	}

	upstreamReq, err := e.HTTP.BuildRequest(r, info)
	if err != nil {
		conn.Close()
		return nil, nil, nil, err
	}
	upstreamReq.Header.Set("Connection", "Upgrade")
	upstreamReq.Header.Set("Upgrade", "websocket")

	if err := upstreamReq.Write(conn); err != nil {
		conn.Close()
		return nil, nil, nil, err
	}

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, upstreamReq)
	if err != nil {
		conn.Close()
		return nil, nil, nil, err
	}

	var leading []byte
	if n := reader.Buffered(); n > 0 {
		leading = make([]byte, n)
		io.ReadFull(reader, leading)
	}

	return conn, resp, leading, nil
}

// writeUpgradeResponse synthesizes the literal HTTP/1.1 101 response: status
// line, then every upstream header one line per value (array-valued
// headers emit one line per element), terminated by a blank line.
func writeUpgradeResponse(w io.Writer, resp *http.Response) error {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	for key, values := range resp.Header {
		for _, v := range values {
			b.WriteString(key)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// Splice bridges a and b with a full-duplex byte copy and half-close: when
// one side's read loop ends, its write half is closed so the other side
// observes EOF, exactly as sammck's Pipe function closes each direction
// independently before finally closing both ends. leading, if non-empty, is
// written to a before any bytes are copied from b (the backend's upgrade
// handshake may have delivered payload bytes past its response headers).
func Splice(a, b net.Conn, leading []byte, transport string, m *metrics.Metrics) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, _ := io.Copy(b, a)
		closeWrite(b)
		if m != nil {
			m.TunnelBytes.WithLabelValues(transport, "upstream").Add(float64(n))
		}
	}()

	go func() {
		defer wg.Done()
		var leadN int64
		if len(leading) > 0 {
			written, _ := a.Write(leading)
			leadN = int64(written)
		}
		n, _ := io.Copy(a, b)
		closeWrite(a)
		if m != nil {
			m.TunnelBytes.WithLabelValues(transport, "downstream").Add(float64(n) + float64(leadN))
		}
	}()

	wg.Wait()
	a.Close()
	b.Close()
}

// closeWrite half-closes conn's write side when it supports it, else it
// closes the connection outright.
func closeWrite(conn net.Conn) {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := conn.(writeCloser); ok {
		wc.CloseWrite()
		return
	}
	conn.Close()
}
