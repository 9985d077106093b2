// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/gwproxy/pkg/breaker"
	pkgerrors "github.com/relaymesh/gwproxy/pkg/errors"
	"github.com/relaymesh/gwproxy/pkg/events"
	"github.com/relaymesh/gwproxy/pkg/metrics"
	"github.com/relaymesh/gwproxy/pkg/proxy"
	"github.com/relaymesh/gwproxy/pkg/statusmap"
)

// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
var ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TargetAddress is the backend server address to dial (host:port)
	TargetAddress string

	// TLSConfig is optional TLS configuration for the listener
	TLSConfig *tls.Config

	// ShutdownTimeout is the maximum time to wait for active connections to drain
	// during graceful shutdown. After this timeout, remaining connections are
	// forcefully closed.
	ShutdownTimeout time.Duration

	// DialTimeout bounds dialing TargetAddress.
	DialTimeout time.Duration

	// Breakers hands out the per-backend circuit breaker wrapping the
	// dial to TargetAddress. May be nil to disable breaking.
	Breakers *breaker.Registry

	// Emitter receives error/log events for accepted connections. May be nil.
	Emitter *events.Emitter

	// Metrics receives tunnel gauge/counter observations. May be nil.
	Metrics *metrics.Metrics

	// Logger for server events
	Logger *slog.Logger
}

// Server accepts client connections and bridges each one to TargetAddress,
// implementing the TCP Tunnel Engine. It is not wired into
// the default HTTP middleware chain; mount it as a standalone listener for
// hosts that dispatch CONNECT-style traffic.
type Server struct {
	config Config
	wg     sync.WaitGroup
}

// New creates a new TCP tunnel server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	return &Server{config: cfg}
}

// Listen starts the TCP server and blocks until the context is cancelled.
// It implements graceful shutdown with connection draining.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
		s.config.Logger.Info("TLS enabled", slog.String("address", s.config.Address))
	}

	s.config.Logger.Info("TCP tunnel server started", slog.String("address", s.config.Address), slog.String("target", s.config.TargetAddress))

	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
					continue
				}
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := s.handleConn(connCtx, conn); err != nil && !errors.Is(err, io.EOF) {
					s.config.Logger.Debug("tunnel closed with error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
					if s.config.Emitter != nil {
						s.config.Emitter.Error(err)
					}
				}
			}()
		}
	}()

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	<-acceptDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all tunnels closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
		connCancel()
		select {
		case <-done:
			return ErrShutdownTimeout
		case <-time.After(1 * time.Second):
			return ErrShutdownTimeout
		}
	}
}

// handleConn dials TargetAddress through the per-backend breaker and
// splices the two sockets together: half-open is allowed, and any dial or
// transport error closes both ends and is mapped through statusmap before
// being funneled to the emitter.
func (s *Server) handleConn(ctx context.Context, inbound net.Conn) error {
	sessionID := uuid.New().String()

	if tlsConn, ok := inbound.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			inbound.Close()
			return fmt.Errorf("TLS handshake failed: %w", err)
		}
	}

	var cb *breaker.CircuitBreaker
	if s.config.Breakers != nil {
		cb = s.config.Breakers.For(s.config.TargetAddress)
	}

	var outbound net.Conn
	dial := func() error {
		var err error
		d := &net.Dialer{Timeout: s.config.DialTimeout}
		outbound, err = d.DialContext(ctx, "tcp", s.config.TargetAddress)
		return err
	}

	var err error
	if cb != nil {
		err = cb.Call(dial)
	} else {
		err = dial()
	}
	if err != nil {
		remote := inbound.RemoteAddr().String()
		inbound.Close()
		wrapped := pkgerrors.New("dial", "tcp", sessionID, remote, err)
		if s.config.Emitter != nil {
			s.config.Emitter.Error(wrapped)
		}
		return statusmap.Map(wrapped)
	}

	s.config.Logger.Debug("tunnel established",
		slog.String("session", sessionID),
		slog.String("client", inbound.RemoteAddr().String()),
		slog.String("target", s.config.TargetAddress))

	if s.config.Metrics != nil {
		s.config.Metrics.TunnelsActive.WithLabelValues("tcp").Inc()
		defer s.config.Metrics.TunnelsActive.WithLabelValues("tcp").Dec()
	}

	// Cancelling ctx (Listen does so once ShutdownTimeout has passed)
	// closes both sockets, which ends the splice.
	spliced := make(chan struct{})
	defer close(spliced)
	go func() {
		select {
		case <-ctx.Done():
			inbound.Close()
			outbound.Close()
		case <-spliced:
		}
	}()

	proxy.Splice(inbound, outbound, nil, "tcp", s.config.Metrics)

	if s.config.Metrics != nil {
		s.config.Metrics.TunnelsTotal.WithLabelValues("tcp", "closed").Inc()
	}

	s.config.Logger.Debug("tunnel closed", slog.String("session", sessionID))

	return nil
}
