package proxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"golang.org/x/sync/semaphore"

	"github.com/die-net/orpipe/internal/binding"
)

// Connector opens a stream to a remote overlay address. *overlay.Client
// implements it.
type Connector interface {
	Connect(ctx context.Context, host string, port uint16) (net.Conn, error)
}

// AcceptError ends a Server: its listener can no longer accept.
type AcceptError struct {
	Binding binding.Binding
	Err     error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("binding %s: accept: %v", e.Binding, e.Err)
}

func (e *AcceptError) Unwrap() error { return e.Err }

// Server supervises the listener for one binding.
type Server struct {
	ctx     context.Context
	binding binding.Binding
	name    string
	overlay Connector
	cfg     Config
	pool    *BufferPool
	sem     *semaphore.Weighted
}

// NewServer returns a Server forwarding b's local connections through c.
// Canceling ctx stops Serve and closes every connection it started.
func NewServer(ctx context.Context, cfg Config, b binding.Binding, c Connector) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Server{
		ctx:     ctx,
		binding: b,
		name:    b.String(),
		overlay: c,
		cfg:     cfg,
		pool:    NewBufferPool(cfg.BufferSize),
	}
	if cfg.MaxConns > 0 {
		s.sem = semaphore.NewWeighted(cfg.MaxConns)
	}
	return s
}

// Serve accepts connections on ln until accepting fails or the Server's
// context is canceled. Each connection's overlay connect runs inline; the
// forward runs in its own goroutine. A failed connect drops only that
// connection.
//
// Serve returns nil after cancellation and an *AcceptError otherwise.
func (s *Server) Serve(ln net.Listener) error {
	stop := context.AfterFunc(s.ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	for {
		if s.sem != nil {
			if err := s.sem.Acquire(s.ctx, 1); err != nil {
				return nil
			}
		}

		local, err := ln.Accept()
		if err != nil {
			s.release()
			if s.ctx.Err() != nil {
				return nil
			}
			return &AcceptError{Binding: s.binding, Err: err}
		}
		s.cfg.Metrics.Accepted(s.name)

		remote, err := s.connect()
		if err != nil {
			_ = local.Close()
			s.release()
			s.cfg.Metrics.ConnectFailed(s.name)
			if s.cfg.Verbose {
				log.Printf("%s: %s: %v", s.name, local.RemoteAddr(), err)
			}
			continue
		}

		if s.cfg.Verbose {
			log.Printf("%s: %s: connected", s.name, local.RemoteAddr())
		}
		go s.forward(local, remote)
	}
}

func (s *Server) connect() (net.Conn, error) {
	ctx := s.ctx
	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}
	return s.overlay.Connect(ctx, s.binding.RemoteHost, s.binding.RemotePort)
}

func (s *Server) forward(local, remote net.Conn) {
	defer s.release()
	defer s.cfg.Metrics.ForwardStarted(s.name)()

	t, err := CopyBidirectional(s.ctx, local, remote, s.pool)

	var kind string
	var fe *ForwardError
	if errors.As(err, &fe) {
		kind = fe.Kind.String()
	}
	s.cfg.Metrics.ForwardDone(s.name, t.Sent, t.Received, kind)

	if s.cfg.Verbose {
		if err != nil {
			log.Printf("%s: %s: closed after %d/%d bytes: %v", s.name, local.RemoteAddr(), t.Sent, t.Received, err)
		} else {
			log.Printf("%s: %s: closed after %d/%d bytes", s.name, local.RemoteAddr(), t.Sent, t.Received)
		}
	}
}

func (s *Server) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}
