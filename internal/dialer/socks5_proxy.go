package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/die-net/orpipe/internal/socks5"
)

// SOCKS5ProxyDialer opens streams through a SOCKS5 proxy such as Tor's
// SocksPort. Destination hostnames are passed through unresolved.
type SOCKS5ProxyDialer struct {
	cfg       Config
	proxyAddr string
	auth      socks5.Auth
	direct    Dialer
}

// NewSOCKS5ProxyDialer constructs a dialer for the proxy at proxyAddr.
//
// If username is non-empty it is offered on every stream that carries no
// isolation key of its own.
func NewSOCKS5ProxyDialer(cfg Config, proxyAddr, username, password string) (*SOCKS5ProxyDialer, error) {
	if proxyAddr == "" {
		return nil, errors.New("socks5 proxy dialer: missing proxy address")
	}

	direct, err := NewDirectDialer(cfg)
	if err != nil {
		return nil, err
	}

	return &SOCKS5ProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		auth:      socks5.Auth{Username: username, Password: password},
		direct:    direct,
	}, nil
}

// ProxyAddr returns the proxy host:port.
func (d *SOCKS5ProxyDialer) ProxyAddr() string {
	return d.proxyAddr
}

// DialContext opens a stream to address through the proxy. An isolation key
// in ctx replaces the configured credentials for this stream.
func (d *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	auth := d.auth
	if key := IsolationKeyFrom(ctx); key != "" {
		auth = socks5.Auth{Username: key, Password: key}
	}

	c, err := d.direct.DialContext(ctx, "tcp", d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	err = negotiate(ctx, c, d.cfg.NegotiationTimeout, func() error {
		return socks5.ClientDial(c, auth, address)
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("socks5 proxy dial %s: %w", address, err)
	}

	return c, nil
}

// Probe connects to the proxy and completes method negotiation only.
func (d *SOCKS5ProxyDialer) Probe(ctx context.Context) error {
	c, err := d.direct.DialContext(ctx, "tcp", d.proxyAddr)
	if err != nil {
		return fmt.Errorf("socks5 proxy: %w", err)
	}
	defer c.Close()

	err = negotiate(ctx, c, d.cfg.NegotiationTimeout, func() error {
		return socks5.ClientNegotiate(c, d.auth)
	})
	if err != nil {
		return fmt.Errorf("socks5 proxy negotiate: %w", err)
	}
	return nil
}
