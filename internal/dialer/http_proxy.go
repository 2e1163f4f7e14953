package dialer

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// IsolationHeader carries the stream isolation key on CONNECT requests to
// Tor's HTTPTunnelPort.
const IsolationHeader = "X-Tor-Stream-Isolation"

// HTTPProxyDialer opens streams through an HTTP or HTTPS proxy using the HTTP
// CONNECT method, as offered by Tor's HTTPTunnelPort.
type HTTPProxyDialer struct {
	cfg      Config
	proxyURL *url.URL
	auth     string
	direct   Dialer
}

// NewHTTPProxyDialer constructs an HTTP CONNECT dialer for proxyURL.
//
// If username is non-empty, Proxy-Authorization is set using HTTP Basic auth.
func NewHTTPProxyDialer(cfg Config, proxyURL *url.URL, username, password string) (*HTTPProxyDialer, error) {
	if proxyURL == nil {
		return nil, errors.New("http proxy dialer: missing proxy url")
	}
	if proxyURL.Hostname() == "" {
		return nil, errors.New("http proxy dialer: invalid proxy host")
	}
	if proxyURL.Scheme != "http" && proxyURL.Scheme != "https" {
		return nil, fmt.Errorf("http proxy dialer: unsupported scheme: %q", proxyURL.Scheme)
	}

	direct, err := NewDirectDialer(cfg)
	if err != nil {
		return nil, err
	}

	auth := ""
	if username != "" {
		auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
	}

	return &HTTPProxyDialer{
		cfg:      cfg,
		proxyURL: proxyURL,
		auth:     auth,
		direct:   direct,
	}, nil
}

// ProxyAddr returns the proxy host:port.
func (d *HTTPProxyDialer) ProxyAddr() string {
	return d.proxyURL.Host
}

// DialContext opens a stream to address via the configured proxy.
//
// For HTTPS proxies, this performs a TLS handshake to the proxy before sending
// CONNECT. The CONNECT exchange completes before DialContext returns.
func (d *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}

	c, err := d.dialProxy(ctx)
	if err != nil {
		return nil, err
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: make(http.Header),
	}
	if d.auth != "" {
		req.Header.Set("Proxy-Authorization", d.auth)
	}
	if key := IsolationKeyFrom(ctx); key != "" {
		req.Header.Set(IsolationHeader, key)
	}

	// Wrap so bytes the proxy sends right after its response are not lost.
	var br *bufio.Reader
	err = negotiate(ctx, c, d.cfg.NegotiationTimeout, func() error {
		if err := req.Write(c); err != nil {
			return fmt.Errorf("write: %w", err)
		}

		br = bufio.NewReader(c)
		resp, err := http.ReadResponse(br, req)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("failed: %s", resp.Status)
		}
		return nil
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("http proxy connect %s: %w", address, err)
	}

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: c, r: br}, nil
	}
	return c, nil
}

// Probe connects to the proxy, including the TLS handshake for HTTPS.
func (d *HTTPProxyDialer) Probe(ctx context.Context) error {
	c, err := d.dialProxy(ctx)
	if err != nil {
		return err
	}
	return c.Close()
}

func (d *HTTPProxyDialer) dialProxy(ctx context.Context) (net.Conn, error) {
	c, err := d.direct.DialContext(ctx, "tcp", d.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("http proxy: %w", err)
	}

	if d.proxyURL.Scheme != "https" {
		return c, nil
	}

	tlsConn := tls.Client(c, &tls.Config{MinVersion: tls.VersionTLS12, ServerName: d.proxyURL.Hostname()})
	err = negotiate(ctx, tlsConn, d.cfg.NegotiationTimeout, func() error {
		return tlsConn.HandshakeContext(ctx)
	})
	if err != nil {
		_ = tlsConn.Close()
		return nil, fmt.Errorf("http proxy tls handshake: %w", err)
	}
	return tlsConn, nil
}

// bufferedConn is a net.Conn whose first reads drain r.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
