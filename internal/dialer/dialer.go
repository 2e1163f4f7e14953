package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// DefaultOverlay is the address of a stock Tor SocksPort.
const DefaultOverlay = "socks5://127.0.0.1:9050"

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober is implemented by dialers that can check the overlay proxy is
// reachable and speaks the expected protocol without opening a stream.
type Prober interface {
	Probe(ctx context.Context) error
}

// New parses overlay and constructs the appropriate Dialer.
//
// Supported schemes:
//   - socks5://[user:pass@]host:port (Tor SocksPort)
//   - socks5h://[user:pass@]host:port (same; names are never resolved locally)
//   - http://[user:pass@]host:port (Tor HTTPTunnelPort)
//   - https://[user:pass@]host:port
//   - direct://
//
// For schemes that require a host, a default port is applied if the URL host is
// missing a port.
func New(cfg Config, overlay string) (Dialer, error) {
	u, err := url.Parse(overlay)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid URL: path should be empty")
	}

	switch u.Scheme {
	case "":
		return nil, errors.New("invalid url: missing scheme")
	case "direct":
		return NewDirectDialer(cfg)
	case "http", "https", "socks5", "socks5h":
		if u.Hostname() == "" {
			return nil, errors.New("invalid url: missing host")
		}
		if u.Port() == "" {
			u.Host = net.JoinHostPort(u.Hostname(), defaultPortForScheme(u.Scheme))
		}

		var user, pass string
		if u.User != nil {
			user = u.User.Username()
			pass, _ = u.User.Password()
		}

		if u.Scheme == "http" || u.Scheme == "https" {
			d, err := NewHTTPProxyDialer(cfg, u, user, pass)
			if err != nil {
				return nil, err
			}
			return d, nil
		}

		d, err := NewSOCKS5ProxyDialer(cfg, u.Host, user, pass)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	case "socks5", "socks5h":
		return "9050"
	default:
		return ""
	}
}

type isolationKey struct{}

// WithIsolationKey returns a context carrying a stream isolation key. An empty
// key leaves ctx unchanged.
func WithIsolationKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, isolationKey{}, key)
}

// IsolationKeyFrom returns the isolation key carried by ctx, if any.
func IsolationKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(isolationKey{}).(string)
	return key
}

// negotiate runs a proxy handshake on conn bounded by timeout and ctx. The
// deadline is cleared again once fn succeeds.
func negotiate(ctx context.Context, conn net.Conn, timeout time.Duration, fn func() error) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if dl, ok := ctx.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
		deadline = dl
	}
	if !deadline.IsZero() {
		_ = conn.SetDeadline(deadline)
	}

	// Expire the deadline to unblock fn on cancellation.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	err := fn()
	if !stop() {
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	return conn.SetDeadline(time.Time{})
}
