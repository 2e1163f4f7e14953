package overlay

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/die-net/orpipe/internal/dialer"
)

// IsolationMode selects how streams are spread over Tor circuits.
type IsolationMode int

const (
	// IsolateNone lets Tor share circuits between all streams.
	IsolateNone IsolationMode = iota
	// IsolateDestination gives each remote host:port its own circuits.
	IsolateDestination
	// IsolateConnection gives every connection its own circuit.
	IsolateConnection
)

var isolationNames = []string{"none", "destination", "connection"}

func (m IsolationMode) String() string {
	if m < 0 || int(m) >= len(isolationNames) {
		return "IsolationMode(" + strconv.Itoa(int(m)) + ")"
	}
	return isolationNames[m]
}

// ParseIsolationMode parses "none", "destination" or "connection".
func ParseIsolationMode(s string) (IsolationMode, error) {
	for i, name := range isolationNames {
		if strings.EqualFold(s, name) {
			return IsolationMode(i), nil
		}
	}
	return IsolateNone, fmt.Errorf("unknown isolation mode %q (want %s)", s, strings.Join(isolationNames, ", "))
}

// Set implements pflag.Value.
func (m *IsolationMode) Set(s string) error {
	v, err := ParseIsolationMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Type implements pflag.Value.
func (m *IsolationMode) Type() string {
	return "mode"
}

// Options are fixed when the Client is created.
type Options struct {
	// OnionServices allows connections to .onion destinations.
	OnionServices bool
	Isolation     IsolationMode
}

// Client is the process-wide handle to the overlay network. It is safe for
// concurrent use; share the pointer rather than copying the value.
type Client struct {
	dialer dialer.Dialer
	opts   Options
	seq    atomic.Uint64
}

// New returns a Client that opens streams with d.
func New(d dialer.Dialer, opts Options) *Client {
	return &Client{dialer: d, opts: opts}
}

// Bootstrap checks that the overlay is usable. Dialers that cannot be probed
// are assumed ready.
func (c *Client) Bootstrap(ctx context.Context) error {
	p, ok := c.dialer.(dialer.Prober)
	if !ok {
		return nil
	}
	if err := p.Probe(ctx); err != nil {
		return &BootstrapError{Err: err}
	}
	return nil
}

// Connect opens one stream to host:port through the overlay. It does not
// retry.
func (c *Client) Connect(ctx context.Context, host string, port uint16) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))

	if !c.opts.OnionServices && IsOnion(host) {
		return nil, &ConnectError{Addr: addr, Err: ErrOnionDisabled}
	}

	conn, err := c.dialer.DialContext(dialer.WithIsolationKey(ctx, c.isolationKey(addr)), "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	return conn, nil
}

func (c *Client) isolationKey(addr string) string {
	switch c.opts.Isolation {
	case IsolateDestination:
		return addr
	case IsolateConnection:
		return "conn-" + strconv.FormatUint(c.seq.Add(1), 10)
	default:
		return ""
	}
}

// IsOnion reports whether host is an onion service address.
func IsOnion(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return strings.HasSuffix(host, ".onion")
}
