package binding

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Separator splits the remote and local halves of a binding descriptor.
const Separator = "~"

// Binding pairs one local listen address with one remote overlay address.
type Binding struct {
	RemoteHost string
	RemotePort uint16
	LocalHost  string
	LocalPort  uint16
}

// RemoteAddr returns the remote host:port.
func (b Binding) RemoteAddr() string {
	return net.JoinHostPort(b.RemoteHost, strconv.FormatUint(uint64(b.RemotePort), 10))
}

// LocalAddr returns the local host:port suitable for net.Listen.
func (b Binding) LocalAddr() string {
	return net.JoinHostPort(b.LocalHost, strconv.FormatUint(uint64(b.LocalPort), 10))
}

// String returns the descriptor form accepted by Parse.
func (b Binding) String() string {
	return b.RemoteAddr() + Separator + b.LocalAddr()
}

// ConfigError reports a malformed binding descriptor.
type ConfigError struct {
	Input  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid binding %q: %s: %v", e.Input, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid binding %q: %s", e.Input, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Parse parses a single "remote_host:remote_port~local_host:local_port"
// descriptor.
func Parse(s string) (Binding, error) {
	parts := strings.Split(s, Separator)
	if len(parts) != 2 {
		return Binding{}, &ConfigError{Input: s, Reason: "expected exactly one " + strconv.Quote(Separator)}
	}

	remoteHost, remotePort, err := splitAddress(s, "remote", parts[0])
	if err != nil {
		return Binding{}, err
	}
	if remoteHost == "" {
		return Binding{}, &ConfigError{Input: s, Reason: "remote host is empty"}
	}
	if remotePort == 0 {
		return Binding{}, &ConfigError{Input: s, Reason: "remote port must be > 0"}
	}

	localHost, localPort, err := splitAddress(s, "local", parts[1])
	if err != nil {
		return Binding{}, err
	}

	return Binding{
		RemoteHost: remoteHost,
		RemotePort: remotePort,
		LocalHost:  localHost,
		LocalPort:  localPort,
	}, nil
}

// ParseAll parses every descriptor in order. It fails on the first malformed
// entry and returns no bindings in that case.
func ParseAll(descs []string) ([]Binding, error) {
	if len(descs) == 0 {
		return nil, errors.New("no bindings configured")
	}

	bindings := make([]Binding, 0, len(descs))
	for i, s := range descs {
		b, err := Parse(s)
		if err != nil {
			return nil, fmt.Errorf("binding #%d: %w", i+1, err)
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

func splitAddress(input, side, addr string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, &ConfigError{Input: input, Reason: side + " address", Err: err}
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, &ConfigError{Input: input, Reason: side + " port", Err: err}
	}

	return host, uint16(port), nil
}
