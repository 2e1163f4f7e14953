package dialer

import (
	"net"
	"time"
)

// Config holds settings shared by all dialers. Zero durations disable the
// corresponding timeout.
type Config struct {
	// DialTimeout bounds the TCP connect to the overlay proxy.
	DialTimeout time.Duration
	// NegotiationTimeout bounds the proxy handshake (TLS, SOCKS5, CONNECT).
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig
}
