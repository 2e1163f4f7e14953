package proxy

import (
	"net"
	"time"

	"github.com/die-net/orpipe/internal/metrics"
)

// DefaultBufferSize is the per-direction copy buffer size.
const DefaultBufferSize = 32 * 1024

type Config struct {
	KeepAlive net.KeepAliveConfig

	// ConnectTimeout bounds each overlay connect. Zero waits indefinitely.
	ConnectTimeout time.Duration

	// MaxConns caps concurrent connections per binding. Zero is unbounded.
	MaxConns int64

	BufferSize int

	Verbose bool
	Metrics *metrics.Metrics
}
