package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/orpipe/internal/binding"
	"github.com/die-net/orpipe/internal/dialer"
	"github.com/die-net/orpipe/internal/metrics"
	"github.com/die-net/orpipe/internal/overlay"
	"github.com/die-net/orpipe/internal/proxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		bindingDescs = pflag.StringArrayP("binding", "b", nil, "Forward remote_host:remote_port~local_host:local_port; repeat for more bindings (e.g. example.onion:80~127.0.0.1:8080)")

		overlayURL    = pflag.String("overlay", defaultOverlay(), "Overlay network proxy URL: socks5://[user:pass@]host:port (Tor SocksPort) | http://host:port (Tor HTTPTunnelPort) | direct://")
		onionServices = pflag.Bool("onion-services", true, "Allow connections to .onion services")
		isolation     = overlay.IsolateNone

		bootstrapTimeout   = pflag.Duration("bootstrap-timeout", 30*time.Second, "Timeout for the startup overlay reachability check")
		skipBootstrap      = pflag.Bool("skip-bootstrap", false, "Don't check the overlay is reachable at startup")
		dialTimeout        = pflag.Duration("dial-timeout", 0, "Timeout for the TCP connect to the overlay proxy (0 disables)")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 0, "Timeout for the overlay proxy handshake (0 disables)")
		connectTimeout     = pflag.Duration("connect-timeout", 0, "Timeout for opening each overlay stream (0 disables)")
		maxConns           = pflag.Int64("max-conns", 0, "Maximum concurrent connections per binding (0 is unlimited)")
		bufferSize         = byteSizeValue(proxy.DefaultBufferSize)
		tcpKeepAlive       = newKeepAliveValue("45:45:3")

		metricsListen = pflag.String("metrics-listen", "", "Prometheus metrics listen address exposing /metrics (e.g. 127.0.0.1:9100). Empty disables.")
		debugListen   = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
		verbose       = pflag.Bool("verbose", false, "Enable per-connection logging")
	)
	pflag.Var(&isolation, "isolation", "Tor stream isolation: none | destination | connection")
	pflag.Var(&bufferSize, "buffer-size", "Copy buffer size per direction of each connection")
	pflag.Var(tcpKeepAlive, "tcp-keepalive", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	if pflag.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %q", pflag.Args())
	}
	if *maxConns < 0 {
		return errors.New("invalid --max-conns: must be >= 0")
	}

	bindings, err := binding.ParseAll(*bindingDescs)
	if err != nil {
		return fmt.Errorf("invalid --binding: %w", err)
	}

	d, err := dialer.New(dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          tcpKeepAlive.cfg,
	}, *overlayURL)
	if err != nil {
		return fmt.Errorf("invalid --overlay: %w", err)
	}

	client := overlay.New(d, overlay.Options{
		OnionServices: *onionServices,
		Isolation:     isolation,
	})

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !*skipBootstrap {
		bctx, cancel := ctx, context.CancelFunc(func() {})
		if *bootstrapTimeout > 0 {
			bctx, cancel = context.WithTimeout(ctx, *bootstrapTimeout)
		}
		err := client.Bootstrap(bctx)
		cancel()
		if err != nil {
			return err
		}
		log.Printf("overlay %s ready", *overlayURL)
	}

	// Bind every binding before serving any, so a bad local address fails
	// startup instead of leaving a partial proxy running.
	listeners := make([]net.Listener, 0, len(bindings))
	for _, b := range bindings {
		ln, err := proxy.ListenTCP(ctx, "tcp", b.LocalAddr(), tcpKeepAlive.cfg)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return fmt.Errorf("binding %s: %w", b, err)
		}
		listeners = append(listeners, ln)
	}

	var m *metrics.Metrics
	if *metricsListen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		if err := serveHTTP(ctx, g, "metrics", *metricsListen, mux); err != nil {
			return err
		}
	}

	if *debugListen != "" {
		if err := serveHTTP(ctx, g, "debug", *debugListen, http.DefaultServeMux); err != nil {
			return err
		}
	}

	cfg := proxy.Config{
		KeepAlive:      tcpKeepAlive.cfg,
		ConnectTimeout: *connectTimeout,
		MaxConns:       *maxConns,
		BufferSize:     bufferSize.Bytes(),
		Verbose:        *verbose,
		Metrics:        m,
	}

	for i, b := range bindings {
		ln := listeners[i]
		srv := proxy.NewServer(ctx, cfg, b, client)
		g.Go(func() error {
			return srv.Serve(ln)
		})
		log.Printf("forwarding %s to %s", ln.Addr(), b.RemoteAddr())
	}

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	log.Print("shutting down")
	return err
}

func serveHTTP(ctx context.Context, g *errgroup.Group, name, addr string, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%s listen: %w", name, err)
	}
	context.AfterFunc(ctx, func() {
		_ = srv.Close()
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("%s serve: %w", name, err)
		}
		return nil
	})
	log.Printf("%s listening on %s", name, addr)
	return nil
}

func defaultOverlay() string {
	if p := os.Getenv("TOR_PROXY"); p != "" {
		return p
	}
	return dialer.DefaultOverlay
}
