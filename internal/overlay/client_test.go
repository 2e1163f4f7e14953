package overlay

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/die-net/orpipe/internal/dialer"
	"github.com/die-net/orpipe/internal/socks5"
	"github.com/die-net/orpipe/internal/testutil"
)

func newTestClient(t *testing.T, overlayURL string, opts Options) *Client {
	t.Helper()

	d, err := dialer.New(dialer.Config{DialTimeout: 2 * time.Second}, overlayURL)
	if err != nil {
		t.Fatal(err)
	}
	return New(d, opts)
}

func TestClientConnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	fake := testutil.StartFakeOverlay(t, testutil.RouteTo(echoLn.Addr().String()))
	c := newTestClient(t, fake.URL(), Options{OnionServices: true})

	conn, err := c.Connect(ctx, "example.onion", 80)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	testutil.AssertEcho(t, conn, conn, []byte("ping"))

	reqs := fake.Requests()
	if len(reqs) != 1 || reqs[0].Address != "example.onion:80" {
		t.Fatalf("got requests %+v", reqs)
	}
	if reqs[0].Auth != (socks5.Auth{}) {
		t.Fatalf("unexpected isolation credentials %+v", reqs[0].Auth)
	}
}

func TestClientConnectOnionDisabled(t *testing.T) {
	fake := testutil.StartFakeOverlay(t, testutil.RouteTo("127.0.0.1:1"))
	c := newTestClient(t, fake.URL(), Options{OnionServices: false})

	_, err := c.Connect(context.Background(), "Example.ONION.", 80)
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want *ConnectError", err)
	}
	if !errors.Is(err, ErrOnionDisabled) {
		t.Fatalf("got %v, want ErrOnionDisabled", err)
	}
	if n := len(fake.Requests()); n != 0 {
		t.Fatalf("overlay saw %d requests", n)
	}
}

func TestClientConnectFailure(t *testing.T) {
	fake := testutil.StartFakeOverlay(t, testutil.Refuse(socks5.RepOnionDescNotFound))
	c := newTestClient(t, fake.URL(), Options{OnionServices: true})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Connect(ctx, "gone.onion", 443)
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want *ConnectError", err)
	}
	if ce.Addr != "gone.onion:443" {
		t.Fatalf("got addr %q", ce.Addr)
	}
	var re *socks5.ReplyError
	if !errors.As(err, &re) || re.Code != socks5.RepOnionDescNotFound {
		t.Fatalf("got %v, want onion descriptor reply", err)
	}
}

func TestClientIsolation(t *testing.T) {
	tests := []struct {
		mode Options
		want []string
	}{
		{mode: Options{OnionServices: true, Isolation: IsolateNone}, want: []string{"", "", ""}},
		{mode: Options{OnionServices: true, Isolation: IsolateDestination}, want: []string{"a.onion:80", "a.onion:80", "b.onion:80"}},
		{mode: Options{OnionServices: true, Isolation: IsolateConnection}, want: []string{"conn-1", "conn-2", "conn-3"}},
	}

	for _, tt := range tests {
		t.Run(tt.mode.Isolation.String(), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			fake := testutil.StartFakeOverlay(t, testutil.RouteTo(echoLn.Addr().String()))
			c := newTestClient(t, fake.URL(), tt.mode)

			for _, host := range []string{"a.onion", "a.onion", "b.onion"} {
				conn, err := c.Connect(ctx, host, 80)
				if err != nil {
					t.Fatal(err)
				}
				_ = conn.Close()
			}

			reqs := fake.Requests()
			if len(reqs) != len(tt.want) {
				t.Fatalf("got %d requests want %d", len(reqs), len(tt.want))
			}
			for i, want := range tt.want {
				if reqs[i].Auth.Username != want {
					t.Errorf("request %d: got key %q want %q", i, reqs[i].Auth.Username, want)
				}
			}
		})
	}
}

func TestClientConnectConcurrent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	fake := testutil.StartFakeOverlay(t, testutil.RouteTo(echoLn.Addr().String()))
	c := newTestClient(t, fake.URL(), Options{OnionServices: true, Isolation: IsolateConnection})

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := c.Connect(ctx, "example.onion", 80)
			if err != nil {
				errs <- err
				return
			}
			_ = conn.Close()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	seen := map[string]bool{}
	for _, r := range fake.Requests() {
		if seen[r.Auth.Username] {
			t.Fatalf("isolation key %q reused", r.Auth.Username)
		}
		seen[r.Auth.Username] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct keys want %d", len(seen), n)
	}
}

func TestClientBootstrap(t *testing.T) {
	fake := testutil.StartFakeOverlay(t, testutil.RouteTo("127.0.0.1:1"))
	c := newTestClient(t, fake.URL(), Options{})
	if err := c.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c = newTestClient(t, "socks5://"+addr, Options{})
	err = c.Bootstrap(context.Background())
	var be *BootstrapError
	if !errors.As(err, &be) {
		t.Fatalf("got %v, want *BootstrapError", err)
	}

	if err := newTestClient(t, "direct://", Options{}).Bootstrap(context.Background()); err != nil {
		t.Fatalf("direct bootstrap: %v", err)
	}
}

func TestParseIsolationMode(t *testing.T) {
	t.Parallel()

	for _, m := range []IsolationMode{IsolateNone, IsolateDestination, IsolateConnection} {
		got, err := ParseIsolationMode(m.String())
		if err != nil || got != m {
			t.Fatalf("ParseIsolationMode(%q) = %v, %v", m.String(), got, err)
		}
	}

	var m IsolationMode
	if err := m.Set("CONNECTION"); err != nil || m != IsolateConnection {
		t.Fatalf("Set: %v, %v", m, err)
	}
	if err := m.Set("circuit"); err == nil {
		t.Fatal("expected error")
	}
	if IsolationMode(7).String() != "IsolationMode(7)" {
		t.Fatalf("got %q", IsolationMode(7).String())
	}
}

func TestIsOnion(t *testing.T) {
	t.Parallel()

	for host, want := range map[string]bool{
		"example.onion":  true,
		"sub.x.onion":    true,
		"EXAMPLE.ONION.": true,
		"onion":          false,
		"example.com":    false,
		"notonion":       false,
		"127.0.0.1":      false,
	} {
		if got := IsOnion(host); got != want {
			t.Errorf("IsOnion(%q) = %v want %v", host, got, want)
		}
	}
}
