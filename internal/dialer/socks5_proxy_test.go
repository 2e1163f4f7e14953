package dialer

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/die-net/orpipe/internal/socks5"
	"github.com/die-net/orpipe/internal/testutil"
)

func TestSOCKS5ProxyDialerDialSuccess(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		pass     string
		key      string
		wantAuth socks5.Auth
	}{
		{name: "no_auth"},
		{name: "user_pass", user: "user", pass: "pass", wantAuth: socks5.Auth{Username: "user", Password: "pass"}},
		{name: "isolation_key", key: "a.onion:80", wantAuth: socks5.Auth{Username: "a.onion:80", Password: "a.onion:80"}},
		{name: "isolation_overrides_user", user: "user", pass: "pass", key: "k", wantAuth: socks5.Auth{Username: "k", Password: "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			overlay := testutil.StartFakeOverlay(t, testutil.RouteTo(echoLn.Addr().String()))

			d, err := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, overlay.Addr(), tt.user, tt.pass)
			if err != nil {
				t.Fatal(err)
			}

			conn, err := d.DialContext(WithIsolationKey(ctx, tt.key), "tcp", "example.onion:80")
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			testutil.AssertEcho(t, conn, conn, []byte("hello"))

			reqs := overlay.Requests()
			if len(reqs) != 1 {
				t.Fatalf("got %d requests want 1", len(reqs))
			}
			if reqs[0].Address != "example.onion:80" {
				t.Fatalf("got address %q, want the unresolved onion name", reqs[0].Address)
			}
			if reqs[0].Auth != tt.wantAuth {
				t.Fatalf("got auth %+v want %+v", reqs[0].Auth, tt.wantAuth)
			}
		})
	}
}

func TestSOCKS5ProxyDialerDialFail(t *testing.T) {
	overlay := testutil.StartFakeOverlay(t, testutil.Refuse(socks5.RepOnionIntroFailed))

	d, err := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, overlay.Addr(), "", "")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = d.DialContext(ctx, "tcp", "example.onion:80")
	var re *socks5.ReplyError
	if !errors.As(err, &re) {
		t.Fatalf("got %v, want *socks5.ReplyError", err)
	}
	if re.Code != socks5.RepOnionIntroFailed {
		t.Fatalf("got code %#x", re.Code)
	}
}

func TestSOCKS5ProxyDialerDialContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// A proxy that accepts and then never speaks.
	upLn, waitUp := testutil.StartSingleAcceptServer(t, context.Background(), func(c net.Conn) {
		buf := make([]byte, 64)
		for {
			if _, err := c.Read(buf); err != nil {
				return
			}
		}
	})
	defer waitUp()

	d, err := NewSOCKS5ProxyDialer(Config{}, upLn.Addr().String(), "", "")
	if err != nil {
		t.Fatal(err)
	}

	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = d.DialContext(ctx, "tcp", "example.onion:80")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestSOCKS5ProxyDialerUnsupportedNetwork(t *testing.T) {
	t.Parallel()

	d, err := NewSOCKS5ProxyDialer(Config{}, "127.0.0.1:9050", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.DialContext(context.Background(), "udp", "example.onion:53"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSOCKS5ProxyDialerProbe(t *testing.T) {
	overlay := testutil.StartFakeOverlay(t, testutil.Refuse(socks5.RepOnionDescNotFound))

	d, err := NewSOCKS5ProxyDialer(Config{DialTimeout: time.Second}, overlay.Addr(), "", "")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.Probe(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(overlay.Requests()); n != 0 {
		t.Fatalf("probe opened %d streams", n)
	}
}

func TestSOCKS5ProxyDialerProbeUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	d, err := NewSOCKS5ProxyDialer(Config{DialTimeout: time.Second}, addr, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Probe(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
