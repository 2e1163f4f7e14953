package socks5

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestClientDialToServer(t *testing.T) {
	tests := []struct {
		name    string
		auth    Auth
		address string
	}{
		{name: "no_auth_ipv4", address: "127.0.0.1:80"},
		{name: "isolation_onion", auth: Auth{Username: "key", Password: "key"}, address: "example.onion:80"},
		{name: "no_auth_ipv6", address: "[::1]:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				auth, err := ServerNegotiate(serverConn)
				if err != nil {
					return err
				}
				if auth != tt.auth {
					return fmt.Errorf("got auth %+v want %+v", auth, tt.auth)
				}

				req, err := ServerReadRequest(serverConn)
				if err != nil {
					return err
				}
				if req.Cmd != CmdConnect {
					return fmt.Errorf("unexpected command: %d", req.Cmd)
				}
				if req.Address() != tt.address {
					return fmt.Errorf("got address %q want %q", req.Address(), tt.address)
				}

				return WriteSuccessReply(serverConn, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345})
			})

			if err := ClientDial(clientConn, tt.auth, tt.address); err != nil {
				t.Fatal(err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestClientDialReplyError(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		if _, err := ServerNegotiate(serverConn); err != nil {
			return err
		}
		if _, err := ServerReadRequest(serverConn); err != nil {
			return err
		}
		return WriteReply(serverConn, RepOnionDescNotFound)
	})

	err := ClientDial(clientConn, Auth{}, "missing.onion:80")
	var re *ReplyError
	if !errors.As(err, &re) {
		t.Fatalf("got %v, want *ReplyError", err)
	}
	if re.Code != RepOnionDescNotFound || !re.IsOnion() {
		t.Fatalf("got code %#x onion=%v", re.Code, re.IsOnion())
	}
	if !strings.Contains(re.Error(), "descriptor not found") {
		t.Fatalf("unexpected message %q", re.Error())
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestReplyErrorText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code    byte
		want    string
		isOnion bool
	}{
		{code: 0x05, want: "socks5 reply 0x05: connection refused"},
		{code: 0xf6, want: "socks5 reply 0xf6: invalid onion service address", isOnion: true},
		{code: 0x42, want: "socks5 reply 0x42"},
	}

	for _, tt := range tests {
		e := &ReplyError{Code: tt.code}
		if e.Error() != tt.want {
			t.Errorf("code %#x: got %q want %q", tt.code, e.Error(), tt.want)
		}
		if e.IsOnion() != tt.isOnion {
			t.Errorf("code %#x: IsOnion=%v", tt.code, e.IsOnion())
		}
	}
}
