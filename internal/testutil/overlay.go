package testutil

import (
	"io"
	"net"
	"sync"
	"testing"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/orpipe/internal/socks5"
)

// Route maps a requested overlay address to a loopback target. A non-zero rep
// refuses the request with that SOCKS5 reply code instead.
type Route func(address string) (target string, rep byte)

// RouteTo sends every request to target.
func RouteTo(target string) Route {
	return func(string) (string, byte) {
		return target, 0
	}
}

// RouteMap sends each known address to its target and answers anything else
// with host unreachable.
func RouteMap(m map[string]string) Route {
	return func(address string) (string, byte) {
		if target, ok := m[address]; ok {
			return target, 0
		}
		return "", txsocks5.RepHostUnreachable
	}
}

// Refuse answers every request with rep.
func Refuse(rep byte) Route {
	return func(string) (string, byte) {
		return "", rep
	}
}

// OverlayRequest records one CONNECT seen by a FakeOverlay.
type OverlayRequest struct {
	Address string
	Auth    socks5.Auth
}

// FakeOverlay stands in for a Tor SocksPort: it accepts SOCKS5 CONNECT for any
// hostname, including .onion names, and splices to a loopback target chosen
// by its Route.
type FakeOverlay struct {
	ln    net.Listener
	route Route

	mu       sync.Mutex
	requests []OverlayRequest
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// StartFakeOverlay starts a FakeOverlay on loopback. It is shut down when the
// test ends.
func StartFakeOverlay(t *testing.T, route Route) *FakeOverlay {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	o := &FakeOverlay{ln: ln, route: route, conns: make(map[net.Conn]struct{})}
	o.wg.Add(1)
	go o.serve()

	t.Cleanup(o.close)
	return o
}

// Addr returns the SOCKS5 listen address.
func (o *FakeOverlay) Addr() string {
	return o.ln.Addr().String()
}

// URL returns the overlay URL for dialer.New.
func (o *FakeOverlay) URL() string {
	return "socks5://" + o.Addr()
}

// Requests returns a copy of the CONNECT requests seen so far.
func (o *FakeOverlay) Requests() []OverlayRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]OverlayRequest(nil), o.requests...)
}

func (o *FakeOverlay) serve() {
	defer o.wg.Done()
	for {
		c, err := o.ln.Accept()
		if err != nil {
			return
		}
		if !o.track(c) {
			_ = c.Close()
			return
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			defer o.untrack(c)
			o.handle(c)
		}()
	}
}

func (o *FakeOverlay) handle(c net.Conn) {
	auth, err := socks5.ServerNegotiate(c)
	if err != nil {
		return
	}
	req, err := socks5.ServerReadRequest(c)
	if err != nil {
		return
	}
	if req.Cmd != socks5.CmdConnect {
		_ = socks5.WriteReply(c, txsocks5.RepCommandNotSupported)
		return
	}

	address := req.Address()
	o.mu.Lock()
	o.requests = append(o.requests, OverlayRequest{Address: address, Auth: auth})
	o.mu.Unlock()

	target, rep := o.route(address)
	if rep != 0 {
		_ = socks5.WriteReply(c, rep)
		return
	}

	dst, err := net.Dial("tcp", target)
	if err != nil {
		_ = socks5.WriteReply(c, txsocks5.RepConnectionRefused)
		return
	}
	if !o.track(dst) {
		_ = dst.Close()
		return
	}
	defer o.untrack(dst)

	if err := socks5.WriteSuccessReply(c, dst.LocalAddr()); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(dst, c)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
	_ = c.Close()
	<-done
}

func (o *FakeOverlay) track(c net.Conn) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conns == nil {
		return false
	}
	o.conns[c] = struct{}{}
	return true
}

func (o *FakeOverlay) untrack(c net.Conn) {
	_ = c.Close()
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.conns, c)
}

func (o *FakeOverlay) close() {
	_ = o.ln.Close()

	o.mu.Lock()
	for c := range o.conns {
		_ = c.Close()
	}
	o.conns = nil
	o.mu.Unlock()

	o.wg.Wait()
}
