package socks5

import (
	"errors"
	"fmt"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

// CmdConnect is the SOCKS5 CONNECT command value.
const CmdConnect = txsocks5.CmdConnect

// Request is a parsed client request.
type Request = txsocks5.Request

// ServerNegotiate reads the client's method selection. It prefers
// username/password when offered and returns the credentials the client sent,
// which is how Tor learns a stream's isolation key. Any credentials are
// accepted.
func ServerNegotiate(conn net.Conn) (Auth, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return Auth{}, fmt.Errorf("negotiation request: %w", err)
	}

	if slices.Contains(neg.Methods, txsocks5.MethodUsernamePassword) {
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(conn); err != nil {
			return Auth{}, fmt.Errorf("negotiation reply: %w", err)
		}

		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
		if err != nil {
			return Auth{}, fmt.Errorf("read userpass: %w", err)
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
			return Auth{}, fmt.Errorf("write userpass: %w", err)
		}
		return Auth{Username: string(urq.Uname), Password: string(urq.Passwd)}, nil
	}

	if !slices.Contains(neg.Methods, txsocks5.MethodNone) {
		_, _ = txsocks5.NewNegotiationReply(methodNoAcceptable).WriteTo(conn)
		return Auth{}, errors.New("client offered no usable method")
	}
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(conn); err != nil {
		return Auth{}, fmt.Errorf("negotiation reply: %w", err)
	}
	return Auth{}, nil
}

// ServerReadRequest reads the client's request after negotiation.
func ServerReadRequest(conn net.Conn) (*Request, error) {
	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	return req, nil
}
