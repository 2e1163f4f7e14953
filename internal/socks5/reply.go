package socks5

import (
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// Tor's extended SOCKS5 error codes, sent when ExtendedErrors is set on the
// SocksPort. See tor's socks-extensions.txt.
const (
	RepOnionDescNotFound  byte = 0xf0
	RepOnionDescInvalid   byte = 0xf1
	RepOnionIntroFailed   byte = 0xf2
	RepOnionRendFailed    byte = 0xf3
	RepOnionMissingAuth   byte = 0xf4
	RepOnionWrongAuth     byte = 0xf5
	RepOnionBadAddress    byte = 0xf6
	RepOnionIntroTimedOut byte = 0xf7

	// RFC 1928: no acceptable methods.
	methodNoAcceptable byte = 0xff
)

var replyText = map[byte]string{
	txsocks5.RepServerFailure:       "general server failure",
	txsocks5.RepNotAllowed:          "connection not allowed by ruleset",
	txsocks5.RepNetworkUnreachable:  "network unreachable",
	txsocks5.RepHostUnreachable:     "host unreachable",
	txsocks5.RepConnectionRefused:   "connection refused",
	txsocks5.RepTTLExpired:          "TTL expired",
	txsocks5.RepCommandNotSupported: "command not supported",
	txsocks5.RepAddressNotSupported: "address type not supported",
	RepOnionDescNotFound:            "onion service descriptor not found",
	RepOnionDescInvalid:             "onion service descriptor invalid",
	RepOnionIntroFailed:             "onion service introduction failed",
	RepOnionRendFailed:              "onion service rendezvous failed",
	RepOnionMissingAuth:             "onion service missing client authorization",
	RepOnionWrongAuth:               "onion service wrong client authorization",
	RepOnionBadAddress:              "invalid onion service address",
	RepOnionIntroTimedOut:           "onion service introduction timed out",
}

// ReplyError is a non-success CONNECT reply from the SOCKS5 server.
type ReplyError struct {
	Code byte
}

func (e *ReplyError) Error() string {
	if s, ok := replyText[e.Code]; ok {
		return fmt.Sprintf("socks5 reply 0x%02x: %s", e.Code, s)
	}
	return fmt.Sprintf("socks5 reply 0x%02x", e.Code)
}

// IsOnion reports whether the code is one of Tor's onion-service errors.
func (e *ReplyError) IsOnion() bool {
	return e.Code >= RepOnionDescNotFound && e.Code <= RepOnionIntroTimedOut
}

// WriteReply writes a failure reply with a zero bound address.
func WriteReply(conn net.Conn, rep byte) error {
	_, err := txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(conn)
	return err
}

// WriteSuccessReply writes a SOCKS5 success reply using localAddr as the bound
// address.
func WriteSuccessReply(conn net.Conn, localAddr net.Addr) error {
	a, addr, port, err := txsocks5.ParseAddress(localAddr.String())
	if err != nil {
		return fmt.Errorf("parse local address %q: %w", localAddr.String(), err)
	}
	if a == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, a, addr, port).WriteTo(conn); err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	return nil
}
