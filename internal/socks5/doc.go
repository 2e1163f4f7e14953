package socks5

// Package socks5 implements the SOCKS5 handshake orpipe uses to open streams
// through a Tor SocksPort.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5. The
// client side negotiates no-auth or username/password (which Tor treats as a
// stream isolation key, not as a secret) and issues CONNECT with the
// destination hostname left unresolved so .onion names resolve inside Tor.
//
// Failed CONNECT replies surface as *ReplyError, which names both the RFC 1928
// codes and Tor's extended onion-service codes.
//
// The server side is a minimal counterpart used to stand in for Tor in tests.
