package dialer

// Package dialer provides the transports orpipe uses to reach the overlay
// network.
//
// Dialers implement a small interface (DialContext) and open one stream per
// call through a locally running Tor client, either via its SocksPort
// (SOCKS5) or its HTTPTunnelPort (HTTP CONNECT). A direct dialer with no
// overlay exists for testing and clearnet-only setups.
//
// An isolation key attached with WithIsolationKey travels to Tor as SOCKS5
// credentials or an X-Tor-Stream-Isolation header, so streams with
// different keys are placed on different circuits.
