// Package binding parses orpipe binding descriptors.
//
// A descriptor pairs a remote overlay address with a local listen address:
//
//	example.onion:80~127.0.0.1:8080
//
// Parsing is strict: a malformed descriptor is a *ConfigError and ParseAll
// returns no bindings at all when any entry is bad. Hostnames are not
// resolved here.
package binding
