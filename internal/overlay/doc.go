// Package overlay provides the shared handle orpipe uses to open streams
// through the Tor network.
//
// A single *Client is created at startup and shared by every listener. Its
// preferences (whether .onion destinations are allowed and how streams are
// isolated onto circuits) are set once in New and cannot change afterwards.
package overlay
