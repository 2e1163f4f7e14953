package proxy

// Package proxy implements orpipe's listener supervisors and connection
// forwarding.
//
// A Server owns one binding's listener: it accepts local connections, opens
// the matching overlay stream inline, and hands each pair to its own
// forwarding goroutine. CopyBidirectional splices a pair until the first
// direction finishes, then closes both sides.
