// Package transport resolves declarative transport configs into dialable
// targets and establishes single stream connections over them.
//
// Ownership boundary:
// - transport config shape and url decoding
//
// - target resolution (unix vs tcp, tls enablement, address family)
//
// - one-shot dialing with optional tls and the stream loss hook
//
// Retry and session semantics live above this package.
package transport
