// Package runner drives one WAMP session from creation to teardown.
//
// Ownership boundary:
// - lifecycle ordering for a single run
//
// - stop-signal installation and interrupt convergence
//
// - the goodbye sent on shutdown
//
// Connection attempts and session state live in package wamp.
package runner
