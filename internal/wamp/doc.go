// Package wamp frames established streams as websocket connections carrying
// a WAMP session.
//
// Ownership boundary:
// - protocol factory selection per transport config
//
// - the connect bridge between the stream connector and the session
//
// - websocket framing, serializers and the minimal client session
//
// - multi-transport connection attempts with backoff
//
// Endpoint resolution and dialing live in package transport.
package wamp
