// Package session runs the link engine on top of a transport.Port.
//
// Ownership boundary:
// - the link state machine (Disconnected, Connecting, Connected, Leaving)
// - the receive goroutine that parses frames and answers Joins
// - the inbox of completed payloads and the caller-facing Link API
// - retry/backoff primitives used by Dial
//
// The handshake is symmetric. A side becomes Connected the moment it sees the
// peer's Join and answers with an Ack that nobody waits for. Connect returning
// nil means the Join went out, not that the peer is listening.
package session
