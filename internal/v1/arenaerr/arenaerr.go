// Package arenaerr defines the sentinel error kinds used across the
// arena node runtime. Transport and builder errors are expected to wrap
// one of these with additional context; data-plane errors (malformed
// peer messages, serialization failures) are logged and swallowed at
// the boundary where they occur rather than propagated, per the error
// taxonomy in the runtime's design notes.
package arenaerr

import "errors"

var (
	// ErrInvalidNodeName is returned by the builder when a caller-supplied
	// node name contains a forbidden character or is empty.
	ErrInvalidNodeName = errors.New("arenanode: invalid node name")

	// ErrInvalidKeyExpr is returned by the keyexpr package when a string
	// does not match any of the four canonical patterns.
	ErrInvalidKeyExpr = errors.New("arenanode: invalid key expression")

	// ErrProtocolViolation marks an inbound query or sample that violates
	// the protocol's own shape (e.g. a connection request whose host id
	// doesn't match the responding host, or a wildcard sender on a
	// sample that requires a specific one).
	ErrProtocolViolation = errors.New("arenanode: protocol violation")

	// ErrForceHostViolation is returned when a Node configured with
	// force_host=true would otherwise transition out of Host.
	ErrForceHostViolation = errors.New("arenanode: force_host forbids this transition")

	// ErrStopped is returned by step() after the Node has entered the
	// terminal Stopped state and is called again.
	ErrStopped = errors.New("arenanode: node is stopped")

	// ErrQueryTimeout marks a query that received no reply before its
	// deadline; callers generally treat this the same as "no answer".
	ErrQueryTimeout = errors.New("arenanode: query timed out")

	// ErrAlreadyAnswered marks a second accept()/reject() call on a
	// ConnectionRequest that was already consumed.
	ErrAlreadyAnswered = errors.New("arenanode: connection request already answered")
)
