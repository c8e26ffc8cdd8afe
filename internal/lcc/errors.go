package lcc

import "errors"

// Sentinel errors returned by the engine's public operations. Callers
// should use errors.Is against these rather than matching message text.
var (
	// ErrTransport wraps a failure from the underlying CAN connection
	// (serial port, SocketCAN device) reaching the engine.
	ErrTransport = errors.New("lcc: transport error")

	// ErrSyncLoss indicates the byte stream lost frame synchronization
	// and some data was discarded while resynchronizing.
	ErrSyncLoss = errors.New("lcc: frame sync lost")

	// ErrParse indicates a frame could not be decoded into a known shape.
	ErrParse = errors.New("lcc: parse error")

	// ErrProtocol indicates a peer refused or failed a request (e.g. a
	// DatagramRejected ack, a memory-configuration …Failure reply).
	ErrProtocol = errors.New("lcc: protocol error")

	// ErrMissingResponse indicates a request timed out waiting for its
	// expected reply.
	ErrMissingResponse = errors.New("lcc: no response within timeout")

	// ErrNotInitialized indicates an operation was attempted before the
	// node finished its alias reservation and initialization handshake.
	ErrNotInitialized = errors.New("lcc: node not initialized")

	// ErrInvalidArgument indicates a caller-supplied value could not be
	// encoded onto the wire (e.g. an oversized payload, unbuildable kind).
	ErrInvalidArgument = errors.New("lcc: invalid argument")

	// ErrAliasCollision indicates this node's candidate or reserved alias
	// was claimed by another node and reservation must restart.
	ErrAliasCollision = errors.New("lcc: alias collision")
)
