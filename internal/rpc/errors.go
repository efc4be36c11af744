package rpc

import "errors"

var (
	// ErrTimeout means no response arrived within the deadline. The outcome
	// is unknown, not failed: the server may still have processed the request.
	ErrTimeout = errors.New("rpc: request timed out")

	// ErrChannelClosed means the connection dropped while the call was
	// pending. Every outstanding call fails with this on disconnect.
	ErrChannelClosed = errors.New("rpc: channel closed")

	// ErrMalformedEnvelope marks an inbound message that failed payload
	// decoding. Such messages are logged and dropped, never fatal.
	ErrMalformedEnvelope = errors.New("rpc: malformed envelope")

	// ErrDuplicateID means a correlation id was registered twice. With
	// UUID-generated ids this indicates a programming error.
	ErrDuplicateID = errors.New("rpc: duplicate correlation id")
)
