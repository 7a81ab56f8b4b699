package domain

import "errors"

var (
	// ErrMalformedFrame is returned for a binary frame whose length prefix or JSON header is invalid.
	// The frame is dropped; the connection stays open.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrInvalidSessionPatch is returned when a session metadata document cannot be merged.
	// The previous session state is kept.
	ErrInvalidSessionPatch = errors.New("invalid session patch")

	ErrEngineCanceled       = errors.New("engine canceled")
	ErrEngineSessionStopped = errors.New("engine session stopped")

	ErrSendFailure      = errors.New("send failure")
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")

	// ErrQueueFull is reported when the event queue rejects the newest event.
	ErrQueueFull = errors.New("event queue full")
)
