package core

import "context"

// Frame is a raw payload written to a connection.
type Frame []byte

// ConnID identifies a connection for the whole life of the process.
type ConnID string

//go:generate mockgen -destination=mocks/mock_connection.go -package=mocks github.com/dkeye/VoiceRelay/internal/core Connection

// Connection abstracts an outbound client transport.
// Owned by the adapter; the adapter must Close() it.
type Connection interface {
	ID() ConnID
	// Send delivers one frame or fails once ctx is done.
	Send(ctx context.Context, f Frame) error
	// Alive is false once the transport has been closed by either side.
	Alive() bool
	Close()
}
