package core

import "github.com/dkeye/VoiceRelay/internal/domain"

// RoomInfo is a read-only view for APIs.
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"client_count"`
}

// RoomRegistry maps rooms to the connections subscribed to them.
// A connection belongs to at most one room, and a room without members does not exist.
// It never touches transport resources.
type RoomRegistry interface {
	// Join subscribes conn to room, moving it out of its previous room if any.
	Join(room domain.RoomID, conn Connection)
	// Leave is a no-op unless conn is a member of room.
	Leave(room domain.RoomID, conn Connection) bool
	// LeaveAll removes conn from whatever room it is in.
	LeaveAll(conn Connection)
	// Members returns a snapshot; empty if the room does not exist.
	Members(room domain.RoomID) []Connection
	RoomOf(conn Connection) (domain.RoomID, bool)
	List() []RoomInfo
}
