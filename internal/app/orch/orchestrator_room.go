package orch

import (
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// applyPatch merges metadata into the session and keeps room membership in line with RoomId.
// A rate-limited room switch keeps the previous room; the rest of the patch still applies.
func (o *Orchestrator) applyPatch(conn core.Connection, doc []byte) {
	id := conn.ID()
	prev, _ := o.Registry.Snapshot(id)
	next, err := o.Registry.ApplyPatch(id, doc)
	if err != nil {
		return
	}

	if next.RoomID != prev.RoomID && !o.Limiter.Allow(id) {
		o.Registry.SetRoom(id, prev.RoomID)
		log.Warn().Str("module", "orch").Str("conn", string(id)).
			Str("room", string(prev.RoomID)).Str("requested", string(next.RoomID)).
			Msg("room switch rate limited")
		next.RoomID = prev.RoomID
	}
	o.syncRoom(conn, next.RoomID)
}

// syncRoom makes conn a member of exactly the given room, or of none when unrouted.
func (o *Orchestrator) syncRoom(conn core.Connection, room domain.RoomID) {
	cur, in := o.Rooms.RoomOf(conn)
	switch {
	case !room.Routed() && in:
		o.Rooms.LeaveAll(conn)
	case room.Routed() && (!in || cur != room):
		o.Rooms.Join(room, conn)
	}
}
