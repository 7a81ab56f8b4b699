package core

import (
	"sort"
	"sync"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomRegistry is a threadsafe in-memory room index.
// It never closes adapter-owned resources.
type roomRegistry struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomID]map[ConnID]Connection
	memberOf map[ConnID]domain.RoomID
}

func NewRoomRegistry() RoomRegistry {
	return &roomRegistry{
		rooms:    make(map[domain.RoomID]map[ConnID]Connection),
		memberOf: make(map[ConnID]domain.RoomID),
	}
}

func (r *roomRegistry) Join(room domain.RoomID, conn Connection) {
	if !room.Routed() {
		r.LeaveAll(conn)
		return
	}
	id := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()
	prev, had := r.memberOf[id]
	if had && prev == room {
		r.rooms[room][id] = conn
		return
	}
	if had {
		r.removeLocked(prev, id)
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[ConnID]Connection)
		r.rooms[room] = members
		log.Info().Str("module", "core.rooms").Str("room", string(room)).Msg("room created")
	}
	members[id] = conn
	r.memberOf[id] = room
	log.Info().Str("module", "core.rooms").Str("room", string(room)).Str("conn", string(id)).Str("from", string(prev)).Msg("member joined")
}

func (r *roomRegistry) Leave(room domain.RoomID, conn Connection) bool {
	id := conn.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.memberOf[id]; !ok || cur != room {
		return false
	}
	r.removeLocked(room, id)
	log.Info().Str("module", "core.rooms").Str("room", string(room)).Str("conn", string(id)).Msg("member left")
	return true
}

func (r *roomRegistry) LeaveAll(conn Connection) {
	id := conn.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.memberOf[id]
	if !ok {
		return
	}
	r.removeLocked(room, id)
	log.Info().Str("module", "core.rooms").Str("room", string(room)).Str("conn", string(id)).Msg("member left")
}

// removeLocked drops id from room and deletes the room once empty. Caller holds mu.
func (r *roomRegistry) removeLocked(room domain.RoomID, id ConnID) {
	delete(r.memberOf, id)
	members := r.rooms[room]
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, room)
		log.Info().Str("module", "core.rooms").Str("room", string(room)).Msg("room removed")
	}
}

func (r *roomRegistry) Members(room domain.RoomID) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

func (r *roomRegistry) RoomOf(conn Connection) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.memberOf[conn.ID()]
	return room, ok
}

func (r *roomRegistry) List() []RoomInfo {
	r.mu.RLock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for id, members := range r.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: len(members)})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
