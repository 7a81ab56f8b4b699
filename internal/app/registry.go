package app

import (
	"sync"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry is the session directory: the current SessionInfo of every open connection.
// Callers only ever receive copies.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.ConnID]domain.SessionInfo
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.ConnID]domain.SessionInfo),
	}
}

// CreateOrGet returns the session of conn, creating a default one on first use.
func (r *Registry) CreateOrGet(conn core.ConnID) domain.SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[conn]; ok {
		return s.Clone()
	}
	s := domain.NewSessionInfo()
	r.sessions[conn] = s
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("created new session")
	return s.Clone()
}

// ApplyPatch merges doc into the session of conn. On error the stored session is unchanged.
func (r *Registry) ApplyPatch(conn core.ConnID, doc []byte) (domain.SessionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[conn]
	if !ok {
		cur = domain.NewSessionInfo()
	}
	next, err := cur.Merge(doc)
	if err != nil {
		if !ok {
			r.sessions[conn] = cur
		}
		log.Warn().Str("module", "app.registry").Str("conn", string(conn)).Err(err).Msg("session patch rejected")
		return cur.Clone(), err
	}
	r.sessions[conn] = next
	if next.RoomID != cur.RoomID || !ok {
		log.Debug().Str("module", "app.registry").Str("conn", string(conn)).Str("room", string(next.RoomID)).Msg("updated session")
	}
	return next.Clone(), nil
}

// SetRoom overrides the room of an existing session, leaving other fields untouched.
func (r *Registry) SetRoom(conn core.ConnID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[conn]
	if !ok {
		return false
	}
	s.RoomID = room
	r.sessions[conn] = s
	return true
}

// Snapshot returns an independent copy of the session of conn.
func (r *Registry) Snapshot(conn core.ConnID) (domain.SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[conn]
	if !ok {
		return domain.SessionInfo{}, false
	}
	return s.Clone(), true
}

func (r *Registry) Remove(conn core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[conn]; !ok {
		return
	}
	delete(r.sessions, conn)
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("removed session")
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
