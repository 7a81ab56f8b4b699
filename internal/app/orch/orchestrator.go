// Package orch drives the lifecycle of a client connection: session metadata, room membership
// and the audio path into recognition.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/audio"
	"github.com/dkeye/VoiceRelay/internal/codec"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/recognition"
	"github.com/rs/zerolog/log"
)

// AdapterFactory opens the recognition side of a connection.
type AdapterFactory interface {
	ForConnection(ctx context.Context, conn core.ConnID) (recognition.Adapter, error)
}

type Orchestrator struct {
	Registry   *app.Registry
	Rooms      core.RoomRegistry
	Limiter    *app.RoomRateLimiter
	Adapters   AdapterFactory
	Classifier audio.Classifier
	Format     audio.Format
	Window     time.Duration

	mu    sync.Mutex
	pipes map[core.ConnID]*pipeline
}

// OnOpen prepares the audio pipeline of a new connection. An error means the connection
// cannot be served and should be closed by the caller.
func (o *Orchestrator) OnOpen(ctx context.Context, conn core.Connection) error {
	id := conn.ID()
	adapter, err := o.Adapters.ForConnection(ctx, id)
	if err != nil {
		return fmt.Errorf("recognition: %w", err)
	}
	pipe := &pipeline{ctx: ctx, conn: conn, adapter: adapter}
	gate, err := audio.NewGate(o.Format, o.Window, o.Classifier, &submitter{registry: o.Registry, factory: o.Adapters, pipe: pipe}, string(id))
	if err != nil {
		_ = adapter.Close()
		return fmt.Errorf("audio gate: %w", err)
	}
	pipe.gate = gate

	o.mu.Lock()
	if o.pipes == nil {
		o.pipes = make(map[core.ConnID]*pipeline)
	}
	o.pipes[id] = pipe
	o.mu.Unlock()

	log.Info().Str("module", "orch").Str("conn", string(id)).Msg("connection opened")
	return nil
}

// OnMessage handles one binary message. Malformed input is logged and dropped; it never
// closes the connection.
func (o *Orchestrator) OnMessage(conn core.Connection, payload []byte) {
	id := conn.ID()
	pipe, ok := o.pipe(id)
	if !ok {
		log.Warn().Str("module", "orch").Str("conn", string(id)).Msg("message for unknown connection")
		return
	}

	frame, err := codec.Decode(payload)
	if err != nil {
		log.Warn().Str("module", "orch").Str("conn", string(id)).Int("bytes", len(payload)).Err(err).Msg("frame dropped")
		return
	}

	o.Registry.CreateOrGet(id)
	if frame.HasMetadata() {
		o.applyPatch(conn, frame.Metadata)
	}
	if len(frame.Audio) > 0 {
		o.onAudio(id, pipe, frame.Audio)
	}
}

// OnClose releases everything the connection owned. Events already queued for it fail
// on send and are handled by the dispatcher.
func (o *Orchestrator) OnClose(conn core.Connection) {
	id := conn.ID()
	o.Rooms.LeaveAll(conn)

	o.mu.Lock()
	pipe, ok := o.pipes[id]
	delete(o.pipes, id)
	o.mu.Unlock()

	if ok {
		pipe.gate.Reset()
	}
	o.Registry.Remove(id)
	o.Limiter.Forget(id)
	if ok {
		if err := pipe.shutdown().Close(); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Str("module", "orch").Str("conn", string(id)).Err(err).Msg("close recognition")
		}
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Msg("connection closed")
}

// Connections returns the number of open pipelines.
func (o *Orchestrator) Connections() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pipes)
}

func (o *Orchestrator) pipe(id core.ConnID) (*pipeline, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pipes[id]
	return p, ok
}
