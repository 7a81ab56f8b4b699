package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/audio"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/dkeye/VoiceRelay/internal/recognition"
	"github.com/rs/zerolog/log"
)

type pipeline struct {
	ctx  context.Context
	conn core.Connection
	gate *audio.Gate

	mu      sync.Mutex
	adapter recognition.Adapter
	closed  bool
}

func (p *pipeline) current() recognition.Adapter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adapter
}

// reopen replaces an adapter whose engine stream has ended.
func (p *pipeline) reopen(factory AdapterFactory, cause error) (recognition.Adapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, domain.ErrConnectionClosed
	}
	_ = p.adapter.Close()
	log.Warn().Str("module", "orch").Str("conn", string(p.conn.ID())).Err(cause).Msg("engine stream ended, reopening")

	a, err := factory.ForConnection(p.ctx, p.conn.ID())
	if err != nil {
		return nil, fmt.Errorf("reopen recognition: %w", err)
	}
	p.adapter = a
	return a, nil
}

// shutdown marks the pipeline closed and returns the adapter to release.
func (p *pipeline) shutdown() recognition.Adapter {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.adapter
}

func (o *Orchestrator) onAudio(id core.ConnID, pipe *pipeline, pcm []byte) {
	if _, err := pipe.gate.Write(pcm); err != nil {
		log.Warn().Str("module", "orch").Str("conn", string(id)).Err(err).Msg("audio window dropped")
	}
}

// submitter is the downstream of a gate: it tags each voiced window with the session
// snapshot taken at flush time and hands it to recognition.
type submitter struct {
	registry *app.Registry
	factory  AdapterFactory
	pipe     *pipeline
}

func (s *submitter) Write(p []byte) (int, error) {
	id := s.pipe.conn.ID()
	snap, ok := s.registry.Snapshot(id)
	if !ok {
		return 0, domain.ErrConnectionClosed
	}

	err := s.pipe.current().Submit(snap, p)
	if engineEnded(err) {
		adapter, rerr := s.pipe.reopen(s.factory, err)
		if rerr != nil {
			if !errors.Is(rerr, domain.ErrConnectionClosed) {
				log.Error().Str("module", "orch").Str("conn", string(id)).Err(rerr).Msg("recognition unavailable, closing connection")
				s.pipe.conn.Close()
			}
			return 0, rerr
		}
		err = adapter.Submit(snap, p)
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func engineEnded(err error) bool {
	return errors.Is(err, domain.ErrEngineCanceled) || errors.Is(err, domain.ErrEngineSessionStopped)
}
