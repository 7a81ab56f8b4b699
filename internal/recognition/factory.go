package recognition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/rs/zerolog/log"
)

type Mode string

const (
	ModePerSession Mode = "per_session"
	ModeShared     Mode = "shared"
)

type FactoryOptions struct {
	Mode         Mode
	Stream       StreamOptions
	Backlog      int
	AwaitTimeout time.Duration
}

// Factory hands out an Adapter per connection according to the configured mode.
type Factory struct {
	ctx    context.Context
	engine Engine
	sink   Sink
	opts   FactoryOptions

	mu     sync.Mutex
	shared *SharedAdapter
}

// NewFactory binds shared streams to ctx; per-session streams use the context of the connection.
func NewFactory(ctx context.Context, engine Engine, sink Sink, opts FactoryOptions) *Factory {
	if opts.Mode == "" {
		opts.Mode = ModePerSession
	}
	return &Factory{ctx: ctx, engine: engine, sink: sink, opts: opts}
}

func (f *Factory) Mode() Mode { return f.opts.Mode }

func (f *Factory) ForConnection(ctx context.Context, conn core.ConnID) (Adapter, error) {
	switch f.opts.Mode {
	case ModePerSession:
		stream, err := f.engine.Open(ctx, f.opts.Stream)
		if err != nil {
			return nil, fmt.Errorf("open engine stream: %w", err)
		}
		log.Info().Str("module", "recognition").Str("conn", string(conn)).Msg("engine stream opened")
		return NewSessionAdapter(stream, f.sink, string(conn)), nil
	case ModeShared:
		shared, err := f.sharedAdapter()
		if err != nil {
			return nil, err
		}
		return shared.Handle(string(conn)), nil
	}
	return nil, fmt.Errorf("unknown engine mode %q", f.opts.Mode)
}

func (f *Factory) sharedAdapter() (*SharedAdapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shared != nil {
		err := f.shared.Err()
		if err == nil {
			return f.shared, nil
		}
		log.Warn().Str("module", "recognition").Err(err).Msg("shared engine stream ended, reopening")
		_ = f.shared.Close()
		f.shared = nil
	}
	stream, err := f.engine.Open(f.ctx, f.opts.Stream)
	if err != nil {
		return nil, fmt.Errorf("open shared engine stream: %w", err)
	}
	f.shared = NewSharedAdapter(stream, f.sink, f.opts.Backlog, f.opts.AwaitTimeout)
	log.Info().Str("module", "recognition").Msg("shared engine stream opened")
	return f.shared, nil
}

// Close releases the shared stream, if one was opened.
func (f *Factory) Close() error {
	f.mu.Lock()
	shared := f.shared
	f.shared = nil
	f.mu.Unlock()
	if shared == nil {
		return nil
	}
	return shared.Close()
}
