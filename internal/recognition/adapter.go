package recognition

import (
	"fmt"
	"sync"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SessionAdapter owns one engine stream for one connection.
//
// Results of an utterance are tagged with the snapshot that was current when the utterance's
// first audio was submitted, so a RoomId change in the middle of a sentence takes effect from the
// next sentence on. A final result closes the utterance. Terminal results use the latest snapshot.
type SessionAdapter struct {
	stream Stream
	sink   Sink
	logger zerolog.Logger

	mu        sync.Mutex
	utterance *domain.SessionInfo
	latest    *domain.SessionInfo
	closed    bool
	ended     error

	done chan struct{}
}

func NewSessionAdapter(stream Stream, sink Sink, tag string) *SessionAdapter {
	a := &SessionAdapter{
		stream: stream,
		sink:   sink,
		logger: log.With().Str("module", "recognition").Str("conn", tag).Str("mode", string(ModePerSession)).Logger(),
		done:   make(chan struct{}),
	}
	go a.consume()
	return a
}

func (a *SessionAdapter) Submit(snapshot domain.SessionInfo, pcm []byte) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return domain.ErrConnectionClosed
	}
	if a.ended != nil {
		a.mu.Unlock()
		return a.ended
	}
	snap := snapshot.Clone()
	if a.utterance == nil {
		a.utterance = &snap
	}
	a.latest = &snap
	a.mu.Unlock()

	if _, err := a.stream.Write(pcm); err != nil {
		return fmt.Errorf("engine write: %w", err)
	}
	return nil
}

// Close stops the engine stream. Results still in flight are delivered until the stream
// closes its result channel.
func (a *SessionAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	return a.stream.Close()
}

// Done is closed once every result of the stream has been handled.
func (a *SessionAdapter) Done() <-chan struct{} { return a.done }

func (a *SessionAdapter) consume() {
	defer close(a.done)
	for r := range a.stream.Results() {
		snap, ok := a.attribute(r.Kind)
		emit(a.logger, a.sink, r, snap, ok)
	}

	a.mu.Lock()
	if !a.closed && a.ended == nil {
		a.ended = domain.ErrEngineSessionStopped
	}
	a.mu.Unlock()
	a.logger.Debug().Msg("result stream closed")
}

// Err reports why the engine stream stopped accepting audio, or nil while it is usable.
func (a *SessionAdapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ended
}

func (a *SessionAdapter) attribute(kind domain.EventKind) (domain.SessionInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var snap *domain.SessionInfo
	switch {
	case kind.Terminal():
		snap = a.latest
		a.utterance = nil
		if a.ended == nil {
			a.ended = terminalErr(kind)
		}
	case a.utterance != nil:
		snap = a.utterance
	default:
		snap = a.latest
	}
	if kind == domain.Recognized {
		a.utterance = nil
	}
	if snap == nil {
		return domain.SessionInfo{}, false
	}
	return *snap, true
}

func terminalErr(kind domain.EventKind) error {
	if kind == domain.Canceled {
		return domain.ErrEngineCanceled
	}
	return domain.ErrEngineSessionStopped
}

// emit turns an attributed result into an event. Non-terminal results without text are dropped.
func emit(logger zerolog.Logger, sink Sink, r *Result, snap domain.SessionInfo, bound bool) {
	if !bound {
		logger.Warn().Str("status", r.Kind.String()).Msg("result without session context dropped")
		return
	}
	if !r.Kind.Terminal() && !hasText(r) {
		if r.Kind == domain.Recognized {
			logger.Warn().Str("room", string(snap.RoomID)).Msg("result without translations dropped")
		}
		return
	}
	if r.Kind.Terminal() {
		logger.Info().Str("status", r.Kind.String()).Str("reason", r.Reason).Msg("recognition ended")
	}
	sink.Enqueue(domain.NewRecognitionEvent(r.Kind, snap, r.Translations, r.Reason))
}
