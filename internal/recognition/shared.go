package recognition

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SharedAdapter multiplexes every connection onto a single engine stream. Submissions run one
// at a time on a single worker. Consecutive windows of the same caller are written straight
// through under one binding; before another caller may bind, the stream waits for a final
// result or the await timeout. Results arriving while nothing is bound are dropped.
type SharedAdapter struct {
	stream  Stream
	sink    Sink
	wp      *workerpool.WorkerPool
	backlog int
	await   time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	bound   *domain.SessionInfo
	owner   string
	held    bool
	rebind  bool
	pending []string
	closed  bool
	ended   error

	more   chan struct{}
	finals chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

func NewSharedAdapter(stream Stream, sink Sink, backlog int, await time.Duration) *SharedAdapter {
	if backlog <= 0 {
		backlog = 64
	}
	if await <= 0 {
		await = 3 * time.Second
	}
	a := &SharedAdapter{
		stream:  stream,
		sink:    sink,
		wp:      workerpool.New(1),
		backlog: backlog,
		await:   await,
		logger:  log.With().Str("module", "recognition").Str("mode", string(ModeShared)).Logger(),
		more:    make(chan struct{}, 1),
		finals:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go a.consume()
	return a
}

// Submit queues pcm for the shared stream and returns immediately.
func (a *SharedAdapter) Submit(snapshot domain.SessionInfo, pcm []byte) error {
	return a.submit("", snapshot, pcm)
}

func (a *SharedAdapter) submit(owner string, snapshot domain.SessionInfo, pcm []byte) error {
	snap := snapshot.Clone()
	buf := append([]byte(nil), pcm...)

	// Held across Submit so Close cannot stop the pool in between.
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return domain.ErrConnectionClosed
	}
	if a.ended != nil {
		return a.ended
	}
	if n := a.wp.WaitingQueueSize(); n >= a.backlog {
		a.logger.Warn().Str("room", string(snapshot.RoomID)).Int("backlog", n).Msg("shared engine busy, audio dropped")
		return domain.ErrBackpressure
	}
	a.pending = append(a.pending, owner)
	a.wp.Submit(func() { a.run(owner, snap, buf) })

	select {
	case a.more <- struct{}{}:
	default:
	}
	return nil
}

func (a *SharedAdapter) run(owner string, snap domain.SessionInfo, pcm []byte) {
	select {
	case <-a.finals:
	default:
	}

	a.mu.Lock()
	if len(a.pending) > 0 {
		a.pending = a.pending[1:]
	}
	if a.closed {
		a.mu.Unlock()
		return
	}
	switch {
	case !a.held || a.owner != owner:
		a.bound = &snap
		a.owner = owner
		a.rebind = false
	case a.rebind:
		// The previous utterance of this caller ended; the next one takes the current snapshot.
		a.bound = &snap
		a.rebind = false
	}
	a.held = false
	a.mu.Unlock()

	if _, err := a.stream.Write(pcm); err != nil {
		a.logger.Error().Err(err).Msg("engine write")
		a.unbind()
		return
	}

	timer := time.NewTimer(a.await)
	defer timer.Stop()
	for {
		if a.continuedBy(owner) {
			return
		}
		select {
		case <-a.finals:
			a.unbind()
			return
		case <-timer.C:
			a.logger.Debug().Str("room", string(snap.RoomID)).Msg("no final result before timeout")
			a.unbind()
			return
		case <-a.stop:
			a.unbind()
			return
		case <-a.more:
		}
	}
}

// continuedBy keeps the binding when the next queued submission belongs to the same caller.
func (a *SharedAdapter) continuedBy(owner string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 || a.pending[0] != owner {
		return false
	}
	a.held = true
	return true
}

func (a *SharedAdapter) unbind() {
	a.mu.Lock()
	a.bound = nil
	a.owner = ""
	a.held = false
	a.rebind = false
	a.mu.Unlock()
}

func (a *SharedAdapter) consume() {
	defer close(a.done)
	for r := range a.stream.Results() {
		final := r.Kind == domain.Recognized || r.Kind.Terminal()

		a.mu.Lock()
		var snap domain.SessionInfo
		bound := a.bound != nil
		if bound {
			snap = *a.bound
		}
		if final && a.held {
			a.rebind = true
		}
		if r.Kind.Terminal() && a.ended == nil {
			a.ended = terminalErr(r.Kind)
		}
		a.mu.Unlock()

		emit(a.logger, a.sink, r, snap, bound)
		if final {
			select {
			case a.finals <- struct{}{}:
			default:
			}
		}
	}

	a.mu.Lock()
	if !a.closed && a.ended == nil {
		a.ended = domain.ErrEngineSessionStopped
	}
	a.mu.Unlock()
}

// Err reports why the shared stream stopped accepting audio, or nil while it is usable.
func (a *SharedAdapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return domain.ErrConnectionClosed
	}
	return a.ended
}

// Handle returns the per-connection view of the shared stream.
func (a *SharedAdapter) Handle(tag string) Adapter {
	return &sharedHandle{shared: a, tag: tag}
}

// Close drops pending submissions and stops the shared stream.
func (a *SharedAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.stop)
	a.wp.Stop()
	if err := a.stream.Close(); err != nil {
		return fmt.Errorf("close shared stream: %w", err)
	}
	return nil
}

// Done is closed once the result stream has been drained.
func (a *SharedAdapter) Done() <-chan struct{} { return a.done }

type sharedHandle struct {
	shared *SharedAdapter
	tag    string

	mu     sync.Mutex
	closed bool
}

func (h *sharedHandle) Submit(snapshot domain.SessionInfo, pcm []byte) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return domain.ErrConnectionClosed
	}
	return h.shared.submit(h.tag, snapshot, pcm)
}

// Close detaches the connection; the shared stream stays open.
func (h *sharedHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}
