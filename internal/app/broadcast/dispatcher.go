package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

type Options struct {
	SendTimeout     time.Duration
	MaxConcurrency  int
	PrimaryLanguage string
}

func (o Options) withDefaults() Options {
	if o.SendTimeout <= 0 {
		o.SendTimeout = 2 * time.Second
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 64
	}
	if o.PrimaryLanguage == "" {
		o.PrimaryLanguage = DefaultPrimaryLanguage
	}
	return o
}

// PublishResult reports delivery stats of one event.
type PublishResult struct {
	SendTo  int
	Pruned  []core.ConnID
	Dropped []core.ConnID
}

// Dispatcher is the single consumer of the event queue. It delivers each event to the
// members of the event's room and waits for all sends before taking the next event, so
// every connection observes events in queue order.
type Dispatcher struct {
	queue  *Queue
	rooms  core.RoomRegistry
	policy app.Policy
	opts   Options
	logger zerolog.Logger

	delivered atomic.Uint64
	failed    atomic.Uint64
}

func NewDispatcher(queue *Queue, rooms core.RoomRegistry, policy app.Policy, opts Options) *Dispatcher {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Dispatcher{
		queue:  queue,
		rooms:  rooms,
		policy: policy,
		opts:   opts.withDefaults(),
		logger: log.With().Str("module", "broadcast").Logger(),
	}
}

// Run consumes events until ctx is done or the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Int("capacity", d.queue.Cap()).Dur("send_timeout", d.opts.SendTimeout).Msg("dispatcher started")
	defer d.logger.Info().Uint64("delivered", d.delivered.Load()).Uint64("failed", d.failed.Load()).Msg("dispatcher stopped")
	for {
		ev, err := d.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		d.Dispatch(ctx, ev)
	}
}

// Dispatch delivers one event and applies the failure policy to members whose send failed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.RecognitionEvent) PublishResult {
	res := PublishResult{}
	room := ev.RoomID()
	logger := d.logger.With().Str("room", string(room)).Str("status", ev.Kind.String()).Logger()
	if !room.Routed() {
		logger.Debug().Str("from", ev.Session.From).Msg("unrouted event dropped")
		return res
	}

	payload, err := EncodeEvent(ev, d.opts.PrimaryLanguage)
	if err != nil {
		logger.Error().Err(err).Msg("encode event")
		return res
	}

	// Liveness pass before fan-out.
	members := d.rooms.Members(room)
	live := make([]core.Connection, 0, len(members))
	for _, m := range members {
		if m.Alive() {
			live = append(live, m)
			continue
		}
		if d.rooms.Leave(room, m) {
			res.Pruned = append(res.Pruned, m.ID())
			logger.Info().Str("conn", string(m.ID())).Msg("pruned dead member")
		}
	}
	if len(live) == 0 {
		return res
	}

	p := pool.NewWithResults[sendOutcome]().WithMaxGoroutines(d.opts.MaxConcurrency)
	for _, m := range live {
		p.Go(func() sendOutcome {
			sctx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
			defer cancel()
			return sendOutcome{conn: m, err: m.Send(sctx, core.Frame(payload))}
		})
	}

	for _, o := range p.Wait() {
		if o.err == nil {
			res.SendTo++
			continue
		}
		err := fmt.Errorf("%w: %w", domain.ErrSendFailure, o.err)
		action := d.policy.OnSendFailure(room, o.conn, err)
		logger.Warn().Err(err).Str("conn", string(o.conn.ID())).Str("action", action.String()).Msg("send failed")
		if action == app.KickMember && d.rooms.Leave(room, o.conn) {
			res.Dropped = append(res.Dropped, o.conn.ID())
		}
	}

	d.delivered.Add(uint64(res.SendTo))
	d.failed.Add(uint64(len(live) - res.SendTo))
	logger.Debug().Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Int("pruned", len(res.Pruned)).Msg("broadcast result")
	return res
}

type sendOutcome struct {
	conn core.Connection
	err  error
}
