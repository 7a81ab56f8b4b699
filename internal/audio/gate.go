// Package audio buffers raw PCM per connection and forwards only the chunks that contain speech.
package audio

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultWindow is the amount of audio collected before each speech decision.
const DefaultWindow = 300 * time.Millisecond

// Gate accumulates PCM until a window is full, classifies it and writes voiced windows to
// the downstream writer. Silent windows are discarded. The buffer is emptied after every
// decision, so audio is never forwarded before a decision was made about it.
type Gate struct {
	mu        sync.Mutex
	format    Format
	threshold int
	buf       []byte
	vad       Classifier
	out       io.Writer
	tag       string

	forwarded atomic.Uint64
	discarded atomic.Uint64
}

// NewGate builds a gate for one connection. tag identifies the connection in logs.
func NewGate(format Format, window time.Duration, vad Classifier, out io.Writer, tag string) (*Gate, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if window <= 0 {
		window = DefaultWindow
	}
	threshold := format.BytesFor(window)
	if threshold == 0 {
		return nil, fmt.Errorf("vad window %s is shorter than one frame", window)
	}
	return &Gate{
		format:    format,
		threshold: threshold,
		buf:       make([]byte, 0, threshold),
		vad:       vad,
		out:       out,
		tag:       tag,
	}, nil
}

// Threshold is the number of buffered bytes that triggers a decision.
func (g *Gate) Threshold() int { return g.threshold }

// Write buffers p and runs a decision once the threshold is reached. It always consumes p;
// an error reports a classifier or downstream failure for the window that was just dropped.
func (g *Gate) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.buf = append(g.buf, p...)
	if len(g.buf) < g.threshold {
		return len(p), nil
	}

	chunk := g.buf
	g.buf = make([]byte, 0, g.threshold)

	speech, err := g.vad.DetectSpeech(chunk, g.format)
	if err != nil {
		g.discarded.Add(1)
		return len(p), fmt.Errorf("vad: %w", err)
	}
	if !speech {
		g.discarded.Add(1)
		log.Trace().Str("module", "audio.gate").Str("conn", g.tag).Int("bytes", len(chunk)).Msg("silence discarded")
		return len(p), nil
	}

	g.forwarded.Add(1)
	if _, err := g.out.Write(chunk); err != nil {
		return len(p), fmt.Errorf("forward: %w", err)
	}
	return len(p), nil
}

// Reset drops buffered audio without a decision.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.buf = g.buf[:0]
	g.mu.Unlock()
}

// Buffered returns the number of bytes awaiting a decision.
func (g *Gate) Buffered() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buf)
}

// Stats returns how many windows were forwarded and discarded so far.
func (g *Gate) Stats() (forwarded, discarded uint64) {
	return g.forwarded.Load(), g.discarded.Load()
}
