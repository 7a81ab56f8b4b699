package recognition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	results chan *Result
	writes  chan []byte
	once    sync.Once
	endOnce sync.Once
	closed  chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		results: make(chan *Result, 16),
		writes:  make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (s *fakeStream) Write(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, errors.New("stream closed")
	default:
	}
	s.writes <- append([]byte(nil), p...)
	return len(p), nil
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	s.end()
	return nil
}

// end closes the result channel the way an engine does when its session stops.
func (s *fakeStream) end() {
	s.endOnce.Do(func() { close(s.results) })
}

func (s *fakeStream) Results() <-chan *Result { return s.results }

func (s *fakeStream) push(kind domain.EventKind, text string) {
	r := &Result{Kind: kind, Text: text, Language: "en-US"}
	if text != "" {
		r.Translations = map[string]string{"en": text}
	}
	s.results <- r
}

func (s *fakeStream) waitWrite(t *testing.T) []byte {
	t.Helper()
	select {
	case p := <-s.writes:
		return p
	case <-time.After(time.Second):
		t.Fatal("no write reached the engine")
	}
	return nil
}

type fakeEngine struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
}

func (e *fakeEngine) Open(context.Context, StreamOptions) (Stream, error) {
	if e.err != nil {
		return nil, e.err
	}
	s := newFakeStream()
	e.mu.Lock()
	e.streams = append(e.streams, s)
	e.mu.Unlock()
	return s, nil
}

func (e *fakeEngine) opened() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.streams)
}

type fakeSink struct {
	mu     sync.Mutex
	events []domain.RecognitionEvent
}

func (s *fakeSink) Enqueue(ev domain.RecognitionEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *fakeSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *fakeSink) waitFor(t *testing.T, n int) []domain.RecognitionEvent {
	t.Helper()
	require.Eventually(t, func() bool { return s.len() >= n }, time.Second, 5*time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RecognitionEvent(nil), s.events...)
}

func session(room string) domain.SessionInfo {
	s := domain.NewSessionInfo()
	s.RoomID = domain.RoomID(room)
	return s
}
