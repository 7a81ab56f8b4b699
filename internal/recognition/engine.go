// Package recognition connects per-connection audio to a streaming speech engine and turns the
// engine's asynchronous results into room-attributed events.
package recognition

import (
	"context"
	"io"
	"time"

	"github.com/dkeye/VoiceRelay/internal/audio"
	"github.com/dkeye/VoiceRelay/internal/domain"
)

// Result is one asynchronous engine result.
type Result struct {
	Kind         domain.EventKind
	Text         string
	Language     string
	Translations map[string]string
	Reason       string
}

// StreamOptions configure one engine stream.
type StreamOptions struct {
	Format                audio.Format
	SourceLanguages       []string
	TargetLanguages       []string
	InitialSilenceTimeout time.Duration
}

// DefaultStreamOptions mirror the engine setup the relay has always used.
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		Format:                audio.PCM16kMono,
		SourceLanguages:       []string{"en-US", "zh-CN"},
		TargetLanguages:       []string{"de", "fr", "zh-Hans", "es", "en"},
		InitialSilenceTimeout: 5 * time.Second,
	}
}

// Stream is a continuous recognition session. Writes push PCM, Results delivers outcomes
// and is closed once the stream has fully stopped.
type Stream interface {
	io.Writer
	io.Closer
	Results() <-chan *Result
}

// Engine opens recognition streams.
type Engine interface {
	Open(ctx context.Context, opts StreamOptions) (Stream, error)
}

// Sink receives attributed events. Enqueue must not block.
type Sink interface {
	Enqueue(ev domain.RecognitionEvent) bool
}

// Adapter is the per-connection entry point into recognition.
type Adapter interface {
	// Submit forwards voiced PCM tagged with the session state at submission time.
	Submit(snapshot domain.SessionInfo, pcm []byte) error
	Close() error
}

// hasText reports whether r carries anything worth broadcasting.
func hasText(r *Result) bool {
	for _, v := range r.Translations {
		if v != "" {
			return true
		}
	}
	return false
}
