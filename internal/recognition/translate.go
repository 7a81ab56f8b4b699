package recognition

import (
	"context"
	"maps"
	"time"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Translator renders text into each target language.
type Translator interface {
	Translate(ctx context.Context, text, source string, targets []string) (map[string]string, error)
}

// TranslatingEngine fills Translations of final results (and partials when Partials is set)
// using a Translator. A failed translation keeps the result with whatever the engine produced.
type TranslatingEngine struct {
	Engine     Engine
	Translator Translator
	Partials   bool
	Timeout    time.Duration
}

func (e *TranslatingEngine) Open(ctx context.Context, opts StreamOptions) (Stream, error) {
	inner, err := e.Engine.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &translatingStream{
		Stream:   inner,
		tr:       e.Translator,
		targets:  opts.TargetLanguages,
		partials: e.Partials,
		timeout:  timeout,
		out:      make(chan *Result, cap(inner.Results())+1),
	}
	go s.loop()
	return s, nil
}

type translatingStream struct {
	Stream
	tr       Translator
	targets  []string
	partials bool
	timeout  time.Duration
	out      chan *Result
}

func (s *translatingStream) Results() <-chan *Result { return s.out }

func (s *translatingStream) loop() {
	defer close(s.out)
	for r := range s.Stream.Results() {
		if s.wants(r) {
			s.translate(r)
		}
		s.out <- r
	}
}

func (s *translatingStream) wants(r *Result) bool {
	if r.Text == "" || len(s.targets) == 0 {
		return false
	}
	return r.Kind == domain.Recognized || (s.partials && r.Kind == domain.Recognizing)
}

func (s *translatingStream) translate(r *Result) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	got, err := s.tr.Translate(ctx, r.Text, r.Language, s.targets)
	if err != nil {
		log.Warn().Str("module", "recognition").Err(err).Str("lang", r.Language).Msg("translation failed")
		return
	}
	if r.Translations == nil {
		r.Translations = make(map[string]string, len(got))
	}
	maps.Copy(r.Translations, got)
}
