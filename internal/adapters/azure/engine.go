// Package azure streams PCM into Azure continuous speech recognition.
package azure

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/Microsoft/cognitive-services-speech-sdk-go/audio"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/common"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/speech"
	relayaudio "github.com/dkeye/VoiceRelay/internal/audio"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/dkeye/VoiceRelay/internal/recognition"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const resultBuffer = 64

type Engine struct {
	key    string
	region string
}

func NewEngine(key, region string) (*Engine, error) {
	if key == "" || region == "" {
		return nil, errors.New("azure engine requires subscription_key and region")
	}
	return &Engine{key: key, region: region}, nil
}

func (e *Engine) Open(ctx context.Context, opts recognition.StreamOptions) (recognition.Stream, error) {
	if opts.Format != relayaudio.PCM16kMono {
		return nil, fmt.Errorf("azure push stream expects 16kHz 16-bit mono, got %+v", opts.Format)
	}
	if len(opts.SourceLanguages) == 0 {
		return nil, errors.New("azure engine needs at least one source language")
	}

	cfg, err := speech.NewSpeechConfigFromSubscription(e.key, e.region)
	if err != nil {
		return nil, err
	}
	if opts.InitialSilenceTimeout > 0 {
		ms := strconv.FormatInt(opts.InitialSilenceTimeout.Milliseconds(), 10)
		if err := cfg.SetProperty(common.SpeechServiceConnectionInitialSilenceTimeoutMs, ms); err != nil {
			cfg.Close()
			return nil, err
		}
	}

	format, err := audio.GetWaveFormatPCM(16000, 16, 1)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("could not create audio format: %w", err)
	}
	push, err := audio.CreatePushAudioInputStreamFromFormat(format)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("could not create push stream: %w", err)
	}
	audioCfg, err := audio.NewAudioConfigFromStreamInput(push)
	if err != nil {
		push.Close()
		cfg.Close()
		return nil, err
	}

	rec, err := newRecognizer(cfg, audioCfg, opts.SourceLanguages)
	if err != nil {
		audioCfg.Close()
		push.Close()
		cfg.Close()
		return nil, err
	}

	s := &stream{
		cfg:      cfg,
		audioCfg: audioCfg,
		push:     push,
		rec:      rec,
		language: opts.SourceLanguages[0],
		detect:   len(opts.SourceLanguages) > 1,
		results:  make(chan *recognition.Result, resultBuffer),
		stopped:  make(chan struct{}),
		logger:   log.With().Str("module", "azure").Strs("languages", opts.SourceLanguages).Logger(),
	}
	s.bind()

	if err := <-rec.StartContinuousRecognitionAsync(); err != nil {
		s.release()
		return nil, fmt.Errorf("start recognition: %w", err)
	}
	s.logger.Info().Msg("continuous recognition started")

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	return s, nil
}

// newRecognizer auto-detects among several source languages or pins a single one.
func newRecognizer(cfg *speech.SpeechConfig, audioCfg *audio.AudioConfig, languages []string) (*speech.SpeechRecognizer, error) {
	if len(languages) == 1 {
		if err := cfg.SetSpeechRecognitionLanguage(languages[0]); err != nil {
			return nil, err
		}
		return speech.NewSpeechRecognizerFromConfig(cfg, audioCfg)
	}
	detect, err := speech.NewAutoDetectSourceLanguageConfigFromLanguages(languages)
	if err != nil {
		return nil, err
	}
	defer detect.Close()
	return speech.NewSpeechRecognizerFomAutoDetectSourceLangConfig(cfg, detect, audioCfg)
}

type stream struct {
	cfg      *speech.SpeechConfig
	audioCfg *audio.AudioConfig
	push     *audio.PushAudioInputStream
	rec      *speech.SpeechRecognizer
	language string
	detect   bool
	logger   zerolog.Logger

	mu      sync.Mutex
	done    bool
	senders sync.WaitGroup
	results chan *recognition.Result

	stopOnce sync.Once
	stopped  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (s *stream) bind() {
	s.rec.SessionStarted(func(e speech.SessionEventArgs) {
		s.logger.Debug().Str("session", e.SessionID).Msg("azure session started")
	})
	s.rec.Recognizing(func(e speech.SpeechRecognitionEventArgs) {
		s.emit(s.result(domain.Recognizing, &e.Result))
	})
	s.rec.Recognized(func(e speech.SpeechRecognitionEventArgs) {
		s.emit(s.result(domain.Recognized, &e.Result))
	})
	s.rec.SessionStopped(func(e speech.SessionEventArgs) {
		s.logger.Info().Msg("azure session stopped")
		s.emit(&recognition.Result{Kind: domain.SessionStopped, Reason: domain.ErrEngineSessionStopped.Error()})
		s.finish()
	})
	s.rec.Canceled(func(e speech.SpeechRecognitionCanceledEventArgs) {
		s.logger.Warn().Str("details", e.ErrorDetails).Msg("azure recognition canceled")
		s.emit(&recognition.Result{Kind: domain.Canceled, Reason: fmt.Sprintf("%v: %s", domain.ErrEngineCanceled, e.ErrorDetails)})
		s.finish()
	})
}

func (s *stream) result(kind domain.EventKind, r *speech.SpeechRecognitionResult) *recognition.Result {
	lang := s.language
	if s.detect {
		if detected := r.Properties.GetProperty(common.SpeechServiceConnectionAutoDetectSourceLanguageResult, ""); detected != "" {
			lang = detected
		}
	}
	out := &recognition.Result{Kind: kind, Text: r.Text, Language: lang}
	if r.Text != "" {
		out.Translations = map[string]string{lang: r.Text}
	}
	return out
}

// emit runs on SDK callback goroutines. A send blocked on a slow consumer is abandoned once
// the stream stops; results after finish are discarded.
func (s *stream) emit(r *recognition.Result) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.senders.Add(1)
	s.mu.Unlock()
	defer s.senders.Done()

	select {
	case s.results <- r:
		return
	case <-s.stopped:
	}
	select {
	case s.results <- r:
	default:
		s.logger.Debug().Str("status", r.Kind.String()).Msg("result dropped after stop")
	}
}

func (s *stream) stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// finish closes the result channel once no callback is sending on it.
func (s *stream) finish() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()

	s.stop()
	s.senders.Wait()
	close(s.results)
}

func (s *stream) Write(p []byte) (int, error) {
	if err := s.push.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *stream) Results() <-chan *recognition.Result { return s.results }

// Close stops recognition without waiting on a slow result consumer, then releases SDK handles.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.stop()
		s.closeErr = <-s.rec.StopContinuousRecognitionAsync()
		s.push.Close()
		s.finish()
		s.release()
	})
	return s.closeErr
}

func (s *stream) release() {
	s.rec.Close()
	s.audioCfg.Close()
	s.cfg.Close()
}
