package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/VoiceRelay/internal/adapters/azure"
	"github.com/dkeye/VoiceRelay/internal/adapters/gemini"
	router "github.com/dkeye/VoiceRelay/internal/adapters/http"
	wssignal "github.com/dkeye/VoiceRelay/internal/adapters/signal"
	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/app/broadcast"
	"github.com/dkeye/VoiceRelay/internal/app/orch"
	"github.com/dkeye/VoiceRelay/internal/audio"
	"github.com/dkeye/VoiceRelay/internal/config"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/recognition"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("relay stopped with error")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg *config.Config) {
	if cfg.Mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func newClassifier(cfg config.AudioConfig) (audio.Classifier, error) {
	if cfg.VAD == "energy" {
		return audio.EnergyClassifier{Threshold: cfg.EnergyThreshold}, nil
	}
	return audio.NewWebRTCClassifier(cfg.VADMode)
}

func newEngine(ctx context.Context, cfg *config.Config) (recognition.Engine, error) {
	if cfg.Engine.Provider != "azure" {
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Engine.Provider)
	}
	engine, err := azure.NewEngine(cfg.Engine.SubscriptionKey, cfg.Engine.Region)
	if err != nil {
		return nil, err
	}

	switch cfg.Translator.Provider {
	case "", "none":
		return engine, nil
	case "gemini":
		tr, err := gemini.NewTranslator(ctx, cfg.Translator.APIKey, cfg.Translator.Model)
		if err != nil {
			return nil, err
		}
		return &recognition.TranslatingEngine{
			Engine:     engine,
			Translator: tr,
			Partials:   cfg.Translator.Partials,
			Timeout:    cfg.Translator.Timeout,
		}, nil
	}
	return nil, fmt.Errorf("unknown translator provider %q", cfg.Translator.Provider)
}

func run(ctx context.Context, cfg *config.Config) error {
	format := audio.Format{SampleRate: cfg.Audio.SampleRate, BitDepth: cfg.Audio.BitDepth, Channels: cfg.Audio.Channels}
	if err := format.Validate(); err != nil {
		return err
	}
	classifier, err := newClassifier(cfg.Audio)
	if err != nil {
		return fmt.Errorf("vad: %w", err)
	}
	engine, err := newEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	rooms := core.NewRoomRegistry()
	queue := broadcast.NewQueue(cfg.Queue.Capacity)
	dispatcher := broadcast.NewDispatcher(queue, rooms, app.PolicyByName(cfg.Broadcast.Policy), broadcast.Options{
		SendTimeout:     cfg.Broadcast.SendTimeout,
		MaxConcurrency:  cfg.Broadcast.MaxConcurrency,
		PrimaryLanguage: cfg.Broadcast.PrimaryLanguage,
	})
	factory := recognition.NewFactory(ctx, engine, queue, recognition.FactoryOptions{
		Mode: recognition.Mode(cfg.Engine.Mode),
		Stream: recognition.StreamOptions{
			Format:                format,
			SourceLanguages:       cfg.Engine.SourceLanguages,
			TargetLanguages:       cfg.Engine.TargetLanguages,
			InitialSilenceTimeout: cfg.Engine.InitialSilenceTimeout,
		},
		Backlog:      cfg.Engine.Backlog,
		AwaitTimeout: cfg.Engine.AwaitTimeout,
	})

	o := &orch.Orchestrator{
		Registry:   app.NewRegistry(),
		Rooms:      rooms,
		Limiter:    app.NewRoomRateLimiter(cfg.Rooms.SwitchLimit, cfg.Rooms.SwitchInterval),
		Adapters:   factory,
		Classifier: classifier,
		Format:     format,
		Window:     cfg.Audio.Window,
	}
	ws := wssignal.NewSignalWSController(o, wssignal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(ctx, cfg, ws, rooms),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("ws", cfg.WSPath).Msg("relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		queue.Close()
		if err := factory.Close(); err != nil {
			log.Warn().Err(err).Msg("close shared engine stream")
		}
		return nil
	})
	return g.Wait()
}
