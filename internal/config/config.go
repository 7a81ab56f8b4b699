package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	WSPath     string        `mapstructure:"ws_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`

	Queue      QueueConfig      `mapstructure:"queue"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Translator TranslatorConfig `mapstructure:"translator"`
	Rooms      RoomsConfig      `mapstructure:"rooms"`
}

type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type BroadcastConfig struct {
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	PrimaryLanguage string        `mapstructure:"primary_language"`
	Policy          string        `mapstructure:"policy"`
}

type AudioConfig struct {
	SampleRate      int           `mapstructure:"sample_rate"`
	BitDepth        int           `mapstructure:"bit_depth"`
	Channels        int           `mapstructure:"channels"`
	Window          time.Duration `mapstructure:"window"`
	VAD             string        `mapstructure:"vad"`
	VADMode         int           `mapstructure:"vad_mode"`
	EnergyThreshold float64       `mapstructure:"energy_threshold"`
}

type EngineConfig struct {
	Provider              string        `mapstructure:"provider"`
	Mode                  string        `mapstructure:"mode"`
	SubscriptionKey       string        `mapstructure:"subscription_key"`
	Region                string        `mapstructure:"region"`
	SourceLanguages       []string      `mapstructure:"source_languages"`
	TargetLanguages       []string      `mapstructure:"target_languages"`
	InitialSilenceTimeout time.Duration `mapstructure:"initial_silence_timeout"`
	AwaitTimeout          time.Duration `mapstructure:"await_timeout"`
	Backlog               int           `mapstructure:"backlog"`
}

type TranslatorConfig struct {
	Provider string        `mapstructure:"provider"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Partials bool          `mapstructure:"partials"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type RoomsConfig struct {
	SwitchLimit    int           `mapstructure:"switch_limit"`
	SwitchInterval time.Duration `mapstructure:"switch_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 3003)
	v.SetDefault("log_level", "info")
	v.SetDefault("ws_path", "/translate-stream")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 256)

	v.SetDefault("queue.capacity", 10000)

	v.SetDefault("broadcast.send_timeout", "2s")
	v.SetDefault("broadcast.max_concurrency", 64)
	v.SetDefault("broadcast.primary_language", "zh-Hans")
	v.SetDefault("broadcast.policy", "kick")

	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.bit_depth", 16)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.window", "300ms")
	v.SetDefault("audio.vad", "webrtc")
	v.SetDefault("audio.vad_mode", 3)
	v.SetDefault("audio.energy_threshold", 0.02)

	v.SetDefault("engine.provider", "azure")
	v.SetDefault("engine.mode", "per_session")
	v.SetDefault("engine.subscription_key", "")
	v.SetDefault("engine.region", "eastus")
	v.SetDefault("engine.source_languages", []string{"en-US", "zh-CN"})
	v.SetDefault("engine.target_languages", []string{"de", "fr", "zh-Hans", "es", "en"})
	v.SetDefault("engine.initial_silence_timeout", "5s")
	v.SetDefault("engine.await_timeout", "3s")
	v.SetDefault("engine.backlog", 64)

	v.SetDefault("translator.provider", "none")
	v.SetDefault("translator.api_key", "")
	v.SetDefault("translator.model", "gemini-2.0-flash")
	v.SetDefault("translator.partials", false)
	v.SetDefault("translator.timeout", "5s")

	v.SetDefault("rooms.switch_limit", 10)
	v.SetDefault("rooms.switch_interval", "10s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) on top of the defaults.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load with an explicit file. A missing file is not an error.
// Environment variables RELAY_<KEY> (dots become underscores) override both.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("engine.subscription_key", "RELAY_ENGINE_SUBSCRIPTION_KEY", "SUBSCRIPTION_KEY"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("translator.api_key", "RELAY_TRANSLATOR_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if missing := cfg.UntranslatedTargets(); len(missing) > 0 {
		log.Warn().Str("module", "config").Strs("targets", missing).
			Msg("no translator configured: translations carry only the recognized text under its source language")
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("engine", cfg.Engine.Provider+"/"+cfg.Engine.Mode).Str("translator", cfg.Translator.Provider).
		Msg("config ready")
	return &cfg, nil
}

// UntranslatedTargets lists the configured target languages that no translator will produce.
func (c *Config) UntranslatedTargets() []string {
	if c.Translator.Provider != "" && c.Translator.Provider != "none" {
		return nil
	}
	return c.Engine.TargetLanguages
}

// Validate rejects values no component can run with. Credentials are checked by the
// components that need them.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.Queue.Capacity <= 0:
		return fmt.Errorf("queue.capacity must be positive")
	case c.Engine.Mode != "per_session" && c.Engine.Mode != "shared":
		return fmt.Errorf("engine.mode must be per_session or shared, got %q", c.Engine.Mode)
	case c.Audio.VAD != "webrtc" && c.Audio.VAD != "energy":
		return fmt.Errorf("audio.vad must be webrtc or energy, got %q", c.Audio.VAD)
	case !strings.HasPrefix(c.WSPath, "/"):
		return fmt.Errorf("ws_path must start with /")
	}
	return nil
}
