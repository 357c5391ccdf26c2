package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the consultation voice service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	// Turn loop defaults; each session may override them at creation time.
	ContinuousMode  bool
	SilenceTimeout  time.Duration
	PostSpeechDelay time.Duration
	MuteDefault     bool

	VoiceProvider string

	ElevenLabsAPIKey          string
	ElevenLabsBaseURL         string
	ElevenLabsTTSVoice        string
	ElevenLabsTTSModel        string
	ElevenLabsSTTModel        string
	ElevenLabsTTSOutputFormat string

	GeminiAPIKey    string
	GeminiBaseURL   string
	GeminiModel     string
	DialogueTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "doctalk"),
		AllowAnyOrigin:   false,
		ContinuousMode:   true,
		// Wall-clock silence window that ends a Listening phase in continuous mode.
		SilenceTimeout: 3 * time.Second,
		// Pause before re-arming the microphone so it does not pick up tail audio.
		PostSpeechDelay:   500 * time.Millisecond,
		MuteDefault:       false,
		VoiceProvider:     envOrDefault("VOICE_PROVIDER", "auto"),
		ElevenLabsBaseURL: envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		// Default to a calm premade voice that suits the consultation persona.
		ElevenLabsTTSVoice:        envOrDefault("ELEVENLABS_TTS_VOICE_ID", "EXAVITQu4vr4xnSDxMaL"),
		ElevenLabsTTSModel:        envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsSTTModel:        envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v1"),
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "mp3_44100_128"),
		ElevenLabsAPIKey:          trimmedEnv("ELEVENLABS_API_KEY"),
		GeminiAPIKey:              trimmedEnv("GEMINI_API_KEY"),
		GeminiBaseURL:             envOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModel:               envOrDefault("GEMINI_MODEL", "gemini-2.5-pro"),
		DialogueTimeout:           20 * time.Second,
		ShutdownTimeout:           15 * time.Second,
		SessionInactivityTimeout:  2 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceTimeout, err = durationFromEnv("APP_SILENCE_TIMEOUT", cfg.SilenceTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PostSpeechDelay, err = durationFromEnv("APP_POST_SPEECH_DELAY", cfg.PostSpeechDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.DialogueTimeout, err = durationFromEnv("APP_DIALOGUE_TIMEOUT", cfg.DialogueTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ContinuousMode, err = boolFromEnv("APP_CONTINUOUS_MODE", cfg.ContinuousMode)
	if err != nil {
		return Config{}, err
	}
	cfg.MuteDefault, err = boolFromEnv("APP_MUTE_DEFAULT", cfg.MuteDefault)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SilenceTimeout < 500*time.Millisecond {
		return Config{}, fmt.Errorf("APP_SILENCE_TIMEOUT must be at least 500ms")
	}
	if cfg.PostSpeechDelay < 0 {
		return Config{}, fmt.Errorf("APP_POST_SPEECH_DELAY must not be negative")
	}
	if cfg.DialogueTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_DIALOGUE_TIMEOUT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
