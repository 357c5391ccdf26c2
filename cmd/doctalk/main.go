package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/giuliaferri/doctalk/internal/config"
	"github.com/giuliaferri/doctalk/internal/dialogue"
	"github.com/giuliaferri/doctalk/internal/httpapi"
	"github.com/giuliaferri/doctalk/internal/observability"
	"github.com/giuliaferri/doctalk/internal/session"
	"github.com/giuliaferri/doctalk/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var (
		transcriber           voice.Transcriber
		synthesizer           voice.Synthesizer
		resolvedVoiceProvider string
	)

	voiceMode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if voiceMode == "" {
		voiceMode = "auto"
	}

	tryElevenLabs := func() bool {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return false
		}
		p := voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			BaseURL:      cfg.ElevenLabsBaseURL,
			STTModelID:   cfg.ElevenLabsSTTModel,
			TTSVoiceID:   cfg.ElevenLabsTTSVoice,
			TTSModelID:   cfg.ElevenLabsTTSModel,
			OutputFormat: cfg.ElevenLabsTTSOutputFormat,
		})
		transcriber = p
		synthesizer = p
		resolvedVoiceProvider = "elevenlabs"
		log.Printf("voice provider: elevenlabs")
		return true
	}

	useMock := func() {
		p := voice.NewMockVoiceProvider()
		transcriber = p
		synthesizer = p
		resolvedVoiceProvider = "mock"
	}

	switch voiceMode {
	case "elevenlabs":
		if !tryElevenLabs() {
			log.Fatalf("VOICE_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
	case "mock":
		useMock()
		log.Printf("voice provider: mock")
	case "auto":
		if tryElevenLabs() {
			break
		}
		useMock()
		log.Printf("voice provider: mock (no elevenlabs key)")
	default:
		log.Fatalf("invalid VOICE_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.VoiceProvider)
	}

	// Handlers report which backend is active via /readyz.
	cfg.VoiceProvider = resolvedVoiceProvider

	var dlg dialogue.Service
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		client, err := dialogue.NewGeminiClient(dialogue.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiBaseURL,
			Model:   cfg.GeminiModel,
			Timeout: cfg.DialogueTimeout,
		})
		if err != nil {
			log.Fatalf("gemini client init failed: %v", err)
		}
		dlg = client
		log.Printf("dialogue provider: gemini (%s)", cfg.GeminiModel)
	} else {
		dlg = dialogue.NewMockService()
		log.Printf("dialogue provider: mock (no gemini key)")
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	runner := voice.NewRunner(transcriber, synthesizer, dlg, sessions, metrics)

	api := httpapi.New(cfg, sessions, runner, dlg, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
