package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestElevenLabsTranscribe(t *testing.T) {
	var gotModelID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/speech-to-text" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "key-123" {
			t.Errorf("missing api key header")
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotModelID = r.FormValue("model_id")
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		header := make([]byte, 4)
		if _, err := file.Read(header); err != nil || string(header) != "RIFF" {
			t.Errorf("upload is not WAV, header = %q err = %v", header, err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  I have a headache  "})
	}))
	defer srv.Close()

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "key-123", BaseURL: srv.URL})
	text, err := p.Transcribe(context.Background(), Clip{PCM16: []byte{0, 1, 0, 1}, SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "I have a headache" {
		t.Fatalf("text = %q", text)
	}
	if gotModelID != "scribe_v1" {
		t.Fatalf("model_id = %q", gotModelID)
	}
}

func TestElevenLabsTranscribeEmptyClip(t *testing.T) {
	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "key"})
	text, err := p.Transcribe(context.Background(), Clip{})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "" {
		t.Fatalf("text = %q, want empty for silent clip", text)
	}
}

func TestElevenLabsSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/voice-1") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != "mp3_44100_128" {
			t.Errorf("output_format = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["text"] != "Take rest and drink water." {
			t.Errorf("text = %v", body["text"])
		}
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "key", BaseURL: srv.URL, TTSVoiceID: "voice-1"})
	audio, err := p.Synthesize(context.Background(), "Take rest and drink water.")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(audio.Data) != "mp3-bytes" || audio.Format != "mp3_44100_128" {
		t.Fatalf("audio = %+v", audio)
	}
}

func TestElevenLabsRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok-audio"))
	}))
	defer srv.Close()

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "key", BaseURL: srv.URL, TTSVoiceID: "v"})
	audio, err := p.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(audio.Data) != "ok-audio" {
		t.Fatalf("audio = %q", audio.Data)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestElevenLabsNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad voice", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewElevenLabsProvider(ElevenLabsConfig{APIKey: "key", BaseURL: srv.URL, TTSVoiceID: "v"})
	if _, err := p.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}
