package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/giuliaferri/doctalk/internal/audio"
	"github.com/giuliaferri/doctalk/internal/reliability"
)

const (
	elevenMaxAttempts = 2
	elevenBackoffBase = 300 * time.Millisecond
	elevenBackoffCap  = 1500 * time.Millisecond
)

type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	STTModelID   string
	TTSVoiceID   string
	TTSModelID   string
	OutputFormat string
	Timeout      time.Duration
}

// ElevenLabsProvider implements one-shot speech-to-text and text-to-speech
// over the ElevenLabs REST API. Each turn is a complete record-then-send
// unit; no streaming endpoints are used.
type ElevenLabsProvider struct {
	cfg        ElevenLabsConfig
	httpClient *http.Client
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.STTModelID) == "" {
		cfg.STTModelID = "scribe_v1"
	}
	if strings.TrimSpace(cfg.TTSModelID) == "" {
		cfg.TTSModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ElevenLabsProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Transcribe uploads the finite clip as WAV and returns the transcript.
// A no-speech clip yields an empty transcript, not a hang.
func (p *ElevenLabsProvider) Transcribe(ctx context.Context, clip Clip) (string, error) {
	if len(clip.PCM16) == 0 {
		return "", nil
	}
	wav, err := audio.EncodeWAVPCM16LE(clip.PCM16, clip.SampleRate)
	if err != nil {
		return "", fmt.Errorf("encode clip: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "clip.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	if err := mw.WriteField("model_id", p.cfg.STTModelID); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/speech-to-text"
	respBody, err := p.doWithRetry(ctx, endpoint, mw.FormDataContentType(), body.Bytes())
	if err != nil {
		return "", err
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}

// Synthesize renders reply text into one playable audio artifact.
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string) (Audio, error) {
	if strings.TrimSpace(text) == "" {
		return Audio{}, fmt.Errorf("synthesis text is empty")
	}
	if strings.TrimSpace(p.cfg.TTSVoiceID) == "" {
		return Audio{}, fmt.Errorf("tts voice_id is required")
	}

	payload, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": p.cfg.TTSModelID,
		"voice_settings": map[string]float64{
			"stability":        0.42,
			"similarity_boost": 0.85,
		},
	})
	if err != nil {
		return Audio{}, err
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") +
		"/v1/text-to-speech/" + url.PathEscape(p.cfg.TTSVoiceID) +
		"?output_format=" + url.QueryEscape(p.cfg.OutputFormat)
	data, err := p.doWithRetry(ctx, endpoint, "application/json", payload)
	if err != nil {
		return Audio{}, err
	}
	if len(data) == 0 {
		return Audio{}, fmt.Errorf("tts returned no audio")
	}
	return Audio{Data: data, Format: p.cfg.OutputFormat}, nil
}

func (p *ElevenLabsProvider) doWithRetry(ctx context.Context, endpoint, contentType string, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < elevenMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, elevenBackoffBase, elevenBackoffCap)):
			}
		}
		data, retryable, err := p.do(ctx, endpoint, contentType, payload)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *ElevenLabsProvider) do(ctx context.Context, endpoint, contentType string, payload []byte) (data []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("xi-api-key", p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(body))
		if len(detail) > 300 {
			detail = detail[:300] + "..."
		}
		return nil, reliability.IsRetryableHTTPStatus(resp.StatusCode),
			fmt.Errorf("elevenlabs status %d: %s", resp.StatusCode, detail)
	}
	return body, false, nil
}
