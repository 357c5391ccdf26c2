package voice

import (
	"context"
	"sync"
)

// MockVoiceProvider is a local fallback used when no speech provider is
// configured. Transcription echoes a canned utterance for non-empty clips
// and synthesis wraps the reply text as fake audio bytes.
type MockVoiceProvider struct{}

func NewMockVoiceProvider() *MockVoiceProvider { return &MockVoiceProvider{} }

func (p *MockVoiceProvider) Transcribe(_ context.Context, clip Clip) (string, error) {
	if len(clip.PCM16) == 0 {
		return "", nil
	}
	return "simulated voice input", nil
}

func (p *MockVoiceProvider) Synthesize(_ context.Context, text string) (Audio, error) {
	return Audio{Data: []byte(text), Format: "mock_text_bytes"}, nil
}

// NullPlayer resolves every playback immediately. Used in mock mode and
// whenever no client is attached to play audio.
type NullPlayer struct {
	mu     sync.Mutex
	played []string
}

func NewNullPlayer() *NullPlayer { return &NullPlayer{} }

func (p *NullPlayer) Play(_ context.Context, turnID string, _ Audio) (<-chan error, error) {
	p.mu.Lock()
	p.played = append(p.played, turnID)
	p.mu.Unlock()
	done := make(chan error, 1)
	done <- nil
	return done, nil
}

func (p *NullPlayer) Stop() {}

func (p *NullPlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

var _ Transcriber = (*MockVoiceProvider)(nil)
var _ Synthesizer = (*MockVoiceProvider)(nil)
var _ Player = (*NullPlayer)(nil)
