package voice

import (
	"context"
	"time"
)

// Clip is one complete, finite microphone capture. Partial or streaming
// artifacts never leave the recorder.
type Clip struct {
	PCM16      []byte
	SampleRate int
}

// Duration reports the clip length assuming 16-bit mono samples.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || len(c.PCM16) == 0 {
		return 0
	}
	samples := len(c.PCM16) / 2
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Audio is a playable synthesized artifact.
type Audio struct {
	Data   []byte
	Format string
}

// Transcriber converts one finite clip into text. An empty transcript is a
// valid provider result; the orchestrator treats it as a transcription
// failure for the turn.
type Transcriber interface {
	Transcribe(ctx context.Context, clip Clip) (string, error)
}

// Synthesizer converts reply text into one playable audio artifact.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Recorder owns one capture session at a time. Start while recording and
// Stop while idle are guard errors; Stop flushes and yields one complete clip.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (Clip, error)
	// Abort discards any in-progress capture without yielding a clip.
	// Safe to call when not recording.
	Abort()
}

// Player plays exactly one clip at a time; starting a new clip first stops
// the current one. Play must not block: it registers the playback and
// returns a channel that delivers the terminal result for this invocation
// exactly once, nil for completion and an error otherwise.
type Player interface {
	Play(ctx context.Context, turnID string, audio Audio) (<-chan error, error)
	Stop()
}
