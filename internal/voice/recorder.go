package voice

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrAlreadyRecording = errors.New("recorder: capture already in progress")
	ErrNotRecording     = errors.New("recorder: no capture in progress")
)

// ClipRecorder assembles microphone chunks pushed by the client into one
// finite clip per capture session. It enforces the single-active-session
// guard: Start while recording and Stop while idle are errors.
type ClipRecorder struct {
	mu         sync.Mutex
	recording  bool
	pcm        []byte
	sampleRate int
}

func NewClipRecorder() *ClipRecorder {
	return &ClipRecorder{}
}

func (r *ClipRecorder) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return ErrAlreadyRecording
	}
	r.recording = true
	r.pcm = r.pcm[:0]
	r.sampleRate = 0
	return nil
}

// Append buffers one capture chunk. Chunks arriving while no capture session
// is active belong to a superseded turn and are dropped.
func (r *ClipRecorder) Append(pcm []byte, sampleRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording || len(pcm) == 0 {
		return
	}
	if r.sampleRate == 0 && sampleRate > 0 {
		r.sampleRate = sampleRate
	}
	r.pcm = append(r.pcm, pcm...)
}

func (r *ClipRecorder) Stop(_ context.Context) (Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return Clip{}, ErrNotRecording
	}
	r.recording = false
	clip := Clip{
		PCM16:      append([]byte(nil), r.pcm...),
		SampleRate: r.sampleRate,
	}
	r.pcm = r.pcm[:0]
	if clip.SampleRate == 0 {
		clip.SampleRate = 16000
	}
	return clip, nil
}

func (r *ClipRecorder) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.pcm = r.pcm[:0]
	r.sampleRate = 0
}
