package main

import "testing"

func TestToneClipShape(t *testing.T) {
	clip := toneClip(100, 16000)
	if clip.SampleRate != 16000 {
		t.Fatalf("sample rate = %d", clip.SampleRate)
	}
	if len(clip.PCM16LE) != 1600*2 {
		t.Fatalf("pcm bytes = %d, want %d", len(clip.PCM16LE), 1600*2)
	}
	var nonZero bool
	for _, b := range clip.PCM16LE {
		if b != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Fatalf("tone clip is silent")
	}
}

func TestParseFlagDefaults(t *testing.T) {
	cfg, err := parseFlags()
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if cfg.turns != 10 || cfg.chunkMS != 45 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.turnTimeout.Milliseconds() != 15000 {
		t.Fatalf("turn timeout = %v", cfg.turnTimeout)
	}
}
