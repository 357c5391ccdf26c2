package session

import (
	"context"
	"testing"
	"time"
)

func testOptions() Options {
	return Options{
		Continuous:      true,
		SilenceTimeout:  3 * time.Second,
		PostSpeechDelay: 500 * time.Millisecond,
	}
}

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", testOptions())
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.Status != StatusActive || !got.Options.Continuous {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
}

func TestManagerTurnAndTranscript(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", testOptions())

	if err := m.StartTurn(s.ID, "turn-1"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if err := m.AppendExchange(s.ID, "I have a headache", "How long have you had it?"); err != nil {
		t.Fatalf("AppendExchange() error = %v", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.TurnCount != 1 {
		t.Fatalf("TurnCount = %d, want 1", got.TurnCount)
	}
	if got.ActiveTurnID != "" {
		t.Fatalf("ActiveTurnID = %q, want cleared after exchange", got.ActiveTurnID)
	}

	transcript, err := m.Transcript(s.ID)
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if len(transcript) != 1 || transcript[0].User != "I have a headache" {
		t.Fatalf("unexpected transcript: %+v", transcript)
	}
}

func TestManagerSetMuted(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", testOptions())

	if err := m.SetMuted(s.ID, true); err != nil {
		t.Fatalf("SetMuted() error = %v", err)
	}
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Muted {
		t.Fatalf("Muted = false, want true")
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("u1", testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	expired := make(chan string, 1)
	m.SetExpireHook(func(es *Session) { expired <- es.ID })
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != s.ID {
			t.Fatalf("expired session = %q, want %q", id, s.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for expiry")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want ended", got.Status)
	}
}

func TestManagerGetUnknownSession(t *testing.T) {
	m := NewManager(time.Minute)
	if _, err := m.Get("missing"); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}
