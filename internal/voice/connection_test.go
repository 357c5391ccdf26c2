package voice

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/giuliaferri/doctalk/internal/dialogue"
	"github.com/giuliaferri/doctalk/internal/protocol"
	"github.com/giuliaferri/doctalk/internal/session"
)

func waitOutbound(t *testing.T, outbound <-chan any, match func(any) bool) any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-outbound:
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for outbound message")
			return nil
		}
	}
}

func TestRunConnectionFullTurn(t *testing.T) {
	sessions := session.NewManager(time.Minute)
	sess := sessions.Create("u1", session.Options{Continuous: false})

	runner := NewRunner(
		&fakeTranscriber{text: "I have a headache"},
		&fakeSynthesizer{},
		dialogue.NewMockService(),
		sessions,
		nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 16)
	outbound := make(chan any, 64)
	runDone := make(chan error, 1)
	go func() { runDone <- runner.RunConnection(ctx, sess, inbound, outbound) }()

	control := func(action string, granted bool) protocol.ClientControl {
		return protocol.ClientControl{
			Type:      protocol.TypeClientControl,
			SessionID: sess.ID,
			Action:    action,
			Granted:   granted,
		}
	}

	inbound <- control(protocol.ActionPermission, true)
	inbound <- control(protocol.ActionStartListening, false)

	waitOutbound(t, outbound, func(msg any) bool {
		ev, ok := msg.(protocol.StateEvent)
		return ok && ev.State == string(StateListening)
	})

	inbound <- protocol.ClientAudioChunk{
		Type:        protocol.TypeClientAudioChunk,
		SessionID:   sess.ID,
		Seq:         0,
		PCM16Base64: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}),
		SampleRate:  16000,
	}
	inbound <- protocol.ClientEmotion{
		Type:      protocol.TypeClientEmotion,
		SessionID: sess.ID,
		Label:     "neutral",
	}
	inbound <- control(protocol.ActionStopListening, false)

	tr := waitOutbound(t, outbound, func(msg any) bool {
		_, ok := msg.(protocol.TranscriptEvent)
		return ok
	}).(protocol.TranscriptEvent)
	if tr.Text != "I have a headache" || tr.FacialLabel != "neutral" {
		t.Fatalf("transcript event = %+v", tr)
	}

	waitOutbound(t, outbound, func(msg any) bool {
		_, ok := msg.(protocol.ReplyEvent)
		return ok
	})

	audioMsg := waitOutbound(t, outbound, func(msg any) bool {
		_, ok := msg.(protocol.AssistantAudio)
		return ok
	}).(protocol.AssistantAudio)
	if audioMsg.AudioBase64 == "" || audioMsg.Format != "mp3" {
		t.Fatalf("assistant audio = %+v", audioMsg)
	}

	// The client acknowledges playback; the turn resolves to Idle.
	inbound <- protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sess.ID,
		Action:    protocol.ActionPlaybackDone,
		TurnID:    audioMsg.TurnID,
	}
	waitOutbound(t, outbound, func(msg any) bool {
		ev, ok := msg.(protocol.PlaybackEvent)
		return ok && ev.Phase == "ended"
	})
	waitOutbound(t, outbound, func(msg any) bool {
		ev, ok := msg.(protocol.StateEvent)
		return ok && ev.State == string(StateIdle)
	})

	transcript, err := sessions.Transcript(sess.ID)
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if len(transcript) != 1 || transcript[0].User != "I have a headache" {
		t.Fatalf("session transcript = %+v", transcript)
	}
	got, err := sessions.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.TurnCount != 1 {
		t.Fatalf("TurnCount = %d, want 1", got.TurnCount)
	}

	inbound <- control(protocol.ActionTeardown, false)
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("RunConnection() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunConnection did not return after teardown")
	}
}

func TestRunConnectionClosedInboundTearsDown(t *testing.T) {
	sessions := session.NewManager(time.Minute)
	sess := sessions.Create("u1", session.Options{Continuous: false})

	runner := NewRunner(&fakeTranscriber{text: "hi"}, &fakeSynthesizer{}, dialogue.NewMockService(), sessions, nil)

	inbound := make(chan any)
	outbound := make(chan any, 64)
	runDone := make(chan error, 1)
	go func() { runDone <- runner.RunConnection(context.Background(), sess, inbound, outbound) }()

	close(inbound)
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("RunConnection() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunConnection did not return after inbound close")
	}
}

func TestRunConnectionAudioFollowsTurnEvents(t *testing.T) {
	sessions := session.NewManager(time.Minute)
	sess := sessions.Create("u1", session.Options{Continuous: false})

	runner := NewRunner(
		&fakeTranscriber{text: "my throat hurts"},
		&fakeSynthesizer{},
		dialogue.NewMockService(),
		sessions,
		nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbound := make(chan any, 16)
	outbound := make(chan any, 64)
	go func() { _ = runner.RunConnection(ctx, sess, inbound, outbound) }()

	control := func(action string, granted bool) protocol.ClientControl {
		return protocol.ClientControl{
			Type:      protocol.TypeClientControl,
			SessionID: sess.ID,
			Action:    action,
			Granted:   granted,
		}
	}
	inbound <- control(protocol.ActionPermission, true)
	inbound <- control(protocol.ActionStartListening, false)
	waitOutbound(t, outbound, func(msg any) bool {
		ev, ok := msg.(protocol.StateEvent)
		return ok && ev.State == string(StateListening)
	})
	inbound <- protocol.ClientAudioChunk{
		Type:        protocol.TypeClientAudioChunk,
		SessionID:   sess.ID,
		PCM16Base64: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}),
		SampleRate:  16000,
	}
	inbound <- control(protocol.ActionStopListening, false)

	// The synthesized audio must arrive after every pipeline message of its
	// own turn, never ahead of them.
	var seenTranscript, seenReply, seenStarted bool
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-outbound:
			switch m := msg.(type) {
			case protocol.TranscriptEvent:
				seenTranscript = true
			case protocol.ReplyEvent:
				seenReply = true
			case protocol.PlaybackEvent:
				if m.Phase == "started" {
					seenStarted = true
				}
			case protocol.AssistantAudio:
				if !seenTranscript || !seenReply || !seenStarted {
					t.Fatalf("assistant audio arrived early: transcript=%v reply=%v started=%v",
						seenTranscript, seenReply, seenStarted)
				}
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for assistant audio")
		}
	}
}

func TestRemotePlayerIgnoresLateResolve(t *testing.T) {
	p := newRemotePlayer()

	done, err := p.Play(context.Background(), "turn-1", Audio{Data: []byte("x"), Format: "mp3"})
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	p.Stop()
	p.resolve("turn-1", nil) // late control for an abandoned turn

	select {
	case res := <-done:
		t.Fatalf("abandoned playback resolved with %v", res)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRemotePlayerIgnoresStaleTurnAck(t *testing.T) {
	p := newRemotePlayer()

	done, err := p.Play(context.Background(), "turn-2", Audio{Data: []byte("x"), Format: "mp3"})
	if err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	// A duplicated ack from the previous turn must not resolve this one.
	p.resolve("turn-1", nil)
	select {
	case res := <-done:
		t.Fatalf("stale ack resolved playback with %v", res)
	case <-time.After(50 * time.Millisecond):
	}

	p.resolve("turn-2", nil)
	select {
	case res := <-done:
		if res != nil {
			t.Fatalf("playback resolved with %v, want nil", res)
		}
	case <-time.After(time.Second):
		t.Fatalf("matching ack did not resolve playback")
	}
}
