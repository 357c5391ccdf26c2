package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"client_audio_chunk","session_id":"s1","seq":1,"pcm16_base64":"AQID","sample_rate":16000,"ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	audio, ok := msg.(ClientAudioChunk)
	if !ok {
		t.Fatalf("message type = %T, want ClientAudioChunk", msg)
	}
	if audio.SessionID != "s1" || audio.SampleRate != 16000 {
		t.Fatalf("unexpected audio chunk: %+v", audio)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"stop_listening"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.SessionID != "s1" || control.Action != ActionStopListening {
		t.Fatalf("unexpected client control: %+v", control)
	}
}

func TestParseClientMessageControlRejectsUnknownAction(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_control","session_id":"s1","action":"reboot"}`))
	if err == nil {
		t.Fatalf("expected validation error for unknown action")
	}
}

func TestParseClientMessageEmotion(t *testing.T) {
	raw := []byte(`{"type":"client_emotion","session_id":"s1","label":"distressed","confidence":0.81,"ts_ms":99}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	emotion, ok := msg.(ClientEmotion)
	if !ok {
		t.Fatalf("message type = %T, want ClientEmotion", msg)
	}
	if emotion.Label != "distressed" {
		t.Fatalf("Label = %q, want %q", emotion.Label, "distressed")
	}
	if emotion.Confidence != 0.81 {
		t.Fatalf("Confidence = %v, want 0.81", emotion.Confidence)
	}
}

func TestParseClientMessageEmotionRequiresLabel(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_emotion","session_id":"s1","label":""}`))
	if err == nil {
		t.Fatalf("expected validation error for empty label")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsInvalidAudioChunk(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_audio_chunk","session_id":"","pcm16_base64":"","sample_rate":0}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func BenchmarkParseClientMessageAudioChunk(b *testing.B) {
	raw := []byte(`{"type":"client_audio_chunk","session_id":"s1","seq":7,"pcm16_base64":"AQIDBAUGBwgJCgsMDQ4P","sample_rate":16000,"ts_ms":123456}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ClientAudioChunk); !ok {
			b.Fatalf("message type = %T, want ClientAudioChunk", msg)
		}
	}
}
