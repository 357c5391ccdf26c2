package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypeClientEmotion    MessageType = "client_emotion"
	TypeStateEvent       MessageType = "state_event"
	TypeTranscriptEvent  MessageType = "transcript_event"
	TypeReplyEvent       MessageType = "reply_event"
	TypeAssistantAudio   MessageType = "assistant_audio"
	TypePlaybackEvent    MessageType = "playback_event"
	TypeSystemEvent      MessageType = "system_event"
	TypeErrorEvent       MessageType = "error_event"
)

// Control actions accepted inside a ClientControl message.
const (
	ActionStartListening = "start_listening"
	ActionStopListening  = "stop_listening"
	ActionTeardown       = "teardown"
	ActionSetMute        = "set_mute"
	ActionPermission     = "permission"
	ActionPlaybackDone   = "playback_done"
	ActionPlaybackFailed = "playback_failed"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioChunk carries a slice of the microphone capture for the current
// Listening phase. Chunks are buffered server-side and flushed into one
// finite clip when listening stops; they are never transcribed individually.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

// ClientControl carries a turn-loop command. Playback acks must echo the
// turn_id from the assistant_audio message they answer; acks for a turn
// that is no longer pending are discarded.
type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Granted   bool        `json:"granted,omitempty"`
	Muted     bool        `json:"muted,omitempty"`
	TurnID    string      `json:"turn_id,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// ClientEmotion reports the latest facial-emotion label from the client's
// video pipeline. Delivery cadence is the client's own; the server keeps only
// the most recent value.
type ClientEmotion struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence,omitempty"`
	TSMs       int64       `json:"ts_ms"`
}

type StateEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id,omitempty"`
	TurnSeq   int         `json:"turn_seq,omitempty"`
	State     string      `json:"state"`
}

type TranscriptEvent struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	Text        string      `json:"text"`
	Sentiment   string      `json:"sentiment"`
	FacialLabel string      `json:"facial_label"`
	Mismatch    bool        `json:"mismatch"`
}

type ReplyEvent struct {
	Type           MessageType `json:"type"`
	SessionID      string      `json:"session_id"`
	TurnID         string      `json:"turn_id"`
	Text           string      `json:"text"`
	FollowupNeeded bool        `json:"followup_needed"`
}

type AssistantAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

// PlaybackEvent is a fire-and-forget broadcast at the Speaking boundary,
// consumed by presentation components such as avatar lip-sync.
type PlaybackEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Phase     string      `json:"phase"` // "started" or "ended"
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || !validAction(msg.Action) {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	case TypeClientEmotion:
		var msg ClientEmotion
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Label == "" {
			return nil, errors.New("invalid client_emotion")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func validAction(action string) bool {
	switch action {
	case ActionStartListening, ActionStopListening, ActionTeardown,
		ActionSetMute, ActionPermission, ActionPlaybackDone, ActionPlaybackFailed:
		return true
	default:
		return false
	}
}
