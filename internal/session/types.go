package session

import "time"

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	UserID           string `json:"user_id"`
	Continuous       *bool  `json:"continuous,omitempty"`
	SilenceTimeoutMS int64  `json:"silence_timeout_ms,omitempty"`
	PostSpeechMS     int64  `json:"post_speech_delay_ms,omitempty"`
	Muted            *bool  `json:"muted,omitempty"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	Status           Status    `json:"status"`
	Continuous       bool      `json:"continuous"`
	SilenceTimeoutMS int64     `json:"silence_timeout_ms"`
	PostSpeechMS     int64     `json:"post_speech_delay_ms"`
	Muted            bool      `json:"muted"`
	StartedAt        time.Time `json:"started_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
	InactivityTTLMS  int64     `json:"inactivity_ttl_ms"`
}

// Exchange is one completed question/answer pair kept for the active
// session only; nothing survives session end.
type Exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}
