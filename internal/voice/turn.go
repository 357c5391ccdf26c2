package voice

import (
	"github.com/giuliaferri/doctalk/internal/emotion"
	"github.com/google/uuid"
)

// Turn is one listen-respond cycle. It is created when listening starts,
// filled in as the pipeline advances, and superseded, never mutated, once
// its reply has been spoken.
type Turn struct {
	ID          string
	Seq         int
	Clip        Clip
	Transcript  string
	FacialLabel string
	Sentiment   emotion.Sentiment
	Mismatch    bool
	ReplyText   string
	ReplyAudio  Audio
}

func newTurn(seq int) *Turn {
	return &Turn{ID: uuid.NewString(), Seq: seq}
}
