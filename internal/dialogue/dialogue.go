package dialogue

import (
	"context"
	"strings"

	"github.com/giuliaferri/doctalk/internal/emotion"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one exchange in the active session's conversation history.
// History lives only for the session; nothing is persisted.
type Message struct {
	Role    Role
	Content string
}

// Reply is the assistant's answer for one turn.
type Reply struct {
	Text           string
	FollowupNeeded bool
}

// FallbackText is surfaced to the user when the dialogue provider fails.
const FallbackText = "I'm having trouble processing that right now. Could you rephrase your concern?"

// Service produces adaptive replies from an utterance plus emotion context,
// and end-of-session summaries.
type Service interface {
	Respond(ctx context.Context, history []Message, utterance string, emo emotion.Context) (Reply, error)
	Summarize(ctx context.Context, history []Message) (string, error)
}

// followupNeeded mirrors the consultation heuristic: a question in the reply
// or a conversation still in its opening exchanges keeps the consult going.
func followupNeeded(replyText string, historyLen int) bool {
	return strings.Contains(replyText, "?") || historyLen < 6
}
