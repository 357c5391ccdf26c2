package dialogue

import (
	"fmt"
	"strings"

	"github.com/giuliaferri/doctalk/internal/emotion"
)

// systemPrompt is the consultation persona used for every session.
const systemPrompt = `You are an empathetic AI doctor conducting a video consultation.
Your role is to:
- Listen actively to patient concerns
- Ask relevant follow-up questions
- Provide preliminary health guidance
- Show empathy and understanding
- Recognize when professional medical attention is needed

Keep responses conversational and concise (2-3 sentences max).`

// historyWindow bounds how much prior conversation is sent with each turn.
const historyWindow = 6

// buildUserPrompt composes the per-turn user content: detected emotion,
// an advisory note when words and face disagree, then the utterance itself.
func buildUserPrompt(utterance string, emo emotion.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current patient emotion detected: %s\n", emo.FacialLabel)
	if emo.Mismatch {
		fmt.Fprintf(&b,
			"Note: There's a mismatch between what the patient is saying and their facial expression. "+
				"They appear %s but their words suggest %s feelings. "+
				"Consider probing gently to understand their true feelings.\n",
			emo.FacialLabel, emo.Sentiment)
	}
	fmt.Fprintf(&b, "\nPatient: %s", utterance)
	return b.String()
}

// recentHistory returns the trailing window of the conversation.
func recentHistory(history []Message) []Message {
	if len(history) <= historyWindow {
		return history
	}
	return history[len(history)-historyWindow:]
}

// buildSummaryPrompt formats the whole conversation for summarization.
func buildSummaryPrompt(history []Message) string {
	var b strings.Builder
	b.WriteString("Summarize this consultation. List the key health concerns the patient raised ")
	b.WriteString("and the recommendations given. Keep it under 150 words.\n\n")
	for _, msg := range history {
		role := "Patient"
		if msg.Role == RoleAssistant {
			role = "Doctor"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, msg.Content)
	}
	return b.String()
}
