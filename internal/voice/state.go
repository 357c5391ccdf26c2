package voice

// State is the single process-wide orchestrator state. Exactly one Turn is
// current while the state is not Idle; all mutation goes through the
// orchestrator's transition methods.
type State string

const (
	StateIdle          State = "idle"
	StateListening     State = "listening"
	StateTranscribing  State = "transcribing"
	StateFusing        State = "fusing"
	StateAwaitingReply State = "awaiting_reply"
	StateSynthesizing  State = "synthesizing"
	StateSpeaking      State = "speaking"
	StateError         State = "error"
)

func (s State) String() string { return string(s) }

// canStartListening reports whether an explicit or automatic start request
// is allowed to transition into Listening from s.
func canStartListening(s State) bool {
	return s == StateIdle || s == StateError
}
