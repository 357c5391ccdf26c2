package voice

import (
	"fmt"

	"github.com/giuliaferri/doctalk/internal/dialogue"
)

// FailureKind classifies where in the turn pipeline a failure occurred.
type FailureKind string

const (
	FailurePermissionDenied FailureKind = "permission_denied"
	FailureCapture          FailureKind = "capture_failure"
	FailureTranscription    FailureKind = "transcription_failure"
	FailureDialogue         FailureKind = "dialogue_failure"
	FailureSynthesis        FailureKind = "synthesis_failure"
	FailurePlayback         FailureKind = "playback_failure"
)

// StageError wraps a provider or device failure together with the pipeline
// stage it interrupted. It never propagates past the orchestrator boundary;
// it is surfaced to the client as an error event.
type StageError struct {
	Kind  FailureKind
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s at %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func newStageError(kind FailureKind, stage State, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// UserMessage is the user-visible description for a stage failure.
func (e *StageError) UserMessage() string {
	switch e.Kind {
	case FailurePermissionDenied:
		return "Microphone access was denied. Please allow microphone access to continue."
	case FailureCapture:
		return "There was a problem with the microphone. Please try again."
	case FailureTranscription:
		return "I couldn't catch that. Could you say it again?"
	case FailureDialogue:
		return dialogue.FallbackText
	case FailureSynthesis:
		return "I couldn't produce the spoken reply. Please try again."
	case FailurePlayback:
		return "Audio playback failed. Please check your speaker settings."
	default:
		return "Something went wrong. Please try again."
	}
}
