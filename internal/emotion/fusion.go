package emotion

import "strings"

// FacialLabelUnknown is used when the video pipeline has not reported yet.
const FacialLabelUnknown = "unknown"

// Valence buckets facial labels and sentiments onto one comparable axis.
type Valence string

const (
	ValencePositive Valence = "positive"
	ValenceNeutral  Valence = "neutral"
	ValenceNegative Valence = "negative"
	ValenceUnknown  Valence = "unknown"
)

// Context is the fused emotional state for exactly one turn. It is built
// once the transcript is available and consumed by the next dialogue call,
// then discarded with the turn.
type Context struct {
	FacialLabel string
	Sentiment   Sentiment
	Mismatch    bool
}

// Fuse combines transcript sentiment with the most recently observed facial
// label. The label may be stale or absent; absence is valid and maps to an
// unknown valence, which never produces a mismatch.
func Fuse(transcript, facialLabel string) Context {
	label := strings.ToLower(strings.TrimSpace(facialLabel))
	if label == "" {
		label = FacialLabelUnknown
	}
	sentiment := ClassifySentiment(transcript)
	return Context{
		FacialLabel: label,
		Sentiment:   sentiment,
		Mismatch:    isMismatch(sentiment, label),
	}
}

// isMismatch flags only opposite valences. Neutral or unknown on either side
// is within tolerance; the flag is advisory metadata for the dialogue
// service, not a control-flow branch.
func isMismatch(sentiment Sentiment, facialLabel string) bool {
	sv := sentimentValence(sentiment)
	fv := FacialValence(facialLabel)
	if sv == ValenceUnknown || fv == ValenceUnknown {
		return false
	}
	if sv == ValenceNeutral || fv == ValenceNeutral {
		return false
	}
	return sv != fv
}

func sentimentValence(s Sentiment) Valence {
	switch s {
	case SentimentPositive:
		return ValencePositive
	case SentimentNegative, SentimentAnxious:
		return ValenceNegative
	case SentimentNeutral:
		return ValenceNeutral
	default:
		return ValenceUnknown
	}
}

// FacialValence maps a detector label onto the valence axis. Labels outside
// the known set are treated as unknown rather than rejected; the detector
// vocabulary is not under this service's control.
func FacialValence(label string) Valence {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "happy", "content", "pleased", "joy":
		return ValencePositive
	case "neutral", "calm":
		return ValenceNeutral
	case "sad", "angry", "fearful", "afraid", "disgusted", "distressed", "anxious", "upset":
		return ValenceNegative
	default:
		return ValenceUnknown
	}
}
