package emotion

import "strings"

// Sentiment is the coarse classification derived from a turn transcript.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentAnxious  Sentiment = "anxious"
)

var positiveCues = map[string]struct{}{
	"good": {}, "great": {}, "fine": {}, "better": {}, "well": {}, "okay": {},
	"ok": {}, "happy": {}, "glad": {}, "relieved": {}, "improving": {},
	"improved": {}, "wonderful": {}, "excellent": {}, "thanks": {}, "thank": {},
	"perfect": {}, "healthy": {}, "stronger": {}, "recovered": {},
}

// Negative cues capture emotional language only. Symptom vocabulary
// ("headache", "fever") stays neutral: describing a complaint calmly is not
// negative affect, and the dialogue service receives the transcript anyway.
var negativeCues = map[string]struct{}{
	"bad": {}, "worse": {}, "terrible": {}, "awful": {}, "horrible": {},
	"sad": {}, "depressed": {}, "miserable": {}, "hopeless": {},
	"frustrated": {}, "upset": {}, "angry": {}, "suffering": {},
	"unbearable": {}, "exhausted": {}, "crying": {},
}

var anxiousCues = map[string]struct{}{
	"worried": {}, "worry": {}, "anxious": {}, "anxiety": {}, "scared": {},
	"afraid": {}, "nervous": {}, "panic": {}, "panicking": {}, "stressed": {},
	"stress": {}, "frightened": {}, "overwhelmed": {}, "terrified": {},
	"fear": {}, "uneasy": {},
}

// Negations that flip an immediately following positive cue ("not fine").
var negationCues = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "isn't": {}, "wasn't": {}, "don't": {},
	"doesn't": {}, "can't": {}, "couldn't": {}, "won't": {}, "aren't": {},
}

// ClassifySentiment derives a coarse sentiment from transcript text using a
// small lexicon. Anxious cues dominate, then the positive/negative balance;
// anything else is neutral. Empty text is neutral.
func ClassifySentiment(text string) Sentiment {
	words := tokenize(text)
	if len(words) == 0 {
		return SentimentNeutral
	}

	var positive, negative, anxious int
	negated := false
	for _, w := range words {
		if _, ok := negationCues[w]; ok {
			negated = true
			continue
		}
		switch {
		case hasCue(anxiousCues, w):
			anxious++
		case hasCue(positiveCues, w):
			if negated {
				negative++
			} else {
				positive++
			}
		case hasCue(negativeCues, w):
			negative++
		}
		negated = false
	}

	if anxious > 0 && anxious >= positive {
		return SentimentAnxious
	}
	if positive > negative {
		return SentimentPositive
	}
	if negative > positive {
		return SentimentNegative
	}
	return SentimentNeutral
}

func hasCue(set map[string]struct{}, word string) bool {
	_, ok := set[word]
	return ok
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
