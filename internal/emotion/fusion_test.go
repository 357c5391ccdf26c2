package emotion

import "testing"

func TestClassifySentiment(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Sentiment
	}{
		{"empty", "", SentimentNeutral},
		{"calm symptom report stays neutral", "I have a headache", SentimentNeutral},
		{"neutral statement", "I took the medication this morning", SentimentNeutral},
		{"positive", "I'm feeling great, much better than last week", SentimentPositive},
		{"negated positive", "I am not fine at all", SentimentNegative},
		{"anxious dominates", "I feel okay but I am really worried about the results", SentimentAnxious},
		{"anxious phrasing", "I'm scared this could be something serious", SentimentAnxious},
		{"emotional language is negative", "it feels awful, honestly terrible", SentimentNegative},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySentiment(tc.text); got != tc.want {
				t.Fatalf("ClassifySentiment(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestFuseFlagsOppositeValence(t *testing.T) {
	ctx := Fuse("I'm totally fine", "distressed")
	if ctx.Sentiment != SentimentPositive {
		t.Fatalf("Sentiment = %q, want positive", ctx.Sentiment)
	}
	if !ctx.Mismatch {
		t.Fatalf("Mismatch = false, want true for positive words with distressed face")
	}
}

func TestFuseNeutralNeverMismatches(t *testing.T) {
	cases := []struct {
		transcript string
		facial     string
	}{
		{"I have a headache", "neutral"},
		{"I took my pills", "distressed"},
		{"I'm feeling great", "neutral"},
	}
	for _, tc := range cases {
		ctx := Fuse(tc.transcript, tc.facial)
		if ctx.Mismatch {
			t.Fatalf("Fuse(%q, %q).Mismatch = true, want false", tc.transcript, tc.facial)
		}
	}
}

func TestFuseMissingLabelIsUnknown(t *testing.T) {
	ctx := Fuse("I'm feeling great", "")
	if ctx.FacialLabel != FacialLabelUnknown {
		t.Fatalf("FacialLabel = %q, want %q", ctx.FacialLabel, FacialLabelUnknown)
	}
	if ctx.Mismatch {
		t.Fatalf("Mismatch = true, want false for unknown facial label")
	}
}

func TestFuseMatchingNegativeValence(t *testing.T) {
	ctx := Fuse("the pain is terrible", "sad")
	if ctx.Mismatch {
		t.Fatalf("Mismatch = true, want false when valences agree")
	}
}

func TestFacialValenceUnknownVocabulary(t *testing.T) {
	if got := FacialValence("perplexed"); got != ValenceUnknown {
		t.Fatalf("FacialValence(perplexed) = %q, want unknown", got)
	}
}

func TestFacialFeedLastValueWins(t *testing.T) {
	feed := NewFacialFeed()
	if got := feed.Latest(); got != FacialLabelUnknown {
		t.Fatalf("Latest() before publish = %q, want %q", got, FacialLabelUnknown)
	}

	feed.Publish("neutral", 0.9)
	feed.Publish("distressed", 0.7)
	if got := feed.Latest(); got != "distressed" {
		t.Fatalf("Latest() = %q, want most recent label", got)
	}

	label, conf, at, ok := feed.LatestObservation()
	if !ok || label != "distressed" || conf != 0.7 || at.IsZero() {
		t.Fatalf("LatestObservation() = (%q, %v, %v, %v), want populated distressed", label, conf, at, ok)
	}
}
