package emotion

import (
	"sync/atomic"
	"time"
)

type facialObservation struct {
	label      string
	confidence float64
	observedAt time.Time
}

// FacialFeed holds the most recent facial-emotion label from the external
// video stream. Reads are last-value-wins and never block; staleness relative
// to the current turn is accepted.
type FacialFeed struct {
	latest atomic.Pointer[facialObservation]
}

func NewFacialFeed() *FacialFeed {
	return &FacialFeed{}
}

// Publish replaces the current observation. Called at the video pipeline's
// own cadence, independent of the turn loop.
func (f *FacialFeed) Publish(label string, confidence float64) {
	f.latest.Store(&facialObservation{
		label:      label,
		confidence: confidence,
		observedAt: time.Now().UTC(),
	})
}

// Latest returns the current label, or FacialLabelUnknown when nothing has
// been published yet.
func (f *FacialFeed) Latest() string {
	obs := f.latest.Load()
	if obs == nil {
		return FacialLabelUnknown
	}
	return obs.label
}

// LatestObservation exposes label metadata for diagnostics endpoints.
func (f *FacialFeed) LatestObservation() (label string, confidence float64, observedAt time.Time, ok bool) {
	obs := f.latest.Load()
	if obs == nil {
		return FacialLabelUnknown, 0, time.Time{}, false
	}
	return obs.label, obs.confidence, obs.observedAt, true
}
