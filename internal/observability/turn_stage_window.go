package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// TurnStageStats summarizes the recent latency of one consultation turn
// stage. All values are milliseconds over the rolling window, not over the
// process lifetime.
type TurnStageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

// TurnIndicator counts one named operational event, such as a fired silence
// timer or a loop-level retry.
type TurnIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type TurnStageSnapshot struct {
	WindowSize  int              `json:"window_size"`
	GeneratedAt time.Time        `json:"generated_at"`
	Stages      []TurnStageStats `json:"stages"`
	Indicators  []TurnIndicator  `json:"indicators,omitempty"`
}

// turnStageWindow keeps a fixed-capacity ring of recent durations per turn
// stage plus running counters for operational indicators. It backs the perf
// latency endpoint; the Prometheus histograms cover the long-horizon view.
type turnStageWindow struct {
	mu         sync.RWMutex
	capacity   int
	stages     map[string]*stageRing
	indicators map[string]int
}

type stageRing struct {
	samples []float64
	head    int
	full    bool
	last    float64
}

func newTurnStageWindow(capacity int) *turnStageWindow {
	if capacity <= 0 {
		capacity = 256
	}
	return &turnStageWindow{
		capacity:   capacity,
		stages:     make(map[string]*stageRing),
		indicators: make(map[string]int),
	}
}

func (w *turnStageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ring, ok := w.stages[stage]
	if !ok {
		ring = &stageRing{samples: make([]float64, w.capacity)}
		w.stages[stage] = ring
	}
	ring.push(ms)
}

func (w *turnStageWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

// Snapshot aggregates the current window. Stages and indicators are sorted
// by name so the serialized output is stable across calls.
func (w *turnStageWindow) Snapshot() TurnStageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := TurnStageSnapshot{
		WindowSize:  w.capacity,
		GeneratedAt: time.Now().UTC(),
		Stages:      make([]TurnStageStats, 0, len(w.stages)),
		Indicators:  make([]TurnIndicator, 0, len(w.indicators)),
	}
	for stage, ring := range w.stages {
		if stats, ok := ring.stats(stage); ok {
			snap.Stages = append(snap.Stages, stats)
		}
	}
	sort.Slice(snap.Stages, func(i, j int) bool {
		return snap.Stages[i].Stage < snap.Stages[j].Stage
	})

	for name, count := range w.indicators {
		if count > 0 {
			snap.Indicators = append(snap.Indicators, TurnIndicator{Name: name, Count: count})
		}
	}
	sort.Slice(snap.Indicators, func(i, j int) bool {
		return snap.Indicators[i].Name < snap.Indicators[j].Name
	})
	return snap
}

func (w *turnStageWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stages = make(map[string]*stageRing)
	w.indicators = make(map[string]int)
}

func (r *stageRing) push(ms float64) {
	r.samples[r.head] = ms
	r.last = ms
	r.head++
	if r.head >= len(r.samples) {
		r.head = 0
		r.full = true
	}
}

func (r *stageRing) stats(stage string) (TurnStageStats, bool) {
	n := r.head
	if r.full {
		n = len(r.samples)
	}
	if n <= 0 {
		return TurnStageStats{}, false
	}
	sorted := make([]float64, n)
	copy(sorted, r.samples[:n])
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return TurnStageStats{
		Stage:       stage,
		Samples:     n,
		LastMS:      round2(r.last),
		AvgMS:       round2(sum / float64(n)),
		P50MS:       round2(percentile(sorted, 0.50)),
		P95MS:       round2(percentile(sorted, 0.95)),
		P99MS:       round2(percentile(sorted, 0.99)),
		TargetP95MS: stageTargetP95MS(stage),
	}, true
}

// percentile interpolates linearly between the two nearest ranks.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// stageTargetP95MS maps a stage to its p95 latency target in milliseconds.
// Zero means no target is published for that stage.
func stageTargetP95MS(stage string) float64 {
	switch stage {
	case "transcribing":
		return 1500
	case "fusing":
		return 10
	case "awaiting_reply":
		return 2500
	case "synthesizing":
		return 1800
	case "turn_total":
		return 8000
	default:
		return 0
	}
}
