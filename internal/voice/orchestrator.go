package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/giuliaferri/doctalk/internal/dialogue"
	"github.com/giuliaferri/doctalk/internal/emotion"
	"github.com/giuliaferri/doctalk/internal/observability"
)

// Config fixes the turn-loop behavior for the lifetime of a session. Only
// mute may change mid-session, and it never alters an in-flight turn.
// Non-positive durations fall back to the package defaults.
type Config struct {
	Continuous      bool
	SilenceTimeout  time.Duration
	PostSpeechDelay time.Duration
	Muted           bool
}

const (
	defaultSilenceTimeout  = 3 * time.Second
	defaultPostSpeechDelay = 500 * time.Millisecond
	eventBuffer            = 128
)

// EventKind identifies orchestrator event variants.
type EventKind string

const (
	EventState             EventKind = "state"
	EventTranscript        EventKind = "transcript"
	EventReply             EventKind = "reply"
	EventPlayback          EventKind = "playback"
	EventFailure           EventKind = "failure"
	EventPermissionRequest EventKind = "permission_request"
)

// Event is one orchestrator notification. State events track the machine;
// playback events are fire-and-forget broadcasts at the Speaking boundary.
type Event struct {
	Kind    EventKind
	State   State
	TurnID  string
	TurnSeq int

	Transcript  string
	Sentiment   emotion.Sentiment
	FacialLabel string
	Mismatch    bool

	ReplyText      string
	FollowupNeeded bool

	Phase string // playback events: "started" or "ended"
	Audio *Audio // playback "started" only; nil when output is muted

	Failure *StageError
	Message string // user-visible failure description
}

type permissionState int

const (
	permissionUnknown permissionState = iota
	permissionGranted
	permissionDenied
)

// Deps are the orchestrator's collaborators. Recorder and Player are owned
// exclusively by the orchestrator; provider clients are stateless services.
type Deps struct {
	Recorder    Recorder
	Player      Player
	Transcriber Transcriber
	Synthesizer Synthesizer
	Dialogue    dialogue.Service
	Facial      *emotion.FacialFeed
	Metrics     *observability.Metrics

	// OnExchange is invoked after each successful turn with the user
	// utterance and the assistant reply. Optional.
	OnExchange func(user, assistant string)
}

// Orchestrator drives the Listen -> Transcribe -> Fuse -> Respond -> Speak
// loop for one session. Turns are strictly sequential: a new Listening phase
// never starts while a prior turn's asynchronous chain is unresolved.
type Orchestrator struct {
	cfg  Deps
	conf Config

	runCtx context.Context
	cancel context.CancelFunc

	events chan Event

	mu           sync.Mutex
	state        State
	turn         *Turn
	turnSeq      int
	epoch        uint64
	armed        bool // continuation flag
	muted        bool
	torn         bool
	permission   permissionState
	pendingStart bool
	speakingDone bool
	silenceTimer *time.Timer
	resumeTimer  *time.Timer
	history      []dialogue.Message
	stageStart   time.Time
	turnStart    time.Time
	commitAt     time.Time
}

func NewOrchestrator(conf Config, deps Deps) *Orchestrator {
	if conf.SilenceTimeout <= 0 {
		conf.SilenceTimeout = defaultSilenceTimeout
	}
	if conf.PostSpeechDelay <= 0 {
		conf.PostSpeechDelay = defaultPostSpeechDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:    deps,
		conf:   conf,
		runCtx: ctx,
		cancel: cancel,
		events: make(chan Event, eventBuffer),
		state:  StateIdle,
		muted:  conf.Muted,
		armed:  conf.Continuous,
	}
}

// Events exposes the orchestrator's notification stream. The channel is
// never closed; consumers stop reading after Teardown.
func (o *Orchestrator) Events() <-chan Event { return o.events }

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// History returns a copy of the session conversation so far.
func (o *Orchestrator) History() []dialogue.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]dialogue.Message(nil), o.history...)
}

// SetMuted gates audible output only; the state machine keeps running.
func (o *Orchestrator) SetMuted(muted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.muted = muted
}

// SetPermission records the microphone permission outcome. Granting resolves
// a suspended start request; in continuous mode it also arms the first
// Listening phase. Denial is surfaced and never auto-retried.
func (o *Orchestrator) SetPermission(granted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.torn {
		return
	}
	if !granted {
		o.permission = permissionDenied
		o.pendingStart = false
		stageErr := newStageError(FailurePermissionDenied, o.state, errors.New("microphone permission denied"))
		o.emit(Event{
			Kind:    EventFailure,
			Failure: stageErr,
			Message: stageErr.UserMessage(),
		})
		return
	}
	o.permission = permissionGranted
	autoStart := o.pendingStart || (o.conf.Continuous && o.armed)
	o.pendingStart = false
	if autoStart && canStartListening(o.state) {
		o.beginListeningLocked()
	}
}

// StartListening begins a new turn. No-op unless the machine is in Idle or
// Error. Without microphone permission it emits a permission request and
// returns without transitioning.
func (o *Orchestrator) StartListening() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.torn || !canStartListening(o.state) {
		return
	}
	if o.permission != permissionGranted {
		o.pendingStart = true
		o.emit(Event{Kind: EventPermissionRequest, State: o.state})
		return
	}
	o.beginListeningLocked()
}

// StopListening ends the capture phase explicitly. Valid only from Listening.
func (o *Orchestrator) StopListening() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.torn || o.state != StateListening {
		return
	}
	o.stopTimerLocked(&o.silenceTimer)
	o.finishListeningLocked()
}

// Teardown clears the continuation flag, cancels pending timers, aborts any
// in-flight capture or playback best-effort, and discards the results of
// unresolved provider calls. Idempotent.
func (o *Orchestrator) Teardown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.torn {
		return
	}
	o.torn = true
	o.armed = false
	o.pendingStart = false
	o.stopTimerLocked(&o.silenceTimer)
	o.stopTimerLocked(&o.resumeTimer)
	o.epoch++ // orphan every outstanding async resolution
	o.cancel()
	o.cfg.Recorder.Abort()
	o.cfg.Player.Stop()
	o.turn = nil
	o.setStateLocked(StateIdle)
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.ObserveTurnIndicator("teardown")
	}
}

// --- transition internals; all locked ---

func (o *Orchestrator) beginListeningLocked() {
	o.epoch++
	ep := o.epoch
	o.turnSeq++
	o.turn = newTurn(o.turnSeq)
	o.turnStart = time.Now()
	o.speakingDone = false
	if err := o.cfg.Recorder.Start(o.runCtx); err != nil {
		o.failLocked(FailureCapture, err)
		return
	}
	o.setStateLocked(StateListening)
	if o.conf.Continuous {
		o.silenceTimer = time.AfterFunc(o.conf.SilenceTimeout, func() { o.silenceElapsed(ep) })
	}
}

// silenceElapsed is the implicit stop path: in continuous mode a fixed timer
// ends Listening if no explicit stop arrived first. Fires at most once per
// Listening phase; a stale epoch means the turn it was armed for is gone.
func (o *Orchestrator) silenceElapsed(ep uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ep != o.epoch || o.state != StateListening {
		return
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.ObserveTurnIndicator("silence_timer_fired")
	}
	o.finishListeningLocked()
}

func (o *Orchestrator) finishListeningLocked() {
	clip, err := o.cfg.Recorder.Stop(o.runCtx)
	if err != nil {
		o.failLocked(FailureCapture, err)
		return
	}
	o.turn.Clip = clip
	o.setStateLocked(StateTranscribing)
	ep := o.epoch
	go func() {
		text, err := o.cfg.Transcriber.Transcribe(o.runCtx, clip)
		o.transcriptionDone(ep, text, err)
	}()
}

func (o *Orchestrator) transcriptionDone(ep uint64, text string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ep != o.epoch || o.state != StateTranscribing {
		return
	}
	o.observeStageLocked("transcribing")
	if err != nil {
		o.failLocked(FailureTranscription, err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		o.failLocked(FailureTranscription, errors.New("empty transcript"))
		return
	}

	o.turn.Transcript = text
	o.setStateLocked(StateFusing)

	// Fusion cannot fail: a missing facial label is valid and maps to
	// "unknown". The label read is last-value-wins and may be stale.
	label := emotion.FacialLabelUnknown
	if o.cfg.Facial != nil {
		label = o.cfg.Facial.Latest()
	}
	fused := emotion.Fuse(text, label)
	o.turn.FacialLabel = fused.FacialLabel
	o.turn.Sentiment = fused.Sentiment
	o.turn.Mismatch = fused.Mismatch
	if fused.Mismatch && o.cfg.Metrics != nil {
		o.cfg.Metrics.EmotionMismatch.Inc()
	}
	o.observeStageLocked("fusing")
	o.emit(Event{
		Kind:        EventTranscript,
		TurnID:      o.turn.ID,
		TurnSeq:     o.turn.Seq,
		Transcript:  text,
		Sentiment:   fused.Sentiment,
		FacialLabel: fused.FacialLabel,
		Mismatch:    fused.Mismatch,
	})

	o.setStateLocked(StateAwaitingReply)
	o.commitAt = time.Now()
	history := append([]dialogue.Message(nil), o.history...)
	go func() {
		reply, err := o.cfg.Dialogue.Respond(o.runCtx, history, text, fused)
		o.replyDone(ep, reply, err)
	}()
}

func (o *Orchestrator) replyDone(ep uint64, reply dialogue.Reply, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ep != o.epoch || o.state != StateAwaitingReply {
		return
	}
	o.observeStageLocked("awaiting_reply")
	if err != nil {
		o.failLocked(FailureDialogue, err)
		return
	}

	o.turn.ReplyText = reply.Text
	o.history = append(o.history,
		dialogue.Message{Role: dialogue.RoleUser, Content: o.turn.Transcript},
		dialogue.Message{Role: dialogue.RoleAssistant, Content: reply.Text},
	)
	if o.cfg.OnExchange != nil {
		o.cfg.OnExchange(o.turn.Transcript, reply.Text)
	}
	o.emit(Event{
		Kind:           EventReply,
		TurnID:         o.turn.ID,
		TurnSeq:        o.turn.Seq,
		ReplyText:      reply.Text,
		FollowupNeeded: reply.FollowupNeeded,
	})

	o.setStateLocked(StateSynthesizing)
	text := reply.Text
	go func() {
		audio, err := o.cfg.Synthesizer.Synthesize(o.runCtx, text)
		o.synthesisDone(ep, audio, err)
	}()
}

func (o *Orchestrator) synthesisDone(ep uint64, audio Audio, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ep != o.epoch || o.state != StateSynthesizing {
		return
	}
	o.observeStageLocked("synthesizing")
	if err != nil {
		o.failLocked(FailureSynthesis, err)
		return
	}

	o.turn.ReplyAudio = audio
	if o.cfg.Metrics != nil && !o.commitAt.IsZero() {
		o.cfg.Metrics.ObserveReplyLatency(time.Since(o.commitAt))
	}
	o.setStateLocked(StateSpeaking)

	if o.muted {
		// Mute gates audible output only; the turn resolves immediately.
		o.emit(Event{Kind: EventPlayback, TurnID: o.turn.ID, TurnSeq: o.turn.Seq, Phase: "started"})
		o.completeSpeakingLocked()
		return
	}

	// Register the playback before announcing it: once the "started" event
	// and its audio reach the client, an ack may arrive at any moment.
	done, err := o.cfg.Player.Play(o.runCtx, o.turn.ID, audio)
	if err != nil {
		o.failLocked(FailurePlayback, err)
		return
	}
	o.emit(Event{Kind: EventPlayback, TurnID: o.turn.ID, TurnSeq: o.turn.Seq, Phase: "started", Audio: &audio})
	go o.awaitPlayback(ep, done)
}

func (o *Orchestrator) awaitPlayback(ep uint64, done <-chan error) {
	select {
	case <-o.runCtx.Done():
		// Teardown already discarded this turn.
	case res := <-done:
		o.playbackDone(ep, res)
	}
}

func (o *Orchestrator) playbackDone(ep uint64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ep != o.epoch || o.state != StateSpeaking {
		return
	}
	if err != nil {
		o.failLocked(FailurePlayback, err)
		return
	}
	o.completeSpeakingLocked()
}

func (o *Orchestrator) completeSpeakingLocked() {
	o.observeStageLocked("speaking")
	o.emit(Event{Kind: EventPlayback, TurnID: o.turn.ID, TurnSeq: o.turn.Seq, Phase: "ended"})
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.Turns.WithLabelValues("completed").Inc()
		o.cfg.Metrics.ObserveTurnStage("turn_total", time.Since(o.turnStart))
	}
	if o.conf.Continuous && o.armed {
		// Stay in Speaking through the post-speech delay so the next
		// Listening phase never overlaps tail audio; the delayed resume
		// performs the Speaking -> Listening edge.
		o.speakingDone = true
		o.scheduleResumeLocked()
		return
	}
	o.turn = nil
	o.setStateLocked(StateIdle)
}

// failLocked is the single Error entry point: every stage failure lands
// here, is surfaced as a user-visible event, and never propagates further.
func (o *Orchestrator) failLocked(kind FailureKind, err error) {
	stageErr := newStageError(kind, o.state, err)
	o.stopTimerLocked(&o.silenceTimer)
	o.cfg.Recorder.Abort()
	o.setStateLocked(StateError)
	o.emit(Event{
		Kind:    EventFailure,
		State:   StateError,
		TurnID:  o.turnIDLocked(),
		Failure: stageErr,
		Message: stageErr.UserMessage(),
	})
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.Turns.WithLabelValues(string(kind)).Inc()
	}

	if o.conf.Continuous && o.armed {
		// Loop-level retry: the failed call is not re-issued, the loop
		// re-arms Listening. No attempt cap; teardown is the exit.
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.ObserveTurnIndicator("loop_retry")
		}
		o.scheduleResumeLocked()
		return
	}
	o.turn = nil
	o.setStateLocked(StateIdle)
}

// scheduleResumeLocked arms the delayed automatic re-entry into Listening.
// The continuation flag is re-checked when the timer fires, so a teardown
// during the delay wins.
func (o *Orchestrator) scheduleResumeLocked() {
	if !o.conf.Continuous || !o.armed {
		return
	}
	ep := o.epoch
	o.stopTimerLocked(&o.resumeTimer)
	o.resumeTimer = time.AfterFunc(o.conf.PostSpeechDelay, func() { o.resume(ep) })
}

func (o *Orchestrator) resume(ep uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ep != o.epoch || o.torn || !o.armed {
		return
	}
	if !canStartListening(o.state) && !(o.state == StateSpeaking && o.speakingDone) {
		return
	}
	if o.permission != permissionGranted {
		return
	}
	o.beginListeningLocked()
}

func (o *Orchestrator) setStateLocked(s State) {
	if o.state == s {
		return
	}
	o.state = s
	o.stageStart = time.Now()
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.StateTransitions.WithLabelValues(string(s)).Inc()
	}
	o.emit(Event{Kind: EventState, State: s, TurnID: o.turnIDLocked(), TurnSeq: o.turnSeqLocked()})
}

func (o *Orchestrator) observeStageLocked(stage string) {
	if o.cfg.Metrics == nil || o.stageStart.IsZero() {
		return
	}
	o.cfg.Metrics.ObserveTurnStage(stage, time.Since(o.stageStart))
}

func (o *Orchestrator) stopTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (o *Orchestrator) turnIDLocked() string {
	if o.turn == nil {
		return ""
	}
	return o.turn.ID
}

func (o *Orchestrator) turnSeqLocked() int {
	if o.turn == nil {
		return 0
	}
	return o.turn.Seq
}

// emit never blocks; a slow consumer loses events rather than stalling the
// turn loop.
func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.ObserveTurnIndicator("event_dropped")
		}
	}
}
