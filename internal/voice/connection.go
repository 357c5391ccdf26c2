package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/giuliaferri/doctalk/internal/dialogue"
	"github.com/giuliaferri/doctalk/internal/emotion"
	"github.com/giuliaferri/doctalk/internal/observability"
	"github.com/giuliaferri/doctalk/internal/protocol"
	"github.com/giuliaferri/doctalk/internal/session"
)

// Runner owns the shared provider clients and spawns one orchestrator per
// websocket connection. Session options are fixed at session creation; the
// runner only reads them.
type Runner struct {
	transcriber Transcriber
	synthesizer Synthesizer
	dialogue    dialogue.Service
	sessions    *session.Manager
	metrics     *observability.Metrics
}

func NewRunner(transcriber Transcriber, synthesizer Synthesizer, dlg dialogue.Service, sessions *session.Manager, metrics *observability.Metrics) *Runner {
	return &Runner{
		transcriber: transcriber,
		synthesizer: synthesizer,
		dialogue:    dlg,
		sessions:    sessions,
		metrics:     metrics,
	}
}

// RunConnection drives the turn loop for one websocket connection. It owns
// the per-connection recorder, facial feed, and remote player, translating
// between wire messages and orchestrator calls. Returns when the inbound
// channel closes or ctx is cancelled; the orchestrator is always torn down
// on the way out.
func (r *Runner) RunConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) error {
	ctx, cancel := context.WithCancel(ctx)
	recorder := NewClipRecorder()
	player := newRemotePlayer()
	facial := emotion.NewFacialFeed()

	orch := NewOrchestrator(Config{
		Continuous:      sess.Options.Continuous,
		SilenceTimeout:  sess.Options.SilenceTimeout,
		PostSpeechDelay: sess.Options.PostSpeechDelay,
		Muted:           sess.Muted,
	}, Deps{
		Recorder:    recorder,
		Player:      player,
		Transcriber: r.transcriber,
		Synthesizer: r.synthesizer,
		Dialogue:    r.dialogue,
		Facial:      facial,
		Metrics:     r.metrics,
		OnExchange: func(user, assistant string) {
			_ = r.sessions.AppendExchange(sess.ID, user, assistant)
		},
	})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		r.pumpEvents(ctx, sess.ID, orch, outbound)
	}()
	defer func() {
		orch.Teardown()
		cancel()
		<-pumpDone
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if done := r.handleInbound(sess.ID, orch, recorder, player, facial, msg, outbound); done {
				return nil
			}
		}
	}
}

func (r *Runner) handleInbound(sessionID string, orch *Orchestrator, recorder *ClipRecorder, player *remotePlayer, facial *emotion.FacialFeed, msg any, outbound chan<- any) bool {
	switch m := msg.(type) {
	case protocol.ClientAudioChunk:
		pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
		if err != nil {
			r.send(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_audio_chunk",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			return false
		}
		recorder.Append(pcm, m.SampleRate)
		_ = r.sessions.Touch(sessionID)

	case protocol.ClientControl:
		_ = r.sessions.Touch(sessionID)
		switch m.Action {
		case protocol.ActionStartListening:
			orch.StartListening()
		case protocol.ActionStopListening:
			orch.StopListening()
		case protocol.ActionTeardown:
			orch.Teardown()
			r.send(outbound, protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: sessionID,
				Code:      "session_teardown",
			})
			return true
		case protocol.ActionSetMute:
			orch.SetMuted(m.Muted)
			_ = r.sessions.SetMuted(sessionID, m.Muted)
		case protocol.ActionPermission:
			orch.SetPermission(m.Granted)
		case protocol.ActionPlaybackDone:
			player.resolve(m.TurnID, nil)
		case protocol.ActionPlaybackFailed:
			detail := m.Detail
			if detail == "" {
				detail = "client reported playback failure"
			}
			player.resolve(m.TurnID, errors.New(detail))
		}

	case protocol.ClientEmotion:
		facial.Publish(m.Label, m.Confidence)
	}
	return false
}

// pumpEvents translates orchestrator events into wire messages. Assistant
// audio rides the same stream, directly after its playback "started" event,
// so the client never sees a turn's audio before that turn's transcript and
// reply. Sends on a saturated outbound queue are dropped rather than
// stalling the turn loop.
func (r *Runner) pumpEvents(ctx context.Context, sessionID string, orch *Orchestrator, outbound chan<- any) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-orch.Events():
			r.send(outbound, r.eventMessage(sessionID, ev))
			if ev.Kind == EventPlayback && ev.Audio != nil {
				r.send(outbound, protocol.AssistantAudio{
					Type:        protocol.TypeAssistantAudio,
					SessionID:   sessionID,
					TurnID:      ev.TurnID,
					Format:      ev.Audio.Format,
					AudioBase64: base64.StdEncoding.EncodeToString(ev.Audio.Data),
				})
			}
			if ev.Kind == EventState && ev.State == StateListening {
				_ = r.sessions.StartTurn(sessionID, ev.TurnID)
			}
		}
	}
}

func (r *Runner) eventMessage(sessionID string, ev Event) any {
	switch ev.Kind {
	case EventState:
		return protocol.StateEvent{
			Type:      protocol.TypeStateEvent,
			SessionID: sessionID,
			TurnID:    ev.TurnID,
			TurnSeq:   ev.TurnSeq,
			State:     string(ev.State),
		}
	case EventTranscript:
		return protocol.TranscriptEvent{
			Type:        protocol.TypeTranscriptEvent,
			SessionID:   sessionID,
			TurnID:      ev.TurnID,
			Text:        ev.Transcript,
			Sentiment:   string(ev.Sentiment),
			FacialLabel: ev.FacialLabel,
			Mismatch:    ev.Mismatch,
		}
	case EventReply:
		return protocol.ReplyEvent{
			Type:           protocol.TypeReplyEvent,
			SessionID:      sessionID,
			TurnID:         ev.TurnID,
			Text:           ev.ReplyText,
			FollowupNeeded: ev.FollowupNeeded,
		}
	case EventPlayback:
		return protocol.PlaybackEvent{
			Type:      protocol.TypePlaybackEvent,
			SessionID: sessionID,
			TurnID:    ev.TurnID,
			Phase:     ev.Phase,
		}
	case EventFailure:
		msg := protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Detail:    ev.Message,
		}
		if ev.Failure != nil {
			msg.Code = string(ev.Failure.Kind)
			msg.Source = string(ev.Failure.Stage)
			msg.Retryable = ev.Failure.Kind != FailurePermissionDenied
		}
		return msg
	case EventPermissionRequest:
		return protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: sessionID,
			Code:      "permission_required",
			Detail:    "microphone permission is required to start listening",
		}
	default:
		return protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: sessionID,
			Code:      "unknown_event",
		}
	}
}

func (r *Runner) send(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		if r.metrics != nil {
			r.metrics.ObserveTurnIndicator("outbound_dropped")
		}
	}
}

// remotePlayer fulfils the Player contract over the websocket. The event
// pump ships the synthesized audio to the client in turn order; Play only
// registers the turn awaiting its acknowledgement, which arrives back as a
// playback_done or playback_failed control carrying the turn id.
type remotePlayer struct {
	mu          sync.Mutex
	pending     chan error
	pendingTurn string
}

func newRemotePlayer() *remotePlayer {
	return &remotePlayer{}
}

func (p *remotePlayer) Play(_ context.Context, turnID string, _ Audio) (<-chan error, error) {
	done := make(chan error, 1)
	p.mu.Lock()
	p.pending = done
	p.pendingTurn = turnID
	p.mu.Unlock()
	return done, nil
}

// resolve delivers the terminal playback result for the pending turn. A
// control whose turn id does not match is a late or duplicated ack from an
// earlier turn and is ignored.
func (p *remotePlayer) resolve(turnID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil || turnID != p.pendingTurn {
		return
	}
	p.pending <- err
	p.pending = nil
	p.pendingTurn = ""
}

func (p *remotePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	p.pendingTurn = ""
}

var (
	_ Player = (*remotePlayer)(nil)
)
