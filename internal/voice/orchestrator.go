package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parley-labs/parley/internal/brain"
	"github.com/parley-labs/parley/internal/dialog"
	"github.com/parley-labs/parley/internal/observability"
	"github.com/parley-labs/parley/internal/policy"
	"github.com/parley-labs/parley/internal/protocol"
	"github.com/parley-labs/parley/internal/session"
	"github.com/parley-labs/parley/internal/turnlog"
	"github.com/parley-labs/parley/internal/vad"
)

// CharacterProfile shapes how a persona speaks.
type CharacterProfile struct {
	ID          string
	DisplayName string
	SystemStyle string
	VoiceID     string
}

// Settings collects the orchestrator tunables that come from configuration.
type Settings struct {
	SampleRate       int
	VADPolicy        vad.Policy
	SilenceTimeout   time.Duration
	MaxUtterance     time.Duration
	WatchdogDeadline time.Duration
	SentenceMaxLen   int
	TTSConcurrency   int
	FirstAudioSLO    time.Duration
	DefaultVoice     string
	MaxHistory       int
}

// Orchestrator drives one conversation per websocket connection: audio in,
// detection, transcription, reply generation and ordered audio out.
type Orchestrator struct {
	sessions *session.Manager
	adapter  brain.Adapter
	engine   Engine
	turns    turnlog.Store
	metrics  *observability.Metrics
	log      *slog.Logger
	settings Settings
	profiles map[string]CharacterProfile
}

const turnLogSaveTimeout = 2 * time.Second

func NewOrchestrator(
	sessions *session.Manager,
	adapter brain.Adapter,
	engine Engine,
	turns turnlog.Store,
	metrics *observability.Metrics,
	log *slog.Logger,
	settings Settings,
) *Orchestrator {
	if settings.SampleRate <= 0 {
		settings.SampleRate = 16000
	}
	if settings.SilenceTimeout <= 0 {
		settings.SilenceTimeout = 700 * time.Millisecond
	}
	if settings.WatchdogDeadline <= 0 {
		settings.WatchdogDeadline = 10 * time.Second
	}
	profiles := map[string]CharacterProfile{
		"sage": {
			ID:          "sage",
			DisplayName: "Sage",
			SystemStyle: "calm, thoughtful, speaks in measured sentences",
			VoiceID:     settings.DefaultVoice,
		},
		"spark": {
			ID:          "spark",
			DisplayName: "Spark",
			SystemStyle: "upbeat, playful, quick with a joke",
			VoiceID:     settings.DefaultVoice,
		},
		"anchor": {
			ID:          "anchor",
			DisplayName: "Anchor",
			SystemStyle: "clear, factual, concise",
			VoiceID:     settings.DefaultVoice,
		},
	}
	return &Orchestrator{
		sessions: sessions,
		adapter:  adapter,
		engine:   engine,
		turns:    turns,
		metrics:  metrics,
		log:      log,
		settings: settings,
		profiles: profiles,
	}
}

func (o *Orchestrator) profileFor(character string) CharacterProfile {
	if p, ok := o.profiles[strings.ToLower(strings.TrimSpace(character))]; ok {
		return p
	}
	return CharacterProfile{
		ID:          strings.TrimSpace(character),
		DisplayName: strings.TrimSpace(character),
		VoiceID:     o.settings.DefaultVoice,
	}
}

type turnResult struct {
	turnID       string
	responseText string
	chunkCount   int
	err          error
}

// turnEmitter is the pipeline's outbound path for one turn. Mute closes it
// under the same lock Emit sends under, so once a barge-in or timeout has
// muted the turn no audio can land on the wire after the event announcing
// the cancellation.
type turnEmitter struct {
	mu    sync.Mutex
	muted bool
	send  func(msg any)
}

func (e *turnEmitter) Emit(msg any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.muted {
		return false
	}
	e.send(msg)
	return true
}

func (e *turnEmitter) Mute() {
	e.mu.Lock()
	e.muted = true
	e.mu.Unlock()
}

// RunConnection drives a session lifecycle for one websocket connection.
// inbound carries parsed client messages; outbound is drained by the
// connection's writer goroutine.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	machine := dialog.NewMachine(o.settings.MaxHistory)
	detector := vad.NewDetector(o.settings.VADPolicy)
	capture := newUtteranceCapture(o.settings.SampleRate, o.settings.SilenceTimeout, o.settings.MaxUtterance)
	gate := newInterruptGate(o.settings.VADPolicy.InterruptConfidence, o.settings.VADPolicy.InterruptCooldown)
	watchdog := newTurnWatchdog()

	sttEvents := make(chan transcriptUpdate, 16)
	turnDone := make(chan turnResult, 1)
	watchdogFired := make(chan string, 1)

	var (
		sttAttempt uint64
		turnCancel context.CancelFunc
		turnEmit   *turnEmitter
		character  = s.Character
	)

	defer func() {
		watchdog.Disarm()
		capture.Abort()
		if turnCancel != nil {
			turnCancel()
		}
	}()

	o.send(outbound, protocol.Connected{Type: protocol.TypeConnected, SessionID: s.ID})

	cancelActiveTurn := func(outcome dialog.Outcome, now time.Time) (dialog.Turn, bool) {
		var turn dialog.Turn
		var ok bool
		switch outcome {
		case dialog.OutcomeTimedOut:
			turn, ok = machine.TimeoutTurn(now)
		default:
			turn, ok = machine.CancelTurn(now)
		}
		if !ok {
			return dialog.Turn{}, false
		}
		watchdog.Disarm()
		if turnCancel != nil {
			turnCancel()
			turnCancel = nil
		}
		if turnEmit != nil {
			turnEmit.Mute()
			turnEmit = nil
		}
		return turn, true
	}

	finishTurn := func(turn dialog.Turn) {
		_ = o.sessions.EndTurn(s.ID)
		o.metrics.TurnOutcomes.WithLabelValues(string(turn.Outcome)).Inc()
		o.saveTurnBestEffort(turn, s.ID, character)
	}

	startTurn := func(transcript string, confidence float64, fromVoice bool, now time.Time) {
		transcript = strings.TrimSpace(transcript)
		if transcript == "" {
			// Silence or noise that produced no words never starts a turn.
			return
		}

		turn, err := machine.StartTurn(transcript, now)
		if err != nil {
			o.send(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeError,
				SessionID: s.ID,
				Code:      "turn_in_progress",
				Source:    "dialog",
				Message:   "a reply is already being generated",
			})
			return
		}

		redacted, _ := policy.RedactPII(transcript)
		o.log.Info("turn started",
			"session_id", s.ID,
			"turn_id", turn.ID,
			"from_voice", fromVoice,
			"transcript", redacted,
		)
		_ = o.sessions.StartTurn(s.ID, turn.ID)
		o.metrics.SessionEvents.WithLabelValues("turn_started").Inc()

		if fromVoice {
			o.send(outbound, protocol.TranscriptionComplete{
				Type:       protocol.TypeTranscriptionComplete,
				SessionID:  s.ID,
				Text:       transcript,
				Confidence: confidence,
			})
		}
		profile := o.profileFor(character)
		o.send(outbound, protocol.ProcessingStarted{
			Type:      protocol.TypeProcessingStarted,
			SessionID: s.ID,
			TurnID:    turn.ID,
			Character: profile.ID,
		})

		tctx, cancel := context.WithCancel(ctx)
		turnCancel = cancel
		emitter := &turnEmitter{send: func(msg any) { o.send(outbound, msg) }}
		turnEmit = emitter

		watchdog.Arm(o.settings.WatchdogDeadline, func() {
			select {
			case watchdogFired <- turn.ID:
			default:
			}
		})

		history := machine.History()
		req := brain.Request{
			SessionID: s.ID,
			TurnID:    turn.ID,
			Character: profile.SystemStyle,
			Messages:  make([]brain.Message, 0, len(history)),
		}
		for _, m := range history {
			req.Messages = append(req.Messages, brain.Message{Role: m.Role, Content: m.Content})
		}

		pipeline := &replyPipeline{
			brain:          o.adapter,
			synth:          o.engine,
			emit:           emitter.Emit,
			log:            o.log,
			sessionID:      s.ID,
			turnID:         turn.ID,
			voiceID:        profile.VoiceID,
			sentenceMaxLen: o.settings.SentenceMaxLen,
			concurrency:    o.settings.TTSConcurrency,
			onFirstAudio: func() {
				now := time.Now()
				if err := machine.MarkResponding(now); err == nil {
					latency := now.Sub(turn.StartedAt)
					o.metrics.ObserveFirstAudioLatency(latency)
					if o.settings.FirstAudioSLO > 0 && latency > o.settings.FirstAudioSLO {
						o.metrics.SessionEvents.WithLabelValues("first_audio_slo_miss").Inc()
					}
				}
			},
		}

		go func() {
			text, chunks, err := pipeline.Run(tctx, req)
			turnDone <- turnResult{turnID: turn.ID, responseText: text, chunkCount: chunks, err: err}
		}()
	}

	finalizeUtterance := func() {
		pcm := capture.Take()
		if len(pcm) == 0 {
			return
		}
		sttAttempt++
		go runTranscription(ctx, o.engine, pcm, o.settings.SampleRate, sttAttempt, sttEvents)
	}

	handleAudio := func(pcm []byte, now time.Time) {
		if len(pcm) == 0 {
			return
		}
		_ = o.sessions.Touch(s.ID)

		// First client audio arms listening without requiring an explicit
		// initialize message.
		machine.Initialize()

		phase := machine.Phase()
		events := detector.Process(pcm, phase, now)

		for _, ev := range events {
			o.send(outbound, protocol.SpeechDetected{
				Type:       protocol.TypeSpeechDetected,
				SessionID:  s.ID,
				Confidence: ev.Confidence,
				Energy:     ev.Energy,
				Phase:      string(ev.PhaseAtDetection),
				TSMs:       ev.Timestamp.UnixMilli(),
			})

			switch {
			case ev.PhaseAtDetection == dialog.PhaseListening:
				if !capture.Active() {
					capture.Begin(ev.Timestamp)
				}
			case ev.PhaseAtDetection.Busy():
				if !gate.Qualify(ev.Confidence, ev.Timestamp) {
					continue
				}
				turn, ok := cancelActiveTurn(dialog.OutcomeCancelled, ev.Timestamp)
				if !ok {
					continue
				}
				o.log.Info("barge-in", "session_id", s.ID, "turn_id", turn.ID, "confidence", ev.Confidence)
				_ = o.sessions.Interrupt(s.ID)
				o.metrics.InterruptionsTotal.Inc()
				o.send(outbound, protocol.InterruptionDetected{
					Type:      protocol.TypeInterruptionDetected,
					SessionID: s.ID,
					TurnID:    turn.ID,
				})
				o.metrics.TurnOutcomes.WithLabelValues(string(turn.Outcome)).Inc()
				o.saveTurnBestEffort(turn, s.ID, character)

				// The interrupting speech becomes the next utterance.
				capture.Begin(ev.Timestamp)
			}
		}

		if capture.Active() {
			capture.Append(pcm, o.settings.VADPolicy.Threshold)
			if capture.OverLimit(now) {
				finalizeUtterance()
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			if turn, ok := cancelActiveTurn(dialog.OutcomeCancelled, time.Now()); ok {
				finishTurn(turn)
			}
			return ctx.Err()

		case msg, ok := <-inbound:
			if !ok {
				if turn, ok := cancelActiveTurn(dialog.OutcomeCancelled, time.Now()); ok {
					finishTurn(turn)
				}
				return nil
			}
			switch m := msg.(type) {
			case protocol.Initialize:
				machine.Initialize()
				character = m.Character
				profile := o.profileFor(character)
				_ = o.sessions.SetCharacter(s.ID, profile.ID, profile.VoiceID)
				o.send(outbound, protocol.Initialized{
					Type:      protocol.TypeInitialized,
					SessionID: s.ID,
					Character: profile.ID,
				})

			case protocol.TextMessage:
				machine.Initialize()
				_ = o.sessions.Touch(s.ID)
				startTurn(m.Text, 1.0, false, time.Now())

			case protocol.Audio:
				pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
				if err != nil {
					o.send(outbound, protocol.ErrorEvent{
						Type:      protocol.TypeError,
						SessionID: s.ID,
						Code:      "bad_audio_encoding",
						Source:    "transport",
						Message:   "audio payload is not valid base64",
					})
					continue
				}
				handleAudio(pcm, time.Now())

			case protocol.BinaryAudio:
				handleAudio(m.PCM, time.Now())
			}

		case <-capture.Timeouts():
			finalizeUtterance()

		case up := <-sttEvents:
			if up.attempt != sttAttempt {
				// A stale transcription from before a barge-in.
				continue
			}
			switch up.event.Type {
			case TranscriptPartial:
				o.send(outbound, protocol.TranscriptionPartial{
					Type:      protocol.TypeTranscriptionPartial,
					SessionID: s.ID,
					Text:      up.event.Text,
				})
			case TranscriptFinal:
				startTurn(up.event.Text, up.event.Confidence, true, time.Now())
			case TranscriptError:
				o.metrics.EngineErrors.WithLabelValues("stt", up.event.Code).Inc()
				o.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeError,
					SessionID: s.ID,
					Code:      up.event.Code,
					Source:    "stt",
					Retryable: up.event.Retryable,
					Message:   up.event.Detail,
				})
			}

		case turnID := <-watchdogFired:
			if machine.ActiveTurnID() != turnID {
				continue
			}
			turn, ok := cancelActiveTurn(dialog.OutcomeTimedOut, time.Now())
			if !ok {
				continue
			}
			o.log.Warn("turn watchdog fired", "session_id", s.ID, "turn_id", turn.ID)
			o.send(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeError,
				SessionID: s.ID,
				Code:      "turn_timeout",
				Source:    "watchdog",
				Retryable: true,
				Message:   "reply generation exceeded its deadline",
			})
			finishTurn(turn)

		case res := <-turnDone:
			if machine.ActiveTurnID() != res.turnID {
				// Already resolved by barge-in or watchdog; the pipeline
				// goroutine unwound on its cancelled context.
				continue
			}
			watchdog.Disarm()
			turnCancel = nil
			turnEmit = nil

			if res.err != nil {
				if errors.Is(res.err, context.Canceled) {
					if turn, ok := machine.CancelTurn(time.Now()); ok {
						finishTurn(turn)
					}
					continue
				}
				turn, ok := machine.FailTurn(time.Now())
				if !ok {
					continue
				}
				o.log.Error("turn failed", "session_id", s.ID, "turn_id", turn.ID, "error", res.err)
				o.metrics.EngineErrors.WithLabelValues("pipeline", "turn_failed").Inc()
				o.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeError,
					SessionID: s.ID,
					Code:      "turn_failed",
					Source:    "pipeline",
					Retryable: true,
					Message:   res.err.Error(),
				})
				finishTurn(turn)
				continue
			}

			turn, err := machine.CompleteTurn(res.responseText, res.chunkCount, time.Now())
			if err != nil {
				continue
			}
			o.send(outbound, protocol.ResponseComplete{
				Type:      protocol.TypeResponseComplete,
				SessionID: s.ID,
				TurnID:    turn.ID,
			})
			finishTurn(turn)
		}
	}
}

// send delivers a message to the connection writer. Audio and turn-boundary
// events block briefly rather than drop; advisory events are dropped when
// the writer is backed up.
func (o *Orchestrator) send(outbound chan<- any, msg any) {
	msgType, critical := outboundMessageMeta(msg)

	if critical {
		timer := time.NewTimer(600 * time.Millisecond)
		defer timer.Stop()
		select {
		case outbound <- msg:
		case <-timer.C:
			o.metrics.SessionEvents.WithLabelValues("outbound_drop_critical").Inc()
			o.log.Warn("dropped critical outbound message", "type", msgType)
		}
		return
	}

	select {
	case outbound <- msg:
	default:
		o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
	}
}

func outboundMessageMeta(msg any) (string, bool) {
	switch m := msg.(type) {
	case protocol.Connected:
		return string(m.Type), true
	case protocol.Initialized:
		return string(m.Type), true
	case protocol.SpeechDetected:
		return string(m.Type), false
	case protocol.TranscriptionPartial:
		return string(m.Type), false
	case protocol.TranscriptionComplete:
		return string(m.Type), true
	case protocol.ProcessingStarted:
		return string(m.Type), true
	case protocol.LLMStreamingStarted:
		return string(m.Type), false
	case protocol.LLMToken:
		return string(m.Type), false
	case protocol.TTSChunkStarted:
		return string(m.Type), false
	case protocol.AudioChunk:
		return string(m.Type), true
	case protocol.ResponseComplete:
		return string(m.Type), true
	case protocol.InterruptionDetected:
		return string(m.Type), true
	case protocol.ErrorEvent:
		return string(m.Type), true
	default:
		return "unknown", false
	}
}

func (o *Orchestrator) saveTurnBestEffort(turn dialog.Turn, sessionID, character string) {
	if o.turns == nil {
		return
	}
	record := turnlog.Record{
		ID:         turn.ID,
		SessionID:  sessionID,
		Character:  character,
		Outcome:    string(turn.Outcome),
		ChunkCount: turn.ChunkCount,
		StartedAt:  turn.StartedAt,
		EndedAt:    turn.EndedAt,
	}
	if !turn.FirstAudioAt.IsZero() {
		record.FirstAudioTime = turn.FirstAudioAt.Sub(turn.StartedAt)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), turnLogSaveTimeout)
		defer cancel()
		if err := o.turns.SaveTurn(ctx, record); err != nil {
			o.log.Warn("turn log save failed", "turn_id", record.ID, "error", err)
		}
	}()
}
