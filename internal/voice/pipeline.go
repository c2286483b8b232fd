package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/parley-labs/parley/internal/brain"
	"github.com/parley-labs/parley/internal/protocol"
	"github.com/parley-labs/parley/internal/reliability"
)

const (
	synthRetryBase = 200 * time.Millisecond
	synthRetryCap  = time.Second
)

// replyPipeline turns one user utterance into a streamed spoken reply:
// brain tokens are cut into sentences, sentences are synthesized
// concurrently, and audio is released to the client strictly in sentence
// order. Cancelling ctx abandons the turn at the next chunk boundary and
// guarantees no further audio is emitted.
type replyPipeline struct {
	brain brain.Adapter
	synth Synthesizer
	emit  func(msg any) bool
	log   *slog.Logger

	sessionID string
	turnID    string
	voiceID   string

	sentenceMaxLen int
	concurrency    int

	onFirstAudio func()
}

type synthResult struct {
	seq     int
	text    string
	pcm     [][]byte
	skipped bool
	err     error
}

// Run executes the pipeline and returns the full reply text plus the number
// of audio chunks delivered. A cancelled ctx surfaces as context.Canceled.
func (p *replyPipeline) Run(ctx context.Context, req brain.Request) (string, int, error) {
	concurrency := p.concurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	results := make(chan synthResult, 64)
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	dispatch := func(seq int, text string) {
		p.emit(protocol.TTSChunkStarted{
			Type:      protocol.TypeTTSChunkStarted,
			SessionID: p.sessionID,
			TurnID:    p.turnID,
			ChunkID:   seq,
			Text:      text,
		})
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				results <- synthResult{seq: seq, skipped: true}
				return nil
			}
			defer sem.Release(1)

			pcm, err := p.synthesizeSentence(gctx, text)
			if err != nil {
				if gctx.Err() != nil {
					results <- synthResult{seq: seq, skipped: true}
					return nil
				}
				results <- synthResult{seq: seq, err: err}
				return err
			}
			results <- synthResult{seq: seq, text: text, pcm: pcm}
			return nil
		})
	}

	// Stream brain tokens and dispatch sentences from a side goroutine so
	// the sequencer below can release audio while generation is still going.
	streamDone := make(chan error, 1)
	var fullText strings.Builder
	go func() {
		splitter := newSentenceSplitter(p.sentenceMaxLen)
		seq := 0
		started := false

		_, berr := p.brain.StreamReply(ctx, req, func(token string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !started {
				started = true
				p.emit(protocol.LLMStreamingStarted{
					Type:      protocol.TypeLLMStreamingStarted,
					SessionID: p.sessionID,
					TurnID:    p.turnID,
				})
			}
			fullText.WriteString(token)
			p.emit(protocol.LLMToken{
				Type:      protocol.TypeLLMToken,
				SessionID: p.sessionID,
				TurnID:    p.turnID,
				Token:     token,
			})
			for _, sentence := range splitter.Push(token) {
				if spoken := sanitizeSpeechText(sentence); spoken != "" {
					dispatch(seq, spoken)
					seq++
				}
			}
			return nil
		})
		if berr == nil {
			for _, sentence := range splitter.Finalize() {
				if spoken := sanitizeSpeechText(sentence); spoken != "" {
					dispatch(seq, spoken)
					seq++
				}
			}
		}
		go func() {
			// Sequencer exits when every dispatched sentence has reported.
			_ = g.Wait()
			close(results)
		}()
		streamDone <- berr
	}()

	// Release audio strictly in sentence order. One releasable result is
	// always held back so the final audio chunk of the reply can carry the
	// end-of-response marker.
	pending := make(map[int]synthResult)
	next := 0
	var held *synthResult
	chunkCount := 0
	firstAudioSent := false
	var synthErr error

	emitResult := func(r synthResult, last bool) {
		for i, chunk := range r.pcm {
			if !firstAudioSent {
				firstAudioSent = true
				if p.onFirstAudio != nil {
					p.onFirstAudio()
				}
			}
			// Transport chunk ids count delivered chunks, not sentences: a
			// sentence whose synthesis streams several audio pieces yields
			// several chunks, and ids must stay strictly increasing across
			// the whole turn.
			p.emit(protocol.AudioChunk{
				Type:        protocol.TypeAudioChunk,
				SessionID:   p.sessionID,
				TurnID:      p.turnID,
				ChunkID:     chunkCount,
				AudioBase64: base64.StdEncoding.EncodeToString(chunk),
				Text:        r.text,
				IsFinal:     last && i == len(r.pcm)-1,
			})
			chunkCount++
		}
	}

	for r := range results {
		pending[r.seq] = r
		for {
			ready, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			if ready.err != nil && synthErr == nil {
				synthErr = ready.err
			}
			if ready.skipped || ready.err != nil || len(ready.pcm) == 0 {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			if held != nil {
				emitResult(*held, false)
			}
			copied := ready
			held = &copied
		}
	}

	berr := <-streamDone

	if err := ctx.Err(); err != nil {
		return fullText.String(), chunkCount, err
	}
	if berr != nil {
		return fullText.String(), chunkCount, fmt.Errorf("brain stream: %w", berr)
	}
	if synthErr != nil {
		return fullText.String(), chunkCount, fmt.Errorf("synthesis: %w", synthErr)
	}

	if held != nil {
		emitResult(*held, true)
	}
	return fullText.String(), chunkCount, nil
}

// synthesizeSentence renders one sentence, retrying once when the engine
// reports a retryable failure.
func (p *replyPipeline) synthesizeSentence(ctx context.Context, text string) ([][]byte, error) {
	pcm, err := p.collectSynth(ctx, text)
	if err == nil {
		return pcm, nil
	}

	var se *synthFailure
	if !errors.As(err, &se) || !se.retryable {
		return nil, err
	}

	p.log.Warn("tts retry", "turn_id", p.turnID, "code", se.code)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(reliability.ExponentialBackoff(0, synthRetryBase, synthRetryCap)):
	}
	return p.collectSynth(ctx, text)
}

type synthFailure struct {
	code      string
	detail    string
	retryable bool
}

func (e *synthFailure) Error() string {
	return fmt.Sprintf("tts %s: %s", e.code, e.detail)
}

func (p *replyPipeline) collectSynth(ctx context.Context, text string) ([][]byte, error) {
	events, err := p.synth.Synthesize(ctx, text, p.voiceID)
	if err != nil {
		return nil, fmt.Errorf("tts start: %w", err)
	}

	var pcm [][]byte
	for ev := range events {
		switch ev.Type {
		case SynthAudio:
			if len(ev.PCM) > 0 {
				pcm = append(pcm, ev.PCM)
			}
		case SynthDone:
			return pcm, nil
		case SynthError:
			return nil, &synthFailure{code: ev.Code, detail: ev.Detail, retryable: ev.Retryable}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pcm, nil
}
