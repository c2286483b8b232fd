// Package vad implements the always-on energy voice activity detector.
// It runs on every incoming frame regardless of conversation phase so that
// barge-in during an assistant reply is detectable.
package vad

import (
	"time"

	"github.com/parley-labs/parley/internal/audio"
	"github.com/parley-labs/parley/internal/dialog"
)

// Policy collects every energy tunable in one place. The source material for
// this detector used scattered ad-hoc thresholds; keep them here only.
type Policy struct {
	// Threshold is the RMS speech threshold on the 16-bit PCM scale.
	Threshold float64
	// DebounceWindows is how many consecutive above-threshold windows are
	// required before a speech event fires, suppressing single-sample spikes.
	DebounceWindows int
	// WindowSamples is the analysis window length in samples.
	WindowSamples int
	// InterruptConfidence is the (higher) confidence bar for barge-in.
	InterruptConfidence float64
	// InterruptCooldown is the minimum gap between accepted interruptions.
	InterruptCooldown time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Threshold:           600,
		DebounceWindows:     2,
		WindowSamples:       320, // 20ms at 16kHz
		InterruptConfidence: 0.75,
		InterruptCooldown:   1500 * time.Millisecond,
	}
}

func (p Policy) normalized() Policy {
	if p.Threshold <= 0 {
		p.Threshold = 600
	}
	if p.DebounceWindows <= 0 {
		p.DebounceWindows = 2
	}
	if p.WindowSamples <= 0 {
		p.WindowSamples = 320
	}
	if p.InterruptConfidence <= 0 {
		p.InterruptConfidence = 0.75
	}
	if p.InterruptCooldown <= 0 {
		p.InterruptCooldown = 1500 * time.Millisecond
	}
	return p
}

// SpeechEvent is emitted at speech onset. PhaseAtDetection is captured when
// the event fires, not when it is consumed: phase may change in between, and
// consumers must act on the tagged value.
type SpeechEvent struct {
	Confidence       float64
	Energy           float64
	Timestamp        time.Time
	PhaseAtDetection dialog.Phase
}

// Detector classifies incoming PCM16 frames into speech onsets. It keeps a
// partial-window carry so arbitrary chunk sizes work; no alignment with the
// analysis window is assumed.
type Detector struct {
	policy  Policy
	carry   []byte
	above   int
	speech  bool
	lastRMS float64
}

func NewDetector(policy Policy) *Detector {
	return &Detector{policy: policy.normalized()}
}

func (d *Detector) Policy() Policy { return d.policy }

// LastEnergy returns the RMS energy of the most recently analyzed window.
func (d *Detector) LastEnergy() float64 { return d.lastRMS }

// Process feeds a PCM16LE chunk through the detector and returns any speech
// onsets it produced. Below-threshold energy never emits, so pure silence
// produces zero events by construction.
func (d *Detector) Process(pcm []byte, phase dialog.Phase, now time.Time) []SpeechEvent {
	if len(pcm) == 0 {
		return nil
	}
	d.carry = append(d.carry, pcm...)

	windowBytes := d.policy.WindowSamples * 2
	var events []SpeechEvent
	for len(d.carry) >= windowBytes {
		window := d.carry[:windowBytes]
		d.carry = d.carry[windowBytes:]

		energy := audio.RMSEnergy(window)
		d.lastRMS = energy
		if energy < d.policy.Threshold {
			d.above = 0
			d.speech = false
			continue
		}

		d.above++
		if d.speech || d.above < d.policy.DebounceWindows {
			continue
		}
		d.speech = true
		events = append(events, SpeechEvent{
			Confidence:       d.confidence(energy),
			Energy:           energy,
			Timestamp:        now,
			PhaseAtDetection: phase,
		})
	}
	return events
}

// confidence maps energy onto [0,1]: threshold scores 0.5, twice the
// threshold saturates at 1.
func (d *Detector) confidence(energy float64) float64 {
	c := energy / (2 * d.policy.Threshold)
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}
