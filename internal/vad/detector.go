// Package vad implements stateful voice activity detection
package vad

import (
	"math"
	"sync"
	"time"

	"github.com/voicewire/voicewire/internal/dsp"
)

// Config holds detector settings. Updates go through UpdateConfig, which
// swaps in a fresh snapshot rather than mutating shared state.
type Config struct {
	SampleRate           int
	WindowSizeMs         int
	HopSizeMs            int
	Threshold            float64 // static energy threshold (mean-square units)
	MinSpeechDurationMs  int
	MinSilenceDurationMs int
	Sensitivity          float64 // [0.1, 2.0]; lower leans toward speech
	AdaptiveThreshold    bool
}

// DefaultConfig returns detection defaults for 16 kHz capture.
func DefaultConfig() Config {
	return Config{
		SampleRate:           16000,
		WindowSizeMs:         30,
		HopSizeMs:            10,
		Threshold:            0.01,
		MinSpeechDurationMs:  250,
		MinSilenceDurationMs: 100,
		Sensitivity:          1.0,
		AdaptiveThreshold:    true,
	}
}

// Result is the per-frame classification. Confidence equals the voice
// probability after sensitivity shaping.
type Result struct {
	IsSpeech         bool
	Confidence       float64
	Energy           float64
	FrameIndex       uint64
	SpectralCentroid float64
}

// State tracks cumulative detection state. Mutated only by the detector,
// monotonically except through Reset.
type State struct {
	IsSpeech        bool
	SpeechStartTime time.Time
	SpeechEndTime   time.Time
	SpeechDuration  time.Duration
	SilenceDuration time.Duration
	SpeechFrames    uint64
	SilenceFrames   uint64
}

// Statistics is a read-only view over the detector's history and counters.
type Statistics struct {
	TotalFrames    uint64
	SpeechRatio    float64
	SilenceRatio   float64
	EnergyMean     float64
	EnergyVariance float64
}

// Detector classifies frames of one audio stream as speech or silence.
// Frames must arrive in order from a single goroutine; reads of state and
// statistics may come from others.
type Detector struct {
	mu         sync.RWMutex
	cfg        Config
	history    []float64
	baseline   float64
	frameIndex uint64
	started    bool
	state      State
	last       Result
}

// NewDetector creates a detector with the given config snapshot.
func NewDetector(cfg Config) *Detector {
	cfg = cfg.clamped()
	return &Detector{
		cfg:      cfg,
		history:  make([]float64, 0, MaxEnergyHistory),
		baseline: cfg.Threshold,
	}
}

func (c Config) clamped() Config {
	if c.Sensitivity < MinSensitivity {
		c.Sensitivity = MinSensitivity
	}
	if c.Sensitivity > MaxSensitivity {
		c.Sensitivity = MaxSensitivity
	}
	return c
}

// UpdateConfig replaces the detector's config snapshot.
func (d *Detector) UpdateConfig(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg.clamped()
}

// Config returns the current config snapshot.
func (d *Detector) Config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// ProcessFrame classifies one frame and advances detection state.
func (d *Detector) ProcessFrame(samples []float32) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	energy := meanSquare(samples)
	zcr := dsp.ZCR(samples)
	centroid := dsp.SpectralCentroid(samples, d.cfg.SampleRate)

	d.pushEnergy(energy)
	threshold := d.operatingThreshold()
	prob := d.voiceProbability(energy, zcr, centroid, threshold)
	isSpeech := d.applyHysteresis(prob)

	var frameDur time.Duration
	if d.cfg.SampleRate > 0 {
		frameDur = time.Duration(float64(len(samples)) / float64(d.cfg.SampleRate) * float64(time.Second))
	}
	d.advanceState(isSpeech, frameDur)

	result := Result{
		IsSpeech:         isSpeech,
		Confidence:       prob,
		Energy:           energy,
		FrameIndex:       d.frameIndex,
		SpectralCentroid: centroid,
	}
	d.frameIndex++
	d.last = result
	return result
}

func (d *Detector) pushEnergy(energy float64) {
	d.history = append(d.history, energy)
	if len(d.history) > MaxEnergyHistory {
		d.history = d.history[len(d.history)-MaxEnergyHistory:]
	}
}

// operatingThreshold returns the static threshold, or the adaptive baseline:
// 2.5x the median of recent energy smoothed by EMA and clamped to
// [0.5x, 3x] of the configured value.
func (d *Detector) operatingThreshold() float64 {
	if !d.cfg.AdaptiveThreshold {
		return d.cfg.Threshold
	}
	adaptive := AdaptiveMedianFactor * median(d.history)
	d.baseline += BaselineSmoothing * (adaptive - d.baseline)

	lo := BaselineMinRatio * d.cfg.Threshold
	hi := BaselineMaxRatio * d.cfg.Threshold
	if d.baseline < lo {
		d.baseline = lo
	}
	if d.baseline > hi {
		d.baseline = hi
	}
	return d.baseline
}

// voiceProbability combines normalized energy, inverted ZCR and spectral
// centroid, then shapes the result by sensitivity.
func (d *Detector) voiceProbability(energy, zcr, centroid, threshold float64) float64 {
	normEnergy := math.Min(1, energy/math.Max(EnergyNormFactor*threshold, 1e-10))
	invZCR := 1 - math.Min(1, zcr/ZCRNormMax)
	normCentroid := math.Min(1, centroid/CentroidNormHz)

	prob := EnergyWeight*normEnergy + ZCRWeight*invZCR + CentroidWeight*normCentroid
	if prob < 0 {
		prob = 0
	}
	if prob > 1 {
		prob = 1
	}
	return math.Pow(prob, d.cfg.Sensitivity)
}

// applyHysteresis decides speech/silence from probability with an asymmetric
// band. The first frame ever has no prior state and uses a plain midpoint.
func (d *Detector) applyHysteresis(prob float64) bool {
	if !d.started {
		d.started = true
		return prob > FirstFrameProbability
	}
	if d.state.IsSpeech {
		return prob > ExitProbability
	}
	return prob >= EnterProbability
}

func (d *Detector) advanceState(isSpeech bool, frameDur time.Duration) {
	if isSpeech != d.state.IsSpeech {
		now := time.Now()
		if isSpeech {
			d.state.SpeechStartTime = now
		} else {
			d.state.SpeechEndTime = now
		}
	}
	d.state.IsSpeech = isSpeech
	if isSpeech {
		d.state.SpeechFrames++
		d.state.SpeechDuration += frameDur
	} else {
		d.state.SilenceFrames++
		d.state.SilenceDuration += frameDur
	}
}

// Calibrate sets the static threshold from a background noise sample and
// clears the energy history.
func (d *Detector) Calibrate(background []float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Threshold = CalibrationFactor * meanSquare(background)
	d.baseline = d.cfg.Threshold
	d.history = d.history[:0]
}

// Reset clears all counters, history and state back to initial.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = d.history[:0]
	d.baseline = d.cfg.Threshold
	d.frameIndex = 0
	d.started = false
	d.state = State{}
	d.last = Result{}
}

// State returns a copy of the cumulative detection state.
func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// LastResult returns the most recent classification.
func (d *Detector) LastResult() Result {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

// Statistics returns speech/silence ratios and energy moments computed from
// the current history. Read-only; does not mutate state.
func (d *Detector) Statistics() Statistics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Statistics{TotalFrames: d.state.SpeechFrames + d.state.SilenceFrames}
	if s.TotalFrames > 0 {
		s.SpeechRatio = float64(d.state.SpeechFrames) / float64(s.TotalFrames)
		s.SilenceRatio = float64(d.state.SilenceFrames) / float64(s.TotalFrames)
	}
	if len(d.history) > 0 {
		var sum float64
		for _, e := range d.history {
			sum += e
		}
		s.EnergyMean = sum / float64(len(d.history))
		var varSum float64
		for _, e := range d.history {
			diff := e - s.EnergyMean
			varSum += diff * diff
		}
		s.EnergyVariance = varSum / float64(len(d.history))
	}
	return s
}

func meanSquare(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(samples))
}

// median works on a copy; the history order is meaningful.
func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sorted := make([]float64, len(v))
	copy(sorted, v)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if len(sorted)%2 == 1 {
		return sorted[len(sorted)/2]
	}
	return (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
}
