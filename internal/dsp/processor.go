// Package dsp implements the per-frame processing chain
package dsp

import (
	"encoding/binary"
	"math"
	"time"
)

// Config holds per-call processing settings. Treated as an immutable snapshot;
// callers build a new value instead of mutating a shared one.
type Config struct {
	SampleRate           int
	Channels             int
	BitDepth             int
	TargetVolume         float64 // peak target in [0,1]
	SilenceThreshold     float64
	EnableNormalization  bool
	EnableNoiseReduction bool
	EnableVAD            bool
}

// DefaultConfig returns processing defaults for 16 kHz mono 16-bit capture.
func DefaultConfig() Config {
	return Config{
		SampleRate:           16000,
		Channels:             1,
		BitDepth:             16,
		TargetVolume:         0.8,
		SilenceThreshold:     0.01,
		EnableNormalization:  true,
		EnableNoiseReduction: true,
		EnableVAD:            true,
	}
}

// Quality holds derived frame quality metrics.
type Quality struct {
	SNR          float64 // dB
	DynamicRange float64 // dB
	ClippingPct  float64
	SilencePct   float64
	PeakLevel    float64
	RMSLevel     float64
	THD          float64
}

// SpectralData holds direct-estimation spectral analysis results.
// Frequencies are ascending with parallel Magnitudes.
type SpectralData struct {
	Frequencies       []float64
	Magnitudes        []float64
	DominantFrequency float64
	Bandwidth         float64 // 90%-energy span in Hz
}

// Frame is the output of one processing call. Immutable after creation.
type Frame struct {
	Samples    []float32
	SampleRate int
	Channels   int
	Duration   time.Duration
	Volume     float64 // RMS
	HasVoice   bool
	Quality    Quality
	Spectral   *SpectralData
}

// Processor runs the fixed DSP chain on raw capture frames. The only
// cross-call state is the cached noise profile; one Processor belongs to one
// session and is not designed for shared use across goroutines.
type Processor struct {
	noisePower float64
	hasProfile bool
}

// NewProcessor creates a frame processor with no noise profile cached.
func NewProcessor() *Processor {
	return &Processor{}
}

// SetNoiseProfile caches noise power measured from a known background sample.
func (p *Processor) SetNoiseProfile(background []float32) {
	p.noisePower = meanSquare(background)
	p.hasProfile = true
}

// ResetNoiseProfile drops the cached profile so the next denoise rebuilds it.
func (p *Processor) ResetNoiseProfile() {
	p.noisePower = 0
	p.hasProfile = false
}

// Process runs the full chain on one raw frame:
// decode, normalize, denoise, gain, voice flag, quality, spectral.
// Malformed or empty input yields a zero-length frame, never an error.
func (p *Processor) Process(raw []byte, cfg Config) Frame {
	samples := Decode(raw, cfg.BitDepth)
	if cfg.Channels > 1 {
		samples = downmix(samples, cfg.Channels)
	}

	frame := Frame{
		SampleRate: cfg.SampleRate,
		Channels:   1,
	}
	if len(samples) == 0 || cfg.SampleRate <= 0 {
		frame.Samples = []float32{}
		return frame
	}

	if cfg.EnableNormalization {
		samples = Normalize(samples, cfg.TargetVolume)
	}
	if cfg.EnableNoiseReduction {
		samples = p.Denoise(samples)
	}
	samples = ApplyGain(samples, cfg.TargetVolume)

	frame.Samples = samples
	frame.Duration = time.Duration(float64(len(samples)) / float64(cfg.SampleRate) * float64(time.Second))
	frame.Volume = RMS(samples)
	if cfg.EnableVAD {
		frame.HasVoice = hasVoice(samples, cfg.SampleRate, cfg.SilenceThreshold)
	}
	frame.Quality = analyzeQuality(samples, cfg.SampleRate)
	frame.Spectral = analyzeSpectrum(samples, cfg.SampleRate)
	return frame
}

// Decode converts raw little-endian PCM bytes to float samples in [-1, 1].
// Supports 16-bit signed integer and 32-bit float encodings; trailing bytes
// that do not fill a full sample are dropped.
func Decode(raw []byte, bitDepth int) []float32 {
	switch bitDepth {
	case 32:
		n := len(raw) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(raw[i*4:])
			out[i] = clampSample(math.Float32frombits(bits))
		}
		return out
	case 8:
		out := make([]float32, len(raw))
		for i, b := range raw {
			out[i] = clampSample((float32(b) - 128) / 128)
		}
		return out
	default: // 16-bit PCM
		n := len(raw) / 2
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
			out[i] = clampSample(float32(s) / 32768)
		}
		return out
	}
}

// Normalize peak-scales the frame so its maximum absolute sample equals
// target. A silent frame is returned unchanged.
func Normalize(samples []float32, target float64) []float32 {
	peak := peakAbs(samples)
	if peak == 0 || target <= 0 {
		return samples
	}
	scale := float32(target / peak)
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = clampSample(s * scale)
	}
	return out
}

// Denoise applies spectral subtraction over overlapping sub-windows.
// The noise profile is built lazily from the quietest windows of the first
// frame seen and cached until ResetNoiseProfile.
func (p *Processor) Denoise(samples []float32) []float32 {
	if len(samples) == 0 {
		return samples
	}
	if !p.hasProfile {
		p.noisePower = estimateNoisePower(samples)
		p.hasProfile = true
	}

	out := make([]float32, len(samples))
	weight := make([]float32, len(samples))

	for start := 0; start < len(samples); start += DenoiseHopSize {
		end := start + DenoiseWindowSize
		if end > len(samples) {
			end = len(samples)
		}
		win := samples[start:end]
		power := meanSquare(win)

		cleaned := power - OverSubtractionFactor*p.noisePower
		if floor := ResidualPowerRatio * power; cleaned < floor {
			cleaned = floor
		}
		gain := float32(math.Sqrt(cleaned / math.Max(power, epsilon)))

		for i, s := range win {
			w := triangleWeight(i, len(win))
			out[start+i] += s * gain * w
			weight[start+i] += w
		}
		if end == len(samples) {
			break
		}
	}

	for i := range out {
		if weight[i] > 0 {
			out[i] = clampSample(out[i] / weight[i])
		}
	}
	return out
}

// ApplyGain scales samples by gain, clamping to [-1, 1].
func ApplyGain(samples []float32, gain float64) []float32 {
	out := make([]float32, len(samples))
	g := float32(gain)
	for i, s := range samples {
		out[i] = clampSample(s * g)
	}
	return out
}

// ApplyCompressor soft-knee compresses samples whose absolute value exceeds
// threshold, preserving sign. A ratio at or below 1 is a no-op.
func ApplyCompressor(samples []float32, threshold, ratio float64) []float32 {
	if ratio <= 1 || threshold <= 0 {
		return samples
	}
	out := make([]float32, len(samples))
	th := float32(threshold)
	for i, s := range samples {
		abs := s
		sign := float32(1)
		if abs < 0 {
			abs = -abs
			sign = -1
		}
		if abs <= th {
			out[i] = s
			continue
		}
		compressed := th + (abs-th)/float32(ratio)
		out[i] = clampSample(sign * compressed)
	}
	return out
}

// DetectSilence reports whether the frame RMS is below threshold.
func DetectSilence(samples []float32, threshold float64) bool {
	return RMS(samples) < threshold
}

// Resample converts samples between rates using linear interpolation.
// Equal rates return the input unchanged; positions past the source bounds
// are zero-filled.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}
	ratio := float64(toRate) / float64(fromRate)
	outLen := int(math.Round(float64(len(samples)) * ratio))
	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		src := float64(i) / ratio
		left := int(src)
		if left >= len(samples) {
			break // zero-fill remainder
		}
		frac := float32(src - float64(left))
		s := samples[left] * (1 - frac)
		if left+1 < len(samples) {
			s += samples[left+1] * frac
		}
		out[i] = s
	}
	return out
}

// RMS returns the root-mean-square amplitude of the samples.
func RMS(samples []float32) float64 {
	return math.Sqrt(meanSquare(samples))
}

// hasVoice windows the frame into ~30ms sub-frames and flags voice when more
// than 30% of sub-frames carry speech-like energy with a low zero-crossing
// rate.
func hasVoice(samples []float32, sampleRate int, silenceThreshold float64) bool {
	sub := sampleRate * VoiceSubFrameMs / 1000
	if sub <= 0 || len(samples) < sub {
		sub = len(samples)
	}
	if sub == 0 {
		return false
	}

	total, voiced := 0, 0
	for start := 0; start+sub <= len(samples); start += sub {
		win := samples[start : start+sub]
		total++
		if meanSquare(win) > silenceThreshold && ZCR(win) < VoiceZCRMax {
			voiced++
		}
	}
	if total == 0 {
		return false
	}
	return float64(voiced)/float64(total) > VoicedSubFrameMin
}

// ZCR returns the zero-crossing rate: sign changes per sample transition.
func ZCR(samples []float32) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// estimateNoisePower returns the mean power of the quietest 10% of denoise
// windows, a stand-in for a measured background profile.
func estimateNoisePower(samples []float32) float64 {
	var powers []float64
	for start := 0; start+DenoiseWindowSize <= len(samples); start += DenoiseWindowSize {
		powers = append(powers, meanSquare(samples[start:start+DenoiseWindowSize]))
	}
	if len(powers) == 0 {
		return meanSquare(samples) * NoiseCapRatio
	}
	sortFloats(powers)
	n := int(float64(len(powers)) * NoiseQuietileRatio)
	if n == 0 {
		n = 1
	}
	var sum float64
	for _, p := range powers[:n] {
		sum += p
	}
	quiet := sum / float64(n)

	// A uniformly loud frame has no noise-only segment; the cap keeps the
	// subtraction from eating speech when the profile is learned mid-utterance.
	median := powers[len(powers)/2]
	if limit := median * NoiseCapRatio; quiet > limit {
		quiet = limit
	}
	return quiet
}

func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
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

func peakAbs(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		a := math.Abs(float64(s))
		if a > peak {
			peak = a
		}
	}
	return peak
}

func clampSample(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

func triangleWeight(i, n int) float32 {
	if n <= 1 {
		return 1
	}
	half := float32(n-1) / 2
	d := float32(i) - half
	if d < 0 {
		d = -d
	}
	w := 1 - d/half
	if w < 0.05 {
		w = 0.05 // keep edges contributing so overlap-add never divides by ~0
	}
	return w
}

// sortFloats is insertion sort; window counts per frame are small.
func sortFloats(v []float64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] < v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
}
