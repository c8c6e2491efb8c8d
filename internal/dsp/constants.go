// Package dsp implements the per-frame processing chain
package dsp

// Processing constants
const (
	// Spectral subtraction
	DenoiseWindowSize     = 256
	DenoiseHopSize        = 128
	OverSubtractionFactor = 2.0
	// Residual floor applied per window to avoid musical-noise artifacts
	ResidualPowerRatio = 0.01

	// Coarse voice classification
	VoiceSubFrameMs    = 30
	VoiceZCRMax        = 0.1
	VoicedSubFrameMin  = 0.3
	NoiseQuietileRatio = 0.1
	NoiseCapRatio      = 0.25

	// Quality analysis
	QualityWindowSize = 1024
	NoiseFloorMin     = 1e-4
	ClippingLevel     = 0.99
	SilenceLevel      = 0.001

	// Pitch search range for THD estimation
	PitchMinHz   = 50
	PitchMaxHz   = 1000
	HarmonicsTHD = 4

	// Spectral analysis
	SpectralBins = 64
	// Cumulative squared-magnitude quantiles defining the 90%-energy span
	BandwidthLowQuantile  = 0.05
	BandwidthHighQuantile = 0.95

	epsilon = 1e-10
)
