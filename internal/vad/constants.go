// Package vad implements stateful voice activity detection
package vad

// Detection constants
const (
	// Rolling energy history bound
	MaxEnergyHistory = 100

	// Adaptive threshold: multiple of the recent energy median, smoothed
	// into a baseline and clamped relative to the static threshold
	AdaptiveMedianFactor = 2.5
	BaselineSmoothing    = 0.01
	BaselineMinRatio     = 0.5
	BaselineMaxRatio     = 3.0

	// Hysteresis band: leaving speech needs a lower probability than
	// entering it, which suppresses flicker near the boundary
	ExitProbability       = 0.4
	EnterProbability      = 0.6
	FirstFrameProbability = 0.5

	// Voice probability feature weights
	EnergyWeight   = 0.5
	ZCRWeight      = 0.2
	CentroidWeight = 0.3

	// Feature normalization
	EnergyNormFactor = 2.0    // energies beyond 2x threshold saturate
	ZCRNormMax       = 0.5    // ZCR at or above this reads as pure noise
	CentroidNormHz   = 2000.0 // centroid at or above this reads as full brightness

	// Calibration: static threshold as a multiple of background energy
	CalibrationFactor = 3.0

	// Sensitivity bounds
	MinSensitivity = 0.1
	MaxSensitivity = 2.0
)
