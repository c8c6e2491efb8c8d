package transcribe

import "time"

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 30 * time.Second
	DefaultModel   = "tiny"

	transcriptionsPath = "/v1/audio/transcriptions"
	healthPath         = "/health"

	// Services that report no per-result confidence get full confidence,
	// so their results always clear the orchestrator's threshold.
	DefaultConfidence = 1.0
)
