package session

import "time"

const (
	DefaultFrameSize      = 4096
	DefaultSilenceTimeout = 3 * time.Second
	DefaultMinConfidence  = 0.5

	EventBufferSize = 100
)
