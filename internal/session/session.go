// Package session drives capture sessions: each session pulls frames from a
// capture source, runs them through the DSP processor and voice activity
// detector, and dispatches qualifying speech to the transcription
// collaborator while tracking statistics and lifecycle state.
package session

import (
	"context"
	"time"

	"github.com/voicewire/voicewire/internal/dsp"
	"github.com/voicewire/voicewire/internal/transcribe"
	"github.com/voicewire/voicewire/internal/vad"
)

// Source delivers fixed-size float32 frames from a capture device.
type Source interface {
	Start(ctx context.Context) error
	Frames() <-chan []float32
	Stop()
}

// SourceFactory builds a capture source for one session.
type SourceFactory func(sampleRate, frameSize int) (Source, error)

// Transcriber is the transcription collaborator. Each session holds its own
// handle so one session's stop cannot disturb another's in-flight call.
type Transcriber interface {
	StartSession(cfg transcribe.SessionConfig) (transcribe.Handle, error)
	StopSession(h transcribe.Handle) error
	Transcribe(ctx context.Context, h transcribe.Handle, samples []float32) (*transcribe.Result, error)
}

// Status is the session lifecycle state.
type Status int

const (
	Created Status = iota
	Active
	Stopped
	AutoStopped
)

func (s Status) String() string {
	return [...]string{"created", "active", "stopped", "auto_stopped"}[s]
}

// Config is the per-session configuration snapshot, fixed at creation.
type Config struct {
	Audio          dsp.Config
	VAD            vad.Config
	FrameSize      int
	SilenceTimeout time.Duration
	MinConfidence  float64
	AutoStop       bool
	Language       string
	Model          string
}

// DefaultSessionConfig returns session defaults for 16 kHz capture.
func DefaultSessionConfig() Config {
	return Config{
		Audio:          dsp.DefaultConfig(),
		VAD:            vad.DefaultConfig(),
		FrameSize:      DefaultFrameSize,
		SilenceTimeout: DefaultSilenceTimeout,
		MinConfidence:  DefaultMinConfidence,
		AutoStop:       true,
	}
}

func (c Config) withDefaults() Config {
	if c.FrameSize <= 0 {
		c.FrameSize = DefaultFrameSize
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = DefaultMinConfidence
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio = dsp.DefaultConfig()
	}
	if c.VAD.SampleRate <= 0 {
		c.VAD = vad.DefaultConfig()
		c.VAD.SampleRate = c.Audio.SampleRate
	}
	return c
}

// Transcript is one transcription result, appended in chronological order.
type Transcript struct {
	ID         string                  `json:"id"`
	Text       string                  `json:"text"`
	Confidence float64                 `json:"confidence"`
	Timestamp  time.Time               `json:"timestamp"`
	Duration   float64                 `json:"duration"`
	IsFinal    bool                    `json:"isFinal"`
	Language   string                  `json:"language,omitempty"`
	Words      []transcribe.WordTiming `json:"words,omitempty"`
}

// Statistics aggregates one session's activity. Derived fields
// (AverageConfidence, WordsPerMinute, VoiceActivityRatio) are computed on
// read from the monotonic counters.
type Statistics struct {
	TotalDuration      time.Duration `json:"totalDuration"`
	SpeakingDuration   time.Duration `json:"speakingDuration"`
	SilenceDuration    time.Duration `json:"silenceDuration"`
	FramesProcessed    int           `json:"framesProcessed"`
	TranscriptCount    int           `json:"transcriptCount"`
	WordCount          int           `json:"wordCount"`
	ErrorCount         int           `json:"errorCount"`
	SilencePeriods     int           `json:"silencePeriods"`
	AverageConfidence  float64       `json:"averageConfidence"`
	WordsPerMinute     float64       `json:"wordsPerMinute"`
	VoiceActivityRatio float64       `json:"voiceActivityRatio"`
}

// Snapshot is a read-only view of one session.
type Snapshot struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	IsActive    bool         `json:"isActive"`
	IsRecording bool         `json:"isRecording"`
	StartTime   time.Time    `json:"startTime"`
	EndTime     time.Time    `json:"endTime,omitzero"`
	Transcripts []Transcript `json:"transcripts"`
	Stats       Statistics   `json:"stats"`
}

// AggregateStats summarizes all sessions known to the manager.
type AggregateStats struct {
	TotalSessions    int           `json:"totalSessions"`
	ActiveCount      int           `json:"activeCount"`
	TotalDuration    time.Duration `json:"totalDuration"`
	TotalTranscripts int           `json:"totalTranscripts"`
	MeanConfidence   float64       `json:"meanConfidence"`
}

// EventType enumerates notifications emitted to the event surface.
type EventType string

const (
	EventVADChange    EventType = "vad_change"
	EventTranscript   EventType = "transcript"
	EventSessionError EventType = "session_error"
	EventSessionEnded EventType = "session_ended"
)

// Event is one notification. Fields beyond Type/SessionID/Timestamp are set
// per type: IsSpeech for vad_change, Transcript for transcript, Error for
// session_error, Reason for session_ended.
type Event struct {
	Type       EventType   `json:"type"`
	SessionID  string      `json:"sessionId"`
	Timestamp  time.Time   `json:"timestamp"`
	IsSpeech   bool        `json:"isSpeech,omitempty"`
	Transcript *Transcript `json:"transcript,omitempty"`
	Error      string      `json:"error,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}
