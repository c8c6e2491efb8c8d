package session

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicewire/voicewire/internal/dsp"
	apperrors "github.com/voicewire/voicewire/internal/errors"
	"github.com/voicewire/voicewire/internal/trace"
	"github.com/voicewire/voicewire/internal/transcribe"
	"github.com/voicewire/voicewire/internal/vad"
)

// Orchestrator owns one capture session: the frame loop, its processor and
// detector instances, the silence timer, and the transcript record. Frames
// are processed strictly in arrival order; detector state and the noise
// profile are order-dependent.
type Orchestrator struct {
	id          string
	cfg         Config
	processor   *dsp.Processor
	detector    *vad.Detector
	transcriber Transcriber
	newSource   SourceFactory
	emit        func(Event)

	mu           sync.Mutex
	status       Status
	source       Source
	startTime    time.Time
	endTime      time.Time
	transcripts  []Transcript
	confidences  []float64 // every returned result, dropped ones included
	frameCount   int
	wordCount    int
	errorCount   int
	confSum      float64
	handle       transcribe.Handle
	hasHandle    bool
	silenceTimer *time.Timer
	wasSpeech    bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newOrchestrator(id string, cfg Config, factory SourceFactory, transcriber Transcriber, emit func(Event)) *Orchestrator {
	return &Orchestrator{
		id:          id,
		cfg:         cfg,
		processor:   dsp.NewProcessor(),
		detector:    vad.NewDetector(cfg.VAD),
		transcriber: transcriber,
		newSource:   factory,
		emit:        emit,
		status:      Created,
	}
}

// ID returns the session id.
func (o *Orchestrator) ID() string { return o.id }

// Status returns the current lifecycle state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Start acquires the capture source and begins the frame loop. A session
// activates at most once; restarting requires a new session.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.status != Created {
		o.mu.Unlock()
		return apperrors.Newf(apperrors.Configuration, "session %s already started", o.id)
	}

	src, err := o.newSource(o.cfg.Audio.SampleRate, o.cfg.FrameSize)
	if err != nil {
		o.mu.Unlock()
		return apperrors.Wrap(err, apperrors.Capture, "failed to acquire capture source")
	}
	if err := src.Start(ctx); err != nil {
		o.mu.Unlock()
		return apperrors.Wrap(err, apperrors.Capture, "failed to start capture")
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.source = src
	o.cancel = cancel
	o.done = make(chan struct{})
	o.status = Active
	o.startTime = time.Now()
	o.mu.Unlock()

	go o.frameLoop(loopCtx)
	slog.Info("session started", "session_id", o.id, "sample_rate", o.cfg.Audio.SampleRate, "frame_size", o.cfg.FrameSize)
	return nil
}

// Stop halts the session. Safe to call on a session that never started or
// has already stopped.
func (o *Orchestrator) Stop() {
	o.finalize(Stopped)
}

func (o *Orchestrator) frameLoop(ctx context.Context) {
	defer close(o.done)
	frames := o.source.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case samples, ok := <-frames:
			if !ok {
				return
			}
			o.handleFrame(ctx, samples)
		}
	}
}

func (o *Orchestrator) handleFrame(ctx context.Context, samples []float32) {
	audioCfg := o.cfg.Audio
	audioCfg.BitDepth = 32 // the source delivers 32-bit float samples
	frame := o.processor.Process(float32ToBytes(samples), audioCfg)
	if len(frame.Samples) == 0 {
		return
	}

	res := o.detector.ProcessFrame(frame.Samples)

	o.mu.Lock()
	if o.status != Active {
		o.mu.Unlock()
		return
	}
	o.frameCount++
	transition := res.IsSpeech != o.wasSpeech
	if transition {
		if res.IsSpeech {
			o.cancelTimerLocked()
		} else {
			o.armTimerLocked()
		}
		o.wasSpeech = res.IsSpeech
	}
	o.mu.Unlock()

	if transition {
		o.emit(Event{Type: EventVADChange, SessionID: o.id, IsSpeech: res.IsSpeech, Timestamp: time.Now()})
	}

	if res.IsSpeech && res.Confidence >= o.cfg.MinConfidence {
		o.dispatch(ctx, frame.Samples)
	}
}

// armTimerLocked starts or restarts the silence timer. Only the
// Speech→Silence edge arms it; continuing silence leaves it running.
func (o *Orchestrator) armTimerLocked() {
	if o.silenceTimer != nil {
		o.silenceTimer.Reset(o.cfg.SilenceTimeout)
		return
	}
	o.silenceTimer = time.AfterFunc(o.cfg.SilenceTimeout, o.onSilenceTimeout)
}

func (o *Orchestrator) cancelTimerLocked() {
	if o.silenceTimer != nil {
		o.silenceTimer.Stop()
	}
}

func (o *Orchestrator) onSilenceTimeout() {
	o.mu.Lock()
	if o.status != Active || !o.cfg.AutoStop {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	slog.Info("silence timeout reached", "session_id", o.id, "timeout", o.cfg.SilenceTimeout)
	o.finalize(AutoStopped)
}

func (o *Orchestrator) dispatch(ctx context.Context, samples []float32) {
	ctx, span := trace.StartSpan(ctx, "transcribe_dispatch")
	defer span.End()
	span.SetAttr("session_id", o.id)
	span.SetAttr("samples", len(samples))

	h, err := o.ensureHandle()
	if err != nil {
		o.recordError(err)
		return
	}

	result, err := o.transcriber.Transcribe(ctx, h, samples)
	if err != nil {
		span.SetAttr("error", err.Error())
		o.recordError(err)
		return
	}

	o.mu.Lock()
	if o.status != Active {
		o.mu.Unlock()
		return
	}
	o.confidences = append(o.confidences, result.Confidence)
	text := strings.TrimSpace(result.Text)
	if result.Confidence < o.cfg.MinConfidence || text == "" {
		// Below threshold means no usable result, not an error.
		o.mu.Unlock()
		return
	}
	t := Transcript{
		ID:         uuid.NewString(),
		Text:       text,
		Confidence: result.Confidence,
		Timestamp:  time.Now(),
		Duration:   result.Duration,
		IsFinal:    result.IsFinal,
		Language:   result.Language,
		Words:      result.Words,
	}
	o.transcripts = append(o.transcripts, t)
	o.wordCount += len(strings.Fields(text))
	o.confSum += t.Confidence
	o.mu.Unlock()

	trace.Logger(ctx).Debug("transcript appended", "session_id", o.id, "text_length", len(text), "confidence", t.Confidence)
	o.emit(Event{Type: EventTranscript, SessionID: o.id, Transcript: &t, Timestamp: t.Timestamp})
}

// ensureHandle lazily opens this session's transcription sub-session.
func (o *Orchestrator) ensureHandle() (transcribe.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.hasHandle {
		return o.handle, nil
	}
	h, err := o.transcriber.StartSession(transcribe.SessionConfig{
		SampleRate: o.cfg.Audio.SampleRate,
		Language:   o.cfg.Language,
		Model:      o.cfg.Model,
	})
	if err != nil {
		return "", err
	}
	o.handle = h
	o.hasHandle = true
	return h, nil
}

// recordError counts a per-frame failure without terminating the session.
func (o *Orchestrator) recordError(err error) {
	o.mu.Lock()
	if o.status != Active {
		o.mu.Unlock()
		return
	}
	o.errorCount++
	count := o.errorCount
	o.mu.Unlock()

	slog.Warn("session frame error", "session_id", o.id, "error", err, "error_count", count)
	o.emit(Event{Type: EventSessionError, SessionID: o.id, Error: err.Error(), Timestamp: time.Now()})
}

// finalize moves an Active session to a terminal state exactly once: it
// cancels the silence timer, detaches the frame loop before releasing the
// capture resource so a late frame cannot revive the session, closes the
// transcription sub-session, and emits session_ended.
func (o *Orchestrator) finalize(to Status) {
	o.mu.Lock()
	if o.status != Active {
		o.mu.Unlock()
		return
	}
	o.status = to
	o.endTime = time.Now()
	o.cancelTimerLocked()
	cancel := o.cancel
	done := o.done
	src := o.source
	handle, hasHandle := o.handle, o.hasHandle
	o.hasHandle = false
	o.mu.Unlock()

	cancel()
	<-done
	src.Stop()

	if hasHandle {
		if err := o.transcriber.StopSession(handle); err != nil {
			slog.Warn("failed to stop transcription session", "session_id", o.id, "error", err)
		}
	}

	slog.Info("session ended", "session_id", o.id, "status", to.String())
	o.emit(Event{Type: EventSessionEnded, SessionID: o.id, Reason: to.String(), Timestamp: time.Now()})
}

// Snapshot returns a read-only copy of the session.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	transcripts := make([]Transcript, len(o.transcripts))
	copy(transcripts, o.transcripts)
	return Snapshot{
		ID:          o.id,
		Status:      o.status.String(),
		IsActive:    o.status == Active,
		IsRecording: o.status == Active,
		StartTime:   o.startTime,
		EndTime:     o.endTime,
		Transcripts: transcripts,
		Stats:       o.statisticsLocked(),
	}
}

// Statistics returns the session's current statistics.
func (o *Orchestrator) Statistics() Statistics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statisticsLocked()
}

func (o *Orchestrator) statisticsLocked() Statistics {
	s := Statistics{
		FramesProcessed: o.frameCount,
		TranscriptCount: len(o.transcripts),
		WordCount:       o.wordCount,
		ErrorCount:      o.errorCount,
		SilencePeriods:  downwardCrossings(o.confidences, o.cfg.MinConfidence),
	}

	switch {
	case o.startTime.IsZero():
	case o.endTime.IsZero():
		s.TotalDuration = time.Since(o.startTime)
	default:
		s.TotalDuration = o.endTime.Sub(o.startTime)
	}

	st := o.detector.State()
	s.SpeakingDuration = st.SpeechDuration
	s.SilenceDuration = st.SilenceDuration
	if s.TotalDuration > 0 {
		s.VoiceActivityRatio = min(1, float64(s.SpeakingDuration)/float64(s.TotalDuration))
	}
	if len(o.transcripts) > 0 {
		s.AverageConfidence = o.confSum / float64(len(o.transcripts))
	}
	if minutes := s.TotalDuration.Minutes(); minutes > 0 {
		s.WordsPerMinute = float64(o.wordCount) / minutes
	}
	return s
}

// downwardCrossings counts confidence drops below threshold across the
// result sequence, which is how silence periods are scored.
func downwardCrossings(confidences []float64, threshold float64) int {
	count := 0
	for i := 1; i < len(confidences); i++ {
		if confidences[i-1] >= threshold && confidences[i] < threshold {
			count++
		}
	}
	return count
}

func float32ToBytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}
