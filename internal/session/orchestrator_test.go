package session

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	apperrors "github.com/voicewire/voicewire/internal/errors"
	"github.com/voicewire/voicewire/internal/transcribe"
)

type fakeSource struct {
	frames  chan []float32
	mu      sync.Mutex
	stopped bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan []float32, 16)}
}

func (s *fakeSource) Start(ctx context.Context) error { return nil }
func (s *fakeSource) Frames() <-chan []float32        { return s.frames }

func (s *fakeSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeTranscriber struct {
	mu      sync.Mutex
	started []transcribe.Handle
	stopped []transcribe.Handle
	calls   int
	result  transcribe.Result
	err     error
	nextID  int
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{
		result: transcribe.Result{Text: "hello world", Confidence: 0.9, IsFinal: true, Duration: 0.5},
	}
}

func (f *fakeTranscriber) StartSession(cfg transcribe.SessionConfig) (transcribe.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	h := transcribe.Handle(string(rune('a' + f.nextID)))
	f.started = append(f.started, h)
	return h, nil
}

func (f *fakeTranscriber) StopSession(h transcribe.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, h)
	return nil
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, h transcribe.Handle, samples []float32) (*transcribe.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := f.result
	return &r, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTranscriber) setResult(r transcribe.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = r
}

func (f *fakeTranscriber) setError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// speechFrame is a 1 kHz tone at 16 kHz, loud enough to classify as speech.
func speechFrame() []float32 {
	samples := make([]float32, DefaultFrameSize)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*1000*float64(i)/16000))
	}
	return samples
}

func silenceFrame() []float32 {
	return make([]float32, DefaultFrameSize)
}

func testConfig() Config {
	cfg := DefaultSessionConfig()
	cfg.SilenceTimeout = 80 * time.Millisecond
	return cfg
}

func newTestManager(src *fakeSource, tr *fakeTranscriber) *Manager {
	factory := func(sampleRate, frameSize int) (Source, error) { return src, nil }
	return NewManager(factory, tr, testConfig())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func collectEvents(m *Manager, d time.Duration) []Event {
	var events []Event
	deadline := time.After(d)
	for {
		select {
		case ev := <-m.Events():
			events = append(events, ev)
		case <-deadline:
			return events
		}
	}
}

func countEvents(events []Event, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestSpeechFrameProducesTranscript(t *testing.T) {
	src := newFakeSource()
	tr := newFakeTranscriber()
	m := newTestManager(src, tr)

	id := m.Create(Config{})
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	src.frames <- speechFrame()

	if !waitFor(t, 2*time.Second, func() bool {
		snap, _ := m.Get(id)
		return len(snap.Transcripts) == 1
	}) {
		t.Fatal("no transcript appended for speech frame")
	}

	snap, _ := m.Get(id)
	if snap.Transcripts[0].Text != "hello world" {
		t.Errorf("text = %q", snap.Transcripts[0].Text)
	}
	if snap.Stats.WordCount != 2 {
		t.Errorf("WordCount = %d, want 2", snap.Stats.WordCount)
	}
	if snap.Stats.AverageConfidence != 0.9 {
		t.Errorf("AverageConfidence = %f, want 0.9", snap.Stats.AverageConfidence)
	}
	_ = m.Stop(id)
}

func TestSilenceFrameNotDispatched(t *testing.T) {
	src := newFakeSource()
	tr := newFakeTranscriber()
	m := newTestManager(src, tr)

	id := m.Create(Config{})
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	for i := 0; i < 3; i++ {
		src.frames <- silenceFrame()
	}
	time.Sleep(50 * time.Millisecond)

	if got := tr.callCount(); got != 0 {
		t.Errorf("Transcribe calls = %d, want 0 for silence", got)
	}
	_ = m.Stop(id)
}

func TestAutoStopFiresExactlyOnce(t *testing.T) {
	src := newFakeSource()
	tr := newFakeTranscriber()
	m := newTestManager(src, tr)

	id := m.Create(Config{})
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	// Speech then silence arms the timer on the falling edge.
	src.frames <- speechFrame()
	src.frames <- silenceFrame()

	if !waitFor(t, 2*time.Second, func() bool {
		snap, _ := m.Get(id)
		return snap.Status == AutoStopped.String()
	}) {
		t.Fatal("session did not auto-stop after silence timeout")
	}

	// A late explicit stop must not fire a second ended event.
	_ = m.Stop(id)
	_ = m.Stop(id)

	events := collectEvents(m, 100*time.Millisecond)
	if got := countEvents(events, EventSessionEnded); got != 1 {
		t.Errorf("session_ended events = %d, want exactly 1", got)
	}

	snap, _ := m.Get(id)
	if snap.IsActive {
		t.Error("session should not be active after auto-stop")
	}
	if !src.isStopped() {
		t.Error("capture source should be released")
	}
}

func TestSilenceTimerCancelledBySpeech(t *testing.T) {
	src := newFakeSource()
	tr := newFakeTranscriber()
	m := newTestManager(src, tr)

	id := m.Create(Config{})
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	src.frames <- speechFrame()
	src.frames <- silenceFrame()
	time.Sleep(30 * time.Millisecond) // less than the 80 ms timeout
	src.frames <- speechFrame()       // Silence→Speech cancels the timer
	time.Sleep(150 * time.Millisecond)

	snap, _ := m.Get(id)
	if snap.Status != Active.String() {
		t.Errorf("status = %s, want active (timer should have been cancelled)", snap.Status)
	}
	_ = m.Stop(id)
}

func TestStopIdempotent(t *testing.T) {
	src := newFakeSource()
	tr := newFakeTranscriber()
	m := newTestManager(src, tr)

	id := m.Create(Config{})
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	if err := m.Stop(id); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if err := m.Stop(id); err != nil {
		t.Errorf("second Stop() = %v, want nil no-op", err)
	}

	events := collectEvents(m, 100*time.Millisecond)
	if got := countEvents(events, EventSessionEnded); got != 1 {
		t.Errorf("session_ended events = %d, want 1", got)
	}

	snap, _ := m.Get(id)
	if snap.Status != Stopped.String() {
		t.Errorf("status = %s, want stopped", snap.Status)
	}
	if snap.EndTime.IsZero() {
		t.Error("EndTime should be set after stop")
	}
}

func TestStopCreatedSessionIsNoOp(t *testing.T) {
	src := newFakeSource()
	tr := newFakeTranscriber()
	m := newTestManager(src, tr)

	id := m.Create(Config{})
	if err := m.Stop(id); err != nil {
		t.Errorf("Stop() on created session = %v, want nil", err)
	}

	snap, _ := m.Get(id)
	if snap.Status != Created.String() {
		t.Errorf("status = %s, want created", snap.Status)
	}
}

func TestDoubleStartRejected(t *testing.T) {
	src := newFakeSource()
	tr := newFakeTranscriber()
	m := newTestManager(src, tr)

	id := m.Create(Config{})
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	err := m.Start(context.Background(), id)
	if !apperrors.IsCode(err, apperrors.Configuration) {
		t.Errorf("second Start() = %v, want Configuration error", err)
	}
	_ = m.Stop(id)
}

func TestCaptureFailureFatalToStart(t *testing.T) {
	tr := newFakeTranscriber()
	factory := func(sampleRate, frameSize int) (Source, error) {
		return nil, apperrors.New(apperrors.Capture, "microphone unavailable")
	}
	m := NewManager(factory, tr, testConfig())

	id := m.Create(Config{})
	err := m.Start(context.Background(), id)
	if !apperrors.IsCode(err, apperrors.Capture) {
		t.Fatalf("Start() = %v, want Capture error", err)
	}

	snap, _ := m.Get(id)
	if snap.Status != Created.String() {
		t.Errorf("status = %s, want created (never activated)", snap.Status)
	}
}

func TestTranscriptionErrorsCountedNotFatal(t *testing.T) {
	src := newFakeSource()
	tr := newFakeTranscriber()
	tr.setError(apperrors.New(apperrors.Transcription, "backend down"))
	m := newTestManager(src, tr)

	id := m.Create(Config{})
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	src.frames <- speechFrame()
	src.frames <- speechFrame()

	if !waitFor(t, 2*time.Second, func() bool {
		snap, _ := m.Get(id)
		return snap.Stats.ErrorCount == 2
	}) {
		snap, _ := m.Get(id)
		t.Fatalf("ErrorCount = %d, want 2", snap.Stats.ErrorCount)
	}

	snap, _ := m.Get(id)
	if !snap.IsActive {
		t.Error("session should survive transcription failures")
	}

	events := collectEvents(m, 100*time.Millisecond)
	if got := countEvents(events, EventSessionError); got != 2 {
		t.Errorf("session_error events = %d, want 2", got)
	}
	_ = m.Stop(id)
}

func TestErrorCountIsolatedPerSession(t *testing.T) {
	srcA := newFakeSource()
	srcB := newFakeSource()
	tr := newFakeTranscriber()
	tr.setError(apperrors.New(apperrors.Transcription, "backend down"))

	sources := []*fakeSource{srcA, srcB}
	var next int
	var mu sync.Mutex
	factory := func(sampleRate, frameSize int) (Source, error) {
		mu.Lock()
		defer mu.Unlock()
		s := sources[next]
		next++
		return s, nil
	}
	m := NewManager(factory, tr, testConfig())

	idA := m.Create(Config{})
	idB := m.Create(Config{})
	if err := m.Start(context.Background(), idA); err != nil {
		t.Fatalf("Start(A) = %v", err)
	}
	if err := m.Start(context.Background(), idB); err != nil {
		t.Fatalf("Start(B) = %v", err)
	}

	srcA.frames <- speechFrame()

	if !waitFor(t, 2*time.Second, func() bool {
		snap, _ := m.Get(idA)
		return snap.Stats.ErrorCount == 1
	}) {
		t.Fatal("session A error not counted")
	}

	snapB, _ := m.Get(idB)
	if snapB.Stats.ErrorCount != 0 {
		t.Errorf("session B ErrorCount = %d, want 0", snapB.Stats.ErrorCount)
	}

	_ = m.Stop(idA)
	_ = m.Stop(idB)
}

func TestBelowThresholdResultDropped(t *testing.T) {
	src := newFakeSource()
	tr := newFakeTranscriber()
	tr.setResult(transcribe.Result{Text: "mumble", Confidence: 0.2, IsFinal: true})
	m := newTestManager(src, tr)

	id := m.Create(Config{})
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	src.frames <- speechFrame()

	if !waitFor(t, 2*time.Second, func() bool { return tr.callCount() == 1 }) {
		t.Fatal("transcriber was not called")
	}
	time.Sleep(20 * time.Millisecond)

	snap, _ := m.Get(id)
	if len(snap.Transcripts) != 0 {
		t.Errorf("transcripts = %d, want 0 (below threshold is dropped)", len(snap.Transcripts))
	}
	if snap.Stats.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, want 0 (a dropped result is not an error)", snap.Stats.ErrorCount)
	}
	_ = m.Stop(id)
}

func TestTranscriptionHandleLifecycle(t *testing.T) {
	src := newFakeSource()
	tr := newFakeTranscriber()
	m := newTestManager(src, tr)

	id := m.Create(Config{})
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	src.frames <- speechFrame()
	src.frames <- speechFrame()

	if !waitFor(t, 2*time.Second, func() bool { return tr.callCount() == 2 }) {
		t.Fatal("transcriber not called twice")
	}

	tr.mu.Lock()
	started := len(tr.started)
	tr.mu.Unlock()
	if started != 1 {
		t.Errorf("sub-sessions opened = %d, want 1 (lazy, reused)", started)
	}

	_ = m.Stop(id)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.stopped) != 1 || tr.stopped[0] != tr.started[0] {
		t.Errorf("stopped handles = %v, want the opened handle %v", tr.stopped, tr.started)
	}
}

func TestDownwardCrossings(t *testing.T) {
	tests := []struct {
		name        string
		confidences []float64
		want        int
	}{
		{"empty", nil, 0},
		{"all above", []float64{0.9, 0.8, 0.7}, 0},
		{"one drop", []float64{0.9, 0.2}, 1},
		{"drop and recover and drop", []float64{0.9, 0.2, 0.8, 0.1}, 2},
		{"starts below", []float64{0.2, 0.9}, 0},
		{"stays below", []float64{0.2, 0.1}, 0},
	}

	for _, tt := range tests {
		if got := downwardCrossings(tt.confidences, 0.5); got != tt.want {
			t.Errorf("%s: downwardCrossings = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestStatisticsDurationsConsistent(t *testing.T) {
	src := newFakeSource()
	tr := newFakeTranscriber()
	m := newTestManager(src, tr)

	id := m.Create(Config{})
	if err := m.Start(context.Background(), id); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	src.frames <- speechFrame()
	src.frames <- silenceFrame()

	if !waitFor(t, 2*time.Second, func() bool { return tr.callCount() == 1 }) {
		t.Fatal("frame not processed")
	}
	_ = m.Stop(id)

	snap, _ := m.Get(id)
	s := snap.Stats
	if s.TotalDuration <= 0 {
		t.Error("TotalDuration should be positive after stop")
	}
	// Frame time is synthetic, wall clock is real; only the invariant that
	// classified time does not exceed total by more than a frame holds.
	frameDur := time.Duration(float64(DefaultFrameSize) / 16000 * float64(time.Second))
	if s.SpeakingDuration+s.SilenceDuration > s.TotalDuration+2*frameDur {
		t.Errorf("speaking %v + silence %v exceeds total %v", s.SpeakingDuration, s.SilenceDuration, s.TotalDuration)
	}
	if s.VoiceActivityRatio < 0 || s.VoiceActivityRatio > 1 {
		t.Errorf("VoiceActivityRatio = %f, want within [0, 1]", s.VoiceActivityRatio)
	}
}
