package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/voicewire/voicewire/internal/errors"
	"github.com/voicewire/voicewire/internal/syncx"
)

// Manager owns the session registry and the event surface. Sessions share
// nothing but the transcription collaborator, which is addressed only
// through per-session handles.
type Manager struct {
	factory     SourceFactory
	transcriber Transcriber
	defaults    Config
	sessions    *syncx.RWGuard[map[string]*Orchestrator]
	events      chan Event
}

// NewManager creates a session manager.
func NewManager(factory SourceFactory, transcriber Transcriber, defaults Config) *Manager {
	return &Manager{
		factory:     factory,
		transcriber: transcriber,
		defaults:    defaults.withDefaults(),
		sessions:    syncx.NewGuard(make(map[string]*Orchestrator)),
		events:      make(chan Event, EventBufferSize),
	}
}

// Events returns the notification channel. Events are dropped with a debug
// log when no consumer keeps up.
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		slog.Debug("event channel full, dropping", "type", ev.Type, "session_id", ev.SessionID)
	}
}

// Create allocates a new session in the Created state and returns its id.
// The manager's default config fills any zero fields.
func (m *Manager) Create(cfg Config) string {
	if cfg.FrameSize <= 0 && cfg.Audio.SampleRate <= 0 {
		cfg = m.defaults
	} else {
		cfg = cfg.withDefaults()
	}

	id := uuid.NewString()
	orch := newOrchestrator(id, cfg, m.factory, m.transcriber, m.emit)
	m.sessions.Write(func(s *map[string]*Orchestrator) {
		(*s)[id] = orch
	})

	slog.Info("session created", "session_id", id)
	return id
}

func (m *Manager) lookup(id string) (*Orchestrator, error) {
	orch, _ := m.sessions.Read(func(s map[string]*Orchestrator) any {
		return s[id]
	}).(*Orchestrator)
	if orch == nil {
		return nil, apperrors.Newf(apperrors.NotFound, "unknown session: %s", id)
	}
	return orch, nil
}

// Start activates a session. Capture acquisition failure is fatal to the
// start; the session stays in Created.
func (m *Manager) Start(ctx context.Context, id string) error {
	orch, err := m.lookup(id)
	if err != nil {
		return err
	}
	return orch.Start(ctx)
}

// Stop halts a session. Stopping a session that is not Active is a no-op.
func (m *Manager) Stop(id string) error {
	orch, err := m.lookup(id)
	if err != nil {
		return err
	}
	orch.Stop()
	return nil
}

// Remove deletes a stopped session from the registry.
func (m *Manager) Remove(id string) error {
	orch, err := m.lookup(id)
	if err != nil {
		return err
	}
	if orch.Status() == Active {
		return apperrors.Newf(apperrors.Configuration, "session %s is active, stop it first", id)
	}
	m.sessions.Write(func(s *map[string]*Orchestrator) {
		delete(*s, id)
	})
	return nil
}

// Get returns a snapshot of one session.
func (m *Manager) Get(id string) (Snapshot, error) {
	orch, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return orch.Snapshot(), nil
}

// List returns snapshots of all known sessions.
func (m *Manager) List() []Snapshot {
	var orchs []*Orchestrator
	m.sessions.Read(func(s map[string]*Orchestrator) any {
		for _, o := range s {
			orchs = append(orchs, o)
		}
		return nil
	})

	snapshots := make([]Snapshot, 0, len(orchs))
	for _, o := range orchs {
		snapshots = append(snapshots, o.Snapshot())
	}
	return snapshots
}

// Aggregate returns global statistics across all sessions.
func (m *Manager) Aggregate() AggregateStats {
	snapshots := m.List()

	agg := AggregateStats{TotalSessions: len(snapshots)}
	var confSum float64
	var confCount int
	for _, s := range snapshots {
		if s.IsActive {
			agg.ActiveCount++
		}
		agg.TotalDuration += s.Stats.TotalDuration
		agg.TotalTranscripts += s.Stats.TranscriptCount
		if s.Stats.TranscriptCount > 0 {
			confSum += s.Stats.AverageConfidence * float64(s.Stats.TranscriptCount)
			confCount += s.Stats.TranscriptCount
		}
	}
	if confCount > 0 {
		agg.MeanConfidence = confSum / float64(confCount)
	}
	return agg
}

// StopAll halts every active session, used during daemon shutdown.
func (m *Manager) StopAll() {
	start := time.Now()
	for _, s := range m.List() {
		if s.IsActive {
			_ = m.Stop(s.ID)
		}
	}
	slog.Info("all sessions stopped", "elapsed", time.Since(start))
}
