package storage

import (
	"sync"

	"github.com/devbot/devbotctl/internal/devbot/engine"
)

// Hub fans completed turns out to per-session transcript recorders, creating
// each recorder lazily on the first turn for that session.
type Hub struct {
	version string

	mu        sync.Mutex
	recorders map[int64]*TranscriptRecorder
}

// NewHub constructs a Hub. version is stamped into each session's metadata.
func NewHub(version string) *Hub {
	return &Hub{
		version:   version,
		recorders: make(map[int64]*TranscriptRecorder),
	}
}

// RecordTurn implements engine.TurnRecorder.
func (h *Hub) RecordTurn(session engine.Session, sender, receiver engine.Message) error {
	recorder, err := h.recorderFor(session)
	if err != nil {
		return err
	}
	return recorder.RecordTurn(session, sender, receiver)
}

// SetSessionInfo implements engine.SessionInfoRecorder. Sessions that never
// recorded a turn have no transcript to update and are skipped.
func (h *Hub) SetSessionInfo(session engine.Session) error {
	h.mu.Lock()
	recorder, ok := h.recorders[session.ID]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return recorder.SetSessionInfo(session.Title, session.CreatedAt)
}

func (h *Hub) recorderFor(session engine.Session) (*TranscriptRecorder, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if recorder, ok := h.recorders[session.ID]; ok {
		return recorder, nil
	}
	recorder, err := NewTranscriptRecorder(session.ID, Options{
		SessionTitle:   session.Title,
		SessionCreated: session.CreatedAt,
		CLIVersion:     h.version,
	})
	if err != nil {
		return nil, err
	}
	h.recorders[session.ID] = recorder
	return recorder, nil
}
