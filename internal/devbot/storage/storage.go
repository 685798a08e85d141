// Package storage persists local transcripts of completed turns so a user
// can grep past conversations without the server.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devbot/devbotctl/internal/config"
	"github.com/devbot/devbotctl/internal/devbot/engine"
)

const (
	defaultDirPerm  = 0o700
	defaultFilePerm = 0o600

	metadataFileName   = "metadata.json"
	transcriptFileName = "transcript.jsonl"
)

// Options describe the properties known at the time a recorder is created.
type Options struct {
	SessionTitle   string
	SessionCreated time.Time
	CLIVersion     string
}

// Metadata captures high-level information about a stored session transcript.
type Metadata struct {
	SessionID        int64      `json:"session_id"`
	SessionTitle     string     `json:"session_title,omitempty"`
	SessionCreatedAt *time.Time `json:"session_created_at,omitempty"`
	RecorderCreated  time.Time  `json:"recorder_created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	TurnCount        int64      `json:"turn_count"`
	CLIVersion       string     `json:"cli_version,omitempty"`
}

// Entry is a single transcript line: one side of one completed turn.
type Entry struct {
	Sequence   int64     `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Attachment string    `json:"attachment,omitempty"`
}

// TranscriptRecorder manages on-disk persistence for one session's turns.
// It implements engine.TurnRecorder.
type TranscriptRecorder struct {
	sessionID int64
	version   string
	dir       string

	metaPath       string
	transcriptPath string

	mu       sync.Mutex
	metadata Metadata
	sequence int64
}

// NewTranscriptRecorder constructs or reopens a recorder for the session.
func NewTranscriptRecorder(sessionID int64, opts Options) (*TranscriptRecorder, error) {
	if sessionID <= 0 {
		return nil, errors.New("session id must be positive")
	}

	baseDir, err := config.GetDefaultConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	sessionDir := filepath.Join(baseDir, "sessions", strconv.FormatInt(sessionID, 10))
	if err := os.MkdirAll(sessionDir, defaultDirPerm); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	r := &TranscriptRecorder{
		sessionID:      sessionID,
		version:        strings.TrimSpace(opts.CLIVersion),
		dir:            sessionDir,
		metaPath:       filepath.Join(sessionDir, metadataFileName),
		transcriptPath: filepath.Join(sessionDir, transcriptFileName),
	}

	meta, err := r.loadMetadata()
	if err != nil {
		return nil, err
	}

	if meta.SessionID == 0 {
		meta.SessionID = sessionID
	}
	if meta.RecorderCreated.IsZero() {
		meta.RecorderCreated = time.Now().UTC()
	}
	if opts.SessionTitle != "" {
		meta.SessionTitle = opts.SessionTitle
	}
	if !opts.SessionCreated.IsZero() {
		created := opts.SessionCreated.UTC()
		meta.SessionCreatedAt = &created
	}
	if r.version != "" {
		meta.CLIVersion = r.version
	}
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = meta.RecorderCreated
	}

	r.metadata = meta
	r.sequence = meta.TurnCount * 2
	if err := r.saveMetadataLocked(); err != nil {
		return nil, err
	}

	return r, nil
}

// Directory exposes the path used for session persistence.
func (r *TranscriptRecorder) Directory() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// RecordTurn appends the sender and receiver sides of a completed turn and
// refreshes the stored session title.
func (r *TranscriptRecorder) RecordTurn(session engine.Session, sender, receiver engine.Message) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if session.ID != r.sessionID {
		return fmt.Errorf("turn for session %d recorded against session %d", session.ID, r.sessionID)
	}

	now := time.Now().UTC()
	for _, msg := range []engine.Message{sender, receiver} {
		r.sequence++
		entry := Entry{
			Sequence:  r.sequence,
			Timestamp: now,
			Role:      string(msg.Role),
			Content:   msg.Content,
		}
		if msg.Attachment != nil {
			entry.Attachment = msg.Attachment.Name
		}
		payload, err := json.Marshal(entry)
		if err != nil {
			r.sequence--
			return fmt.Errorf("marshal transcript entry: %w", err)
		}
		if err := appendLine(r.transcriptPath, payload); err != nil {
			r.sequence--
			return err
		}
	}

	r.metadata.TurnCount++
	if title := strings.TrimSpace(session.Title); title != "" {
		r.metadata.SessionTitle = title
	}
	r.metadata.UpdatedAt = now
	return r.saveMetadataLocked()
}

// SetSessionInfo updates the stored metadata with the latest session details.
func (r *TranscriptRecorder) SetSessionInfo(title string, createdAt time.Time) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := false
	if trimmed := strings.TrimSpace(title); trimmed != "" && trimmed != r.metadata.SessionTitle {
		r.metadata.SessionTitle = trimmed
		updated = true
	}
	if !createdAt.IsZero() {
		utc := createdAt.UTC()
		if r.metadata.SessionCreatedAt == nil || !r.metadata.SessionCreatedAt.Equal(utc) {
			r.metadata.SessionCreatedAt = &utc
			updated = true
		}
	}

	if !updated {
		return nil
	}
	r.metadata.UpdatedAt = time.Now().UTC()
	return r.saveMetadataLocked()
}

func (r *TranscriptRecorder) loadMetadata() (Metadata, error) {
	raw, err := os.ReadFile(r.metaPath)
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

func (r *TranscriptRecorder) saveMetadataLocked() error {
	raw, err := json.MarshalIndent(r.metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return writeAtomic(r.metaPath, raw, defaultFilePerm)
}

func appendLine(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return fmt.Errorf("ensure transcript directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, defaultFilePerm)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync transcript: %w", err)
	}
	return nil
}

func writeAtomic(path string, payload []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return fmt.Errorf("ensure metadata directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp metadata: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp metadata: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp metadata: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace metadata: %w", err)
	}
	return nil
}
