package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devbot/devbotctl/internal/devbot/engine"
)

func TestNewTranscriptRecorderInitializesMetadata(t *testing.T) {
	temp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", temp)

	createdAt := time.Date(2026, time.March, 2, 15, 4, 5, 0, time.UTC)
	recorder, err := NewTranscriptRecorder(42, Options{
		SessionTitle:   "Build pipeline",
		SessionCreated: createdAt,
		CLIVersion:     "1.2.3",
	})
	if err != nil {
		t.Fatalf("NewTranscriptRecorder() error = %v", err)
	}

	expectedDir := filepath.Join(temp, "devbotctl", "sessions", "42")
	if got := recorder.Directory(); got != expectedDir {
		t.Fatalf("Directory() = %s, want %s", got, expectedDir)
	}

	raw, err := os.ReadFile(filepath.Join(expectedDir, "metadata.json"))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.SessionID != 42 {
		t.Errorf("SessionID = %d, want 42", meta.SessionID)
	}
	if meta.SessionTitle != "Build pipeline" {
		t.Errorf("SessionTitle = %s, want Build pipeline", meta.SessionTitle)
	}
	if meta.TurnCount != 0 {
		t.Errorf("TurnCount = %d, want 0", meta.TurnCount)
	}
	if meta.SessionCreatedAt == nil || !meta.SessionCreatedAt.Equal(createdAt) {
		t.Fatalf("SessionCreatedAt = %v, want %v", meta.SessionCreatedAt, createdAt)
	}
}

func TestNewTranscriptRecorderRejectsInvalidID(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := NewTranscriptRecorder(0, Options{}); err == nil {
		t.Fatal("expected error for session id 0")
	}
	if _, err := NewTranscriptRecorder(-5, Options{}); err == nil {
		t.Fatal("expected error for negative session id")
	}
}

func TestRecordTurnAppendsBothSides(t *testing.T) {
	temp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", temp)

	recorder, err := NewTranscriptRecorder(7, Options{})
	if err != nil {
		t.Fatalf("NewTranscriptRecorder() error = %v", err)
	}

	session := engine.Session{ID: 7, Title: "Goroutine basics"}
	sender := engine.Message{
		Role:       engine.RoleSender,
		Content:    "explain goroutines",
		Attachment: &engine.Attachment{Name: "notes.pptx", Path: "/tmp/notes.pptx"},
	}
	receiver := engine.Message{Role: engine.RoleReceiver, Content: "Goroutines are..."}

	if err := recorder.RecordTurn(session, sender, receiver); err != nil {
		t.Fatalf("RecordTurn() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(recorder.Directory(), "transcript.jsonl"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}

	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("unmarshal entry: %v", err)
		}
		entries = append(entries, entry)
	}
	if len(entries) != 2 {
		t.Fatalf("transcript has %d entries, want 2", len(entries))
	}
	if entries[0].Role != "sender" || entries[0].Content != "explain goroutines" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[0].Attachment != "notes.pptx" {
		t.Errorf("Attachment = %s, want notes.pptx", entries[0].Attachment)
	}
	if entries[1].Role != "receiver" {
		t.Errorf("second entry role = %s, want receiver", entries[1].Role)
	}
	if entries[0].Sequence != 1 || entries[1].Sequence != 2 {
		t.Errorf("sequences = %d, %d, want 1, 2", entries[0].Sequence, entries[1].Sequence)
	}

	var meta Metadata
	rawMeta, err := os.ReadFile(filepath.Join(recorder.Directory(), "metadata.json"))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.TurnCount != 1 {
		t.Errorf("TurnCount = %d, want 1", meta.TurnCount)
	}
	if meta.SessionTitle != "Goroutine basics" {
		t.Errorf("SessionTitle = %s, want Goroutine basics", meta.SessionTitle)
	}
}

func TestRecordTurnRejectsWrongSession(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	recorder, err := NewTranscriptRecorder(7, Options{})
	if err != nil {
		t.Fatalf("NewTranscriptRecorder() error = %v", err)
	}

	err = recorder.RecordTurn(engine.Session{ID: 9},
		engine.Message{Role: engine.RoleSender, Content: "a"},
		engine.Message{Role: engine.RoleReceiver, Content: "b"})
	if err == nil {
		t.Fatal("expected error recording a turn for another session")
	}
}

func TestRecorderReopenContinuesSequence(t *testing.T) {
	temp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", temp)

	first, err := NewTranscriptRecorder(3, Options{})
	if err != nil {
		t.Fatalf("NewTranscriptRecorder() error = %v", err)
	}
	session := engine.Session{ID: 3, Title: "t"}
	if err := first.RecordTurn(session,
		engine.Message{Role: engine.RoleSender, Content: "one"},
		engine.Message{Role: engine.RoleReceiver, Content: "two"}); err != nil {
		t.Fatalf("RecordTurn() error = %v", err)
	}

	second, err := NewTranscriptRecorder(3, Options{})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if err := second.RecordTurn(session,
		engine.Message{Role: engine.RoleSender, Content: "three"},
		engine.Message{Role: engine.RoleReceiver, Content: "four"}); err != nil {
		t.Fatalf("RecordTurn() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(second.Directory(), "transcript.jsonl"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	var last Entry
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		if err := json.Unmarshal(scanner.Bytes(), &last); err != nil {
			t.Fatalf("unmarshal entry: %v", err)
		}
	}
	if last.Sequence != 4 {
		t.Errorf("last sequence = %d, want 4", last.Sequence)
	}
}

func TestHubSetSessionInfoUpdatesMetadata(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	hub := NewHub("1.2.3")
	session := engine.Session{ID: 9, Title: "New Chat"}

	// No recorder exists yet; nothing to update.
	if err := hub.SetSessionInfo(session); err != nil {
		t.Fatalf("SetSessionInfo() before first turn error = %v", err)
	}

	if err := hub.RecordTurn(session,
		engine.Message{Role: engine.RoleSender, Content: "hi"},
		engine.Message{Role: engine.RoleReceiver, Content: "hello"}); err != nil {
		t.Fatalf("RecordTurn() error = %v", err)
	}

	session.Title = "Greetings"
	session.CreatedAt = time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)
	if err := hub.SetSessionInfo(session); err != nil {
		t.Fatalf("SetSessionInfo() error = %v", err)
	}

	recorder, err := hub.recorderFor(session)
	if err != nil {
		t.Fatalf("recorderFor() error = %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(recorder.Directory(), "metadata.json"))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.SessionTitle != "Greetings" {
		t.Errorf("SessionTitle = %s, want Greetings", meta.SessionTitle)
	}
	if meta.SessionCreatedAt == nil || !meta.SessionCreatedAt.Equal(session.CreatedAt) {
		t.Fatalf("SessionCreatedAt = %v, want %v", meta.SessionCreatedAt, session.CreatedAt)
	}
}
