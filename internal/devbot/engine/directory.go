package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTitleInterval is how often a placeholder title is re-checked
	// while auto-naming has not completed server-side.
	DefaultTitleInterval = 2 * time.Second

	// DefaultTitleAttempts bounds the title watch; giving up is not an error,
	// the placeholder simply stays.
	DefaultTitleAttempts = 30
)

// Directory is the client-side view of the session list. The backend owns
// session existence; the directory caches what it last saw and keeps the
// cache aligned with every successful mutation. Failed mutations leave the
// cache untouched so the next reconciliation starts from truth.
type Directory struct {
	backend Backend
	logger  *slog.Logger

	titleInterval time.Duration
	titleAttempts int

	mu       sync.Mutex
	sessions []Session
}

// NewDirectory constructs a Directory over the given backend.
func NewDirectory(backend Backend, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Directory{
		backend:       backend,
		logger:        logger,
		titleInterval: DefaultTitleInterval,
		titleAttempts: DefaultTitleAttempts,
	}
}

// List fetches the session list, most recent first, and refreshes the cache.
func (d *Directory) List(ctx context.Context) ([]Session, error) {
	metas, err := d.backend.ListChats(ctx)
	if err != nil {
		return nil, transportErr(err)
	}
	sessions := make([]Session, 0, len(metas))
	for _, meta := range metas {
		sessions = append(sessions, sessionFromMeta(meta))
	}

	d.mu.Lock()
	d.sessions = sessions
	d.mu.Unlock()

	return append([]Session(nil), sessions...), nil
}

// Cached returns the last fetched session list without touching the network.
func (d *Directory) Cached() []Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Session(nil), d.sessions...)
}

// Create makes a new session on the backend and prepends it to the cache.
func (d *Directory) Create(ctx context.Context, title string) (Session, error) {
	meta, err := d.backend.CreateChat(ctx, title)
	if err != nil {
		return Session{}, transportErr(err)
	}
	sess := sessionFromMeta(meta)
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}

	d.mu.Lock()
	d.sessions = append([]Session{sess}, d.sessions...)
	d.mu.Unlock()

	d.logger.LogAttrs(ctx, slog.LevelInfo, "session created",
		slog.Int64("session_id", sess.ID),
		slog.String("title", sess.Title))
	return sess, nil
}

// Rename forwards to the backend and updates the cache only on success.
func (d *Directory) Rename(ctx context.Context, id int64, newTitle string) error {
	if err := d.backend.RenameChat(ctx, id, newTitle); err != nil {
		return transportErr(err)
	}
	d.noteTitle(id, newTitle)
	return nil
}

// Delete forwards to the backend and drops the cache entry only on success.
func (d *Directory) Delete(ctx context.Context, id int64) error {
	if err := d.backend.DeleteChat(ctx, id); err != nil {
		return transportErr(err)
	}

	d.mu.Lock()
	kept := d.sessions[:0]
	for _, sess := range d.sessions {
		if sess.ID != id {
			kept = append(kept, sess)
		}
	}
	d.sessions = kept
	d.mu.Unlock()

	return nil
}

// Models lists the model names the backend currently serves.
func (d *Directory) Models(ctx context.Context) ([]string, error) {
	models, err := d.backend.Models(ctx)
	if err != nil {
		return nil, transportErr(err)
	}
	return models, nil
}

// Title fetches the current server-side title for a session.
func (d *Directory) Title(ctx context.Context, id int64) (string, error) {
	title, err := d.backend.ChatTitle(ctx, id)
	if err != nil {
		return "", transportErr(err)
	}
	d.noteTitle(id, title)
	return title, nil
}

// WatchTitle polls the backend while a session still carries the placeholder
// title, returning as soon as auto-naming lands. It stops on context
// cancellation (the caller cancels when the session is deselected) or when
// the attempt budget runs out, in which case the placeholder is returned.
func (d *Directory) WatchTitle(ctx context.Context, id int64, placeholder string) (string, error) {
	ticker := time.NewTicker(d.titleInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= d.titleAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return placeholder, ctx.Err()
		case <-ticker.C:
		}

		title, err := d.Title(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return placeholder, ctx.Err()
			}
			return placeholder, err
		}
		if title != "" && title != placeholder {
			d.logger.LogAttrs(ctx, slog.LevelDebug, "session title resolved",
				slog.Int64("session_id", id),
				slog.String("title", title),
				slog.Int("attempts", attempt))
			return title, nil
		}
	}
	return placeholder, nil
}

// noteTitle refreshes a cache entry after a completed turn or rename. An
// empty title only bumps recency knowledge, it never blanks the entry.
func (d *Directory) noteTitle(id int64, title string) {
	if id == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.sessions {
		if d.sessions[i].ID == id {
			if title != "" {
				d.sessions[i].Title = title
			}
			return
		}
	}
}
