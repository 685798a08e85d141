package engine

import (
	"context"
	"log/slog"
)

// Reconcile replaces the local log with the authoritative server history for
// the active session. It runs on session selection and after completed turns.
// A pending optimistic Sender message (a turn the backend has not
// acknowledged yet) is preserved on top of the fetched prefix rather than
// dropped; running reconcile twice with no intervening mutation yields the
// same log.
func (e *Engine) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	if e.session == nil || e.session.Provisional() {
		e.mu.Unlock()
		return nil
	}
	sessionID := e.session.ID
	e.mu.Unlock()

	history, err := e.backend.ChatHistory(ctx, sessionID)
	if err != nil {
		return transportErr(err)
	}
	fetched := historyToMessages(history)

	e.mu.Lock()
	defer e.mu.Unlock()

	// The user may have switched away while the fetch was in flight; this
	// history no longer belongs in the active log.
	if e.session == nil || e.session.ID != sessionID {
		return nil
	}

	if last, ok := e.log.Last(); ok && last.Role == RoleSender {
		if !endsWithSender(fetched, last) {
			fetched = append(fetched, last)
		}
	}
	e.log.Reset(fetched)

	e.logger.LogAttrs(ctx, slog.LevelDebug, "history reconciled",
		slog.Int64("session_id", sessionID),
		slog.Int("messages", len(fetched)))
	return nil
}

// endsWithSender reports whether the fetched history already confirms the
// local pending Sender message, in which case re-appending it would
// duplicate the turn.
func endsWithSender(messages []Message, pending Message) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	return last.Role == RoleSender && last.Content == pending.Content
}
