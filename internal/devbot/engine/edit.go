package engine

import (
	"context"
	"strings"
)

// EditAndResubmit rewrites the Sender message at index, drops everything
// downstream of it, and re-drives the turn with the new text. A stale reply
// must never survive an edited prompt, so truncation happens before the
// resubmission is issued. Valid only while the lifecycle is Idle and only for
// Sender messages.
func (e *Engine) EditAndResubmit(ctx context.Context, index int, newText string) error {
	newText = strings.TrimSpace(newText)

	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrRequestInFlight
	}
	if newText == "" {
		e.mu.Unlock()
		return ErrNothingToSubmit
	}
	msg, ok := e.log.At(index)
	if !ok || msg.Role != RoleSender {
		e.mu.Unlock()
		return ErrNotEditable
	}
	e.log.Replace(index, Message{Role: RoleSender, Content: newText})
	e.log.TruncateAfter(index)
	e.mu.Unlock()

	// The edited Sender message is already in place at index; the resubmission
	// must not append a second one.
	return e.submitTurn(ctx, newText, nil, false)
}
