package engine

import "iter"

// MessageLog is the ordered sequence of turns for the active session. It is
// append-only except for the single truncation operation used by edit
// resubmission. The log is not safe for concurrent use; the Engine serializes
// access to it.
type MessageLog struct {
	messages []Message
}

// NewMessageLog returns an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{}
}

// Append adds a message to the end of the log. Order equals call order.
func (l *MessageLog) Append(msg Message) {
	l.messages = append(l.messages, msg)
}

// Replace overwrites the message at index in place. It reports false when the
// index is out of bounds.
func (l *MessageLog) Replace(index int, msg Message) bool {
	if index < 0 || index >= len(l.messages) {
		return false
	}
	l.messages[index] = msg
	return true
}

// TruncateAfter removes every message strictly after index. An out-of-bounds
// index is a no-op.
func (l *MessageLog) TruncateAfter(index int) {
	if index < 0 || index >= len(l.messages) {
		return
	}
	l.messages = l.messages[:index+1]
}

// Reset replaces the whole log with the provided messages.
func (l *MessageLog) Reset(messages []Message) {
	l.messages = append(l.messages[:0:0], messages...)
}

// At returns the message at index.
func (l *MessageLog) At(index int) (Message, bool) {
	if index < 0 || index >= len(l.messages) {
		return Message{}, false
	}
	return l.messages[index], true
}

// Last returns the final message in the log.
func (l *MessageLog) Last() (Message, bool) {
	if len(l.messages) == 0 {
		return Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// Len returns the number of messages in the log.
func (l *MessageLog) Len() int {
	return len(l.messages)
}

// Snapshot returns a copy of the log safe to hand to renderers.
func (l *MessageLog) Snapshot() []Message {
	if len(l.messages) == 0 {
		return nil
	}
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// All iterates the messages in order without copying or mutating.
func (l *MessageLog) All() iter.Seq2[int, Message] {
	return func(yield func(int, Message) bool) {
		for i, msg := range l.messages {
			if !yield(i, msg) {
				return
			}
		}
	}
}
