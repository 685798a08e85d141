// Package engine implements the conversation synchronization core: the
// ordered message log for the active session, the request lifecycle state
// machine, edit resubmission, and reconciliation against server history.
package engine

import (
	"time"

	"github.com/devbot/devbotctl/internal/devbot"
)

// Role distinguishes the two sides of a conversation turn.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// ErrorMarker is the synthetic reply appended when a turn fails, so the user
// is never left staring at a perpetually pending turn.
const ErrorMarker = "⚠️ Error getting response."

// Attachment references a local file to be uploaded alongside a prompt.
type Attachment struct {
	Name string
	Path string
}

// Message is one entry in the conversation log. Identity is positional: the
// log is a projection of server history, not a store of stable IDs.
type Message struct {
	Role       Role
	Content    string
	Attachment *Attachment
}

// Session is a server-identified conversation. ID zero marks a provisional
// session that has not been created on the backend yet.
type Session struct {
	ID        int64
	Title     string
	CreatedAt time.Time
}

// Provisional reports whether the session has not been persisted yet.
func (s Session) Provisional() bool {
	return s.ID == 0
}

func sessionFromMeta(meta devbot.ChatMeta) Session {
	return Session{
		ID:        meta.ID,
		Title:     meta.Title,
		CreatedAt: meta.CreatedAt.Time,
	}
}

// historyToMessages maps backend roles onto Sender/Receiver. Anything that is
// not the user is treated as the receiving side.
func historyToMessages(history []devbot.HistoryMessage) []Message {
	if len(history) == 0 {
		return nil
	}
	messages := make([]Message, 0, len(history))
	for _, item := range history {
		role := RoleReceiver
		if item.Role == "user" {
			role = RoleSender
		}
		messages = append(messages, Message{Role: role, Content: item.Content})
	}
	return messages
}
