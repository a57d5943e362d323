package pgsession

import (
	"time"

	"github.com/google/uuid"
)

// Session type tags assigned by the host framework.
const (
	SessionTypeAgent      = "AGENT"
	SessionTypeMultiAgent = "MULTI_AGENT"
)

// Document is a schemaless JSON payload stored in a JSONB column.
// The store round-trips documents without interpreting their shape.
type Document = map[string]any

// Session represents a top-level conversation context (application-level type).
// The key is caller-supplied; timestamps are assigned by the database.
type Session struct {
	SessionID   string
	SessionType string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Agent represents a participant within a session, identified by the
// composite (session key, agent key). State blobs are stored as JSONB.
type Agent struct {
	SessionID                string
	AgentID                  string
	State                    Document
	ConversationManagerState Document
	InternalState            Document // nil when absent
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// Message represents one ordered entry in an agent's conversation history,
// identified by the composite (session key, agent key, message index).
// Indices are unique per agent but need not be contiguous.
type Message struct {
	SessionID     string
	AgentID       string
	MessageID     int
	Message       Document
	RedactMessage Document // nil when no redacted variant exists
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewSessionID generates a random session key for hosts that do not
// manage their own identifiers.
func NewSessionID() string {
	return uuid.NewString()
}
