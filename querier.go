package pgsession

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx execution shared by *pgxpool.Pool and pgx.Tx.
// It lets the same query code run against the pool or inside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Querier defines the database operations Store depends on.
// Following Go best practices: interfaces are defined by the consumer,
// not the provider. This allows Store to depend on abstraction rather
// than concrete implementation, improving testability.
//
// Delete operations return the number of rows removed so the caller can
// distinguish "deleted" from "was never there".
type Querier interface {
	// Session operations
	InsertSession(ctx context.Context, sess Session) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	UpdateSession(ctx context.Context, sess Session) (Session, error)
	DeleteSession(ctx context.Context, sessionID string) (int64, error)

	// Agent operations
	InsertAgent(ctx context.Context, agent Agent) (Agent, error)
	GetAgent(ctx context.Context, sessionID, agentID string) (Agent, error)
	UpdateAgent(ctx context.Context, agent Agent) (Agent, error)
	DeleteAgent(ctx context.Context, sessionID, agentID string) (int64, error)
	ListAgents(ctx context.Context, sessionID string) ([]Agent, error)
	LockAgent(ctx context.Context, sessionID, agentID string) error
	TouchAgent(ctx context.Context, sessionID, agentID string) error

	// Message operations
	InsertMessage(ctx context.Context, msg Message) (Message, error)
	GetMessage(ctx context.Context, sessionID, agentID string, messageID int) (Message, error)
	UpdateMessage(ctx context.Context, msg Message) (Message, error)
	DeleteMessage(ctx context.Context, sessionID, agentID string, messageID int) (int64, error)
	ListMessages(ctx context.Context, sessionID, agentID string, limit, offset int) ([]Message, error)
	MaxMessageID(ctx context.Context, sessionID, agentID string) (int, error)
}

// pgQuerier implements Querier against a pgx connection or transaction.
// Table names are validated identifiers (see Tables.validate), so
// interpolating them into statements is safe.
type pgQuerier struct {
	db     DBTX
	tables Tables
}

func newQuerier(db DBTX, tables Tables) *pgQuerier {
	return &pgQuerier{db: db, tables: tables}
}

func (q *pgQuerier) InsertSession(ctx context.Context, sess Session) (Session, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, session_type)
		VALUES ($1, $2)
		RETURNING session_id, session_type, created_at, updated_at`,
		q.tables.Sessions)

	return scanSession(q.db.QueryRow(ctx, query, sess.SessionID, sess.SessionType))
}

func (q *pgQuerier) GetSession(ctx context.Context, sessionID string) (Session, error) {
	query := fmt.Sprintf(`
		SELECT session_id, session_type, created_at, updated_at
		FROM %s
		WHERE session_id = $1`,
		q.tables.Sessions)

	return scanSession(q.db.QueryRow(ctx, query, sessionID))
}

func (q *pgQuerier) UpdateSession(ctx context.Context, sess Session) (Session, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET session_type = $2, updated_at = now()
		WHERE session_id = $1
		RETURNING session_id, session_type, created_at, updated_at`,
		q.tables.Sessions)

	return scanSession(q.db.QueryRow(ctx, query, sess.SessionID, sess.SessionType))
}

func (q *pgQuerier) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, q.tables.Sessions)

	tag, err := q.db.Exec(ctx, query, sessionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *pgQuerier) InsertAgent(ctx context.Context, agent Agent) (Agent, error) {
	state, err := marshalDocument(agent.State, false)
	if err != nil {
		return Agent{}, fmt.Errorf("marshal state: %w", err)
	}
	cmState, err := marshalDocument(agent.ConversationManagerState, false)
	if err != nil {
		return Agent{}, fmt.Errorf("marshal conversation manager state: %w", err)
	}
	internal, err := marshalDocument(agent.InternalState, true)
	if err != nil {
		return Agent{}, fmt.Errorf("marshal internal state: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, agent_id, state, conversation_manager_state, internal_state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING session_id, agent_id, state, conversation_manager_state, internal_state, created_at, updated_at`,
		q.tables.Agents)

	return scanAgent(q.db.QueryRow(ctx, query, agent.SessionID, agent.AgentID, state, cmState, internal))
}

func (q *pgQuerier) GetAgent(ctx context.Context, sessionID, agentID string) (Agent, error) {
	query := fmt.Sprintf(`
		SELECT session_id, agent_id, state, conversation_manager_state, internal_state, created_at, updated_at
		FROM %s
		WHERE session_id = $1 AND agent_id = $2`,
		q.tables.Agents)

	return scanAgent(q.db.QueryRow(ctx, query, sessionID, agentID))
}

func (q *pgQuerier) UpdateAgent(ctx context.Context, agent Agent) (Agent, error) {
	state, err := marshalDocument(agent.State, false)
	if err != nil {
		return Agent{}, fmt.Errorf("marshal state: %w", err)
	}
	cmState, err := marshalDocument(agent.ConversationManagerState, false)
	if err != nil {
		return Agent{}, fmt.Errorf("marshal conversation manager state: %w", err)
	}
	internal, err := marshalDocument(agent.InternalState, true)
	if err != nil {
		return Agent{}, fmt.Errorf("marshal internal state: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET state = $3, conversation_manager_state = $4, internal_state = $5, updated_at = now()
		WHERE session_id = $1 AND agent_id = $2
		RETURNING session_id, agent_id, state, conversation_manager_state, internal_state, created_at, updated_at`,
		q.tables.Agents)

	return scanAgent(q.db.QueryRow(ctx, query, agent.SessionID, agent.AgentID, state, cmState, internal))
}

func (q *pgQuerier) DeleteAgent(ctx context.Context, sessionID, agentID string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1 AND agent_id = $2`, q.tables.Agents)

	tag, err := q.db.Exec(ctx, query, sessionID, agentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *pgQuerier) ListAgents(ctx context.Context, sessionID string) ([]Agent, error) {
	query := fmt.Sprintf(`
		SELECT session_id, agent_id, state, conversation_manager_state, internal_state, created_at, updated_at
		FROM %s
		WHERE session_id = $1
		ORDER BY created_at, agent_id`,
		q.tables.Agents)

	rows, err := q.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := make([]Agent, 0)
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// LockAgent acquires a row-level lock on the agent, serializing writers
// for the duration of the enclosing transaction. Returns pgx.ErrNoRows
// if the agent does not exist.
func (q *pgQuerier) LockAgent(ctx context.Context, sessionID, agentID string) error {
	query := fmt.Sprintf(`
		SELECT agent_id FROM %s
		WHERE session_id = $1 AND agent_id = $2
		FOR UPDATE`,
		q.tables.Agents)

	var id string
	return q.db.QueryRow(ctx, query, sessionID, agentID).Scan(&id)
}

func (q *pgQuerier) TouchAgent(ctx context.Context, sessionID, agentID string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET updated_at = now()
		WHERE session_id = $1 AND agent_id = $2`,
		q.tables.Agents)

	_, err := q.db.Exec(ctx, query, sessionID, agentID)
	return err
}

func (q *pgQuerier) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	content, err := marshalDocument(msg.Message, false)
	if err != nil {
		return Message{}, fmt.Errorf("marshal message: %w", err)
	}
	redacted, err := marshalDocument(msg.RedactMessage, true)
	if err != nil {
		return Message{}, fmt.Errorf("marshal redact message: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, agent_id, message_id, message, redact_message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING session_id, agent_id, message_id, message, redact_message, created_at, updated_at`,
		q.tables.Messages)

	return scanMessage(q.db.QueryRow(ctx, query, msg.SessionID, msg.AgentID, msg.MessageID, content, redacted))
}

func (q *pgQuerier) GetMessage(ctx context.Context, sessionID, agentID string, messageID int) (Message, error) {
	query := fmt.Sprintf(`
		SELECT session_id, agent_id, message_id, message, redact_message, created_at, updated_at
		FROM %s
		WHERE session_id = $1 AND agent_id = $2 AND message_id = $3`,
		q.tables.Messages)

	return scanMessage(q.db.QueryRow(ctx, query, sessionID, agentID, messageID))
}

func (q *pgQuerier) UpdateMessage(ctx context.Context, msg Message) (Message, error) {
	content, err := marshalDocument(msg.Message, false)
	if err != nil {
		return Message{}, fmt.Errorf("marshal message: %w", err)
	}
	redacted, err := marshalDocument(msg.RedactMessage, true)
	if err != nil {
		return Message{}, fmt.Errorf("marshal redact message: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET message = $4, redact_message = $5, updated_at = now()
		WHERE session_id = $1 AND agent_id = $2 AND message_id = $3
		RETURNING session_id, agent_id, message_id, message, redact_message, created_at, updated_at`,
		q.tables.Messages)

	return scanMessage(q.db.QueryRow(ctx, query, msg.SessionID, msg.AgentID, msg.MessageID, content, redacted))
}

func (q *pgQuerier) DeleteMessage(ctx context.Context, sessionID, agentID string, messageID int) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE session_id = $1 AND agent_id = $2 AND message_id = $3`,
		q.tables.Messages)

	tag, err := q.db.Exec(ctx, query, sessionID, agentID, messageID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *pgQuerier) ListMessages(ctx context.Context, sessionID, agentID string, limit, offset int) ([]Message, error) {
	query := fmt.Sprintf(`
		SELECT session_id, agent_id, message_id, message, redact_message, created_at, updated_at
		FROM %s
		WHERE session_id = $1 AND agent_id = $2
		ORDER BY message_id`,
		q.tables.Messages)
	args := []any{sessionID, agentID}

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MaxMessageID returns the highest message index for the agent, or -1
// when the agent has no messages yet.
func (q *pgQuerier) MaxMessageID(ctx context.Context, sessionID, agentID string) (int, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(MAX(message_id), -1)
		FROM %s
		WHERE session_id = $1 AND agent_id = $2`,
		q.tables.Messages)

	var maxID int
	err := q.db.QueryRow(ctx, query, sessionID, agentID).Scan(&maxID)
	return maxID, err
}

// marshalDocument serializes a document for a JSONB parameter.
// For nullable columns a nil document becomes SQL NULL; for NOT NULL
// columns it becomes an empty object, matching the schema defaults.
func marshalDocument(doc Document, nullable bool) (any, error) {
	if doc == nil {
		if nullable {
			return nil, nil
		}
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// unmarshalDocument deserializes a JSONB column value. A NULL column
// yields a nil document.
func unmarshalDocument(raw []byte) (Document, error) {
	if raw == nil {
		return nil, nil
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(&sess.SessionID, &sess.SessionType, &sess.CreatedAt, &sess.UpdatedAt)
	return sess, err
}

func scanAgent(row pgx.Row) (Agent, error) {
	var (
		agent               Agent
		state, cm, internal []byte
	)
	if err := row.Scan(&agent.SessionID, &agent.AgentID, &state, &cm, &internal,
		&agent.CreatedAt, &agent.UpdatedAt); err != nil {
		return Agent{}, err
	}

	var err error
	if agent.State, err = unmarshalDocument(state); err != nil {
		return Agent{}, err
	}
	if agent.ConversationManagerState, err = unmarshalDocument(cm); err != nil {
		return Agent{}, err
	}
	if agent.InternalState, err = unmarshalDocument(internal); err != nil {
		return Agent{}, err
	}
	return agent, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		msg               Message
		content, redacted []byte
	)
	if err := row.Scan(&msg.SessionID, &msg.AgentID, &msg.MessageID, &content, &redacted,
		&msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return Message{}, err
	}

	var err error
	if msg.Message, err = unmarshalDocument(content); err != nil {
		return Message{}, err
	}
	if msg.RedactMessage, err = unmarshalDocument(redacted); err != nil {
		return Message{}, err
	}
	return msg, nil
}
