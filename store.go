package pgsession

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists sessions, agents, and messages in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines and multiple
// processes sharing the same database. Every mutation executes in a
// single transaction; partial writes are never observable.
type Store struct {
	q      Querier
	pool   *pgxpool.Pool // for multi-statement transactions, can be nil in unit tests
	tables Tables
	logger *slog.Logger
}

// New creates a Store over the given connection pool.
//
// Example:
//
//	pool, err := pgxpool.New(ctx, connString)
//	if err != nil { ... }
//	store, err := pgsession.New(pool, pgsession.WithLogger(logger))
func New(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	s := &Store{
		pool:   pool,
		tables: DefaultTables(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.tables.validate(); err != nil {
		return nil, err
	}
	s.q = newQuerier(pool, s.tables)

	return s, nil
}

// CreateSession inserts a new session and returns the persisted record
// with server-assigned timestamps. Fails with ErrDuplicateKey if the
// session key already exists; the existing row is left unchanged.
func (s *Store) CreateSession(ctx context.Context, sess Session) (Session, error) {
	created, err := s.q.InsertSession(ctx, sess)
	if err != nil {
		return Session{}, fmt.Errorf("create session %q: %w", sess.SessionID, classify(err))
	}

	s.logger.Debug("created session", "session_id", created.SessionID, "session_type", created.SessionType)
	return created, nil
}

// ReadSession returns the session or ErrNotFound.
func (s *Store) ReadSession(ctx context.Context, sessionID string) (Session, error) {
	sess, err := s.q.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("read session %q: %w", sessionID, classify(err))
	}
	return sess, nil
}

// UpdateSession updates the session's mutable fields and refreshes
// updated_at. Concurrent updates resolve by commit order (last writer
// wins). Fails with ErrNotFound if the key is absent.
func (s *Store) UpdateSession(ctx context.Context, sess Session) (Session, error) {
	updated, err := s.q.UpdateSession(ctx, sess)
	if err != nil {
		return Session{}, fmt.Errorf("update session %q: %w", sess.SessionID, classify(err))
	}

	s.logger.Debug("updated session", "session_id", updated.SessionID)
	return updated, nil
}

// DeleteSession deletes the session and, via ON DELETE CASCADE, every
// agent and message it owns, all in one transaction. A second delete of
// the same key fails with ErrNotFound.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	deleted, err := s.q.DeleteSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("delete session %q: %w", sessionID, classify(err))
	}
	if deleted == 0 {
		return fmt.Errorf("delete session %q: %w", sessionID, ErrNotFound)
	}

	s.logger.Debug("deleted session", "session_id", sessionID)
	return nil
}

// CreateAgent inserts a new agent under an existing session. Fails with
// ErrNotFound if the parent session does not exist (foreign-key
// violation) and ErrDuplicateKey on key collision.
func (s *Store) CreateAgent(ctx context.Context, agent Agent) (Agent, error) {
	created, err := s.q.InsertAgent(ctx, agent)
	if err != nil {
		return Agent{}, fmt.Errorf("create agent %q in session %q: %w",
			agent.AgentID, agent.SessionID, classify(err))
	}

	s.logger.Debug("created agent", "session_id", created.SessionID, "agent_id", created.AgentID)
	return created, nil
}

// ReadAgent returns the agent or ErrNotFound.
func (s *Store) ReadAgent(ctx context.Context, sessionID, agentID string) (Agent, error) {
	agent, err := s.q.GetAgent(ctx, sessionID, agentID)
	if err != nil {
		return Agent{}, fmt.Errorf("read agent %q in session %q: %w", agentID, sessionID, classify(err))
	}
	return agent, nil
}

// UpdateAgent replaces the agent's state blobs and refreshes updated_at.
// Last writer wins; no conflict detection is performed.
func (s *Store) UpdateAgent(ctx context.Context, agent Agent) (Agent, error) {
	updated, err := s.q.UpdateAgent(ctx, agent)
	if err != nil {
		return Agent{}, fmt.Errorf("update agent %q in session %q: %w",
			agent.AgentID, agent.SessionID, classify(err))
	}

	s.logger.Debug("updated agent", "session_id", updated.SessionID, "agent_id", updated.AgentID)
	return updated, nil
}

// DeleteAgent deletes the agent and, via ON DELETE CASCADE, its messages.
func (s *Store) DeleteAgent(ctx context.Context, sessionID, agentID string) error {
	deleted, err := s.q.DeleteAgent(ctx, sessionID, agentID)
	if err != nil {
		return fmt.Errorf("delete agent %q in session %q: %w", agentID, sessionID, classify(err))
	}
	if deleted == 0 {
		return fmt.Errorf("delete agent %q in session %q: %w", agentID, sessionID, ErrNotFound)
	}

	s.logger.Debug("deleted agent", "session_id", sessionID, "agent_id", agentID)
	return nil
}

// ListAgents returns all agents belonging to the session in creation
// order. A session with no agents yields an empty slice, not an error.
func (s *Store) ListAgents(ctx context.Context, sessionID string) ([]Agent, error) {
	agents, err := s.q.ListAgents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list agents in session %q: %w", sessionID, classify(err))
	}

	s.logger.Debug("listed agents", "session_id", sessionID, "count", len(agents))
	return agents, nil
}

// CreateMessage inserts a message with a caller-supplied index. Fails
// with ErrNotFound if the parent agent does not exist and
// ErrDuplicateKey if the index is already taken.
func (s *Store) CreateMessage(ctx context.Context, msg Message) (Message, error) {
	created, err := s.q.InsertMessage(ctx, msg)
	if err != nil {
		return Message{}, fmt.Errorf("create message %d for agent %q in session %q: %w",
			msg.MessageID, msg.AgentID, msg.SessionID, classify(err))
	}

	s.logger.Debug("created message",
		"session_id", created.SessionID, "agent_id", created.AgentID, "message_id", created.MessageID)
	return created, nil
}

// ReadMessage returns the message or ErrNotFound.
func (s *Store) ReadMessage(ctx context.Context, sessionID, agentID string, messageID int) (Message, error) {
	msg, err := s.q.GetMessage(ctx, sessionID, agentID, messageID)
	if err != nil {
		return Message{}, fmt.Errorf("read message %d for agent %q in session %q: %w",
			messageID, agentID, sessionID, classify(err))
	}
	return msg, nil
}

// UpdateMessage replaces the message content and redacted variant and
// refreshes updated_at.
func (s *Store) UpdateMessage(ctx context.Context, msg Message) (Message, error) {
	updated, err := s.q.UpdateMessage(ctx, msg)
	if err != nil {
		return Message{}, fmt.Errorf("update message %d for agent %q in session %q: %w",
			msg.MessageID, msg.AgentID, msg.SessionID, classify(err))
	}

	s.logger.Debug("updated message",
		"session_id", updated.SessionID, "agent_id", updated.AgentID, "message_id", updated.MessageID)
	return updated, nil
}

// DeleteMessage removes a single message.
func (s *Store) DeleteMessage(ctx context.Context, sessionID, agentID string, messageID int) error {
	deleted, err := s.q.DeleteMessage(ctx, sessionID, agentID, messageID)
	if err != nil {
		return fmt.Errorf("delete message %d for agent %q in session %q: %w",
			messageID, agentID, sessionID, classify(err))
	}
	if deleted == 0 {
		return fmt.Errorf("delete message %d for agent %q in session %q: %w",
			messageID, agentID, sessionID, ErrNotFound)
	}

	s.logger.Debug("deleted message", "session_id", sessionID, "agent_id", agentID, "message_id", messageID)
	return nil
}

// ListMessages returns the agent's messages ordered by ascending message
// index. A limit <= 0 means no bound; offset skips that many leading
// rows. An empty range yields an empty slice, but a missing agent is
// ErrNotFound. The existence check and the page query share one
// transaction snapshot so the distinction is race-free.
func (s *Store) ListMessages(ctx context.Context, sessionID, agentID string, limit, offset int) ([]Message, error) {
	if offset < 0 {
		offset = 0
	}

	// Without a pool (unit tests with mock queriers) fall back to two
	// sequential queries on the same querier.
	if s.pool == nil {
		return s.listMessagesNonTransactional(ctx, sessionID, agentID, limit, offset)
	}

	// Repeatable read gives both statements one snapshot; the default
	// read-committed level would let an agent deleted between them show
	// up as an empty page instead of ErrNotFound.
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("list messages: begin transaction: %w", classify(err))
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			s.logger.Debug("transaction rollback (may be already committed)", "error", err)
		}
	}()

	txQuerier := newQuerier(tx, s.tables)

	if _, err := txQuerier.GetAgent(ctx, sessionID, agentID); err != nil {
		return nil, fmt.Errorf("list messages for agent %q in session %q: %w",
			agentID, sessionID, classify(err))
	}

	messages, err := txQuerier.ListMessages(ctx, sessionID, agentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages for agent %q in session %q: %w",
			agentID, sessionID, classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("list messages: commit transaction: %w", classify(err))
	}

	s.logger.Debug("listed messages",
		"session_id", sessionID, "agent_id", agentID, "count", len(messages), "limit", limit, "offset", offset)
	return messages, nil
}

func (s *Store) listMessagesNonTransactional(ctx context.Context, sessionID, agentID string, limit, offset int) ([]Message, error) {
	if _, err := s.q.GetAgent(ctx, sessionID, agentID); err != nil {
		return nil, fmt.Errorf("list messages for agent %q in session %q: %w",
			agentID, sessionID, classify(err))
	}

	messages, err := s.q.ListMessages(ctx, sessionID, agentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages for agent %q in session %q: %w",
			agentID, sessionID, classify(err))
	}
	return messages, nil
}

// AppendMessage inserts a message with a repository-assigned index: the
// agent's current highest index plus one, starting at zero. The agent
// row is locked with SELECT ... FOR UPDATE so concurrent appends cannot
// race on the next index, and the agent's updated_at is refreshed in the
// same transaction.
func (s *Store) AppendMessage(ctx context.Context, sessionID, agentID string, content Document) (Message, error) {
	// If pool is nil (testing with mock queriers), use non-transactional mode.
	if s.pool == nil {
		return s.appendMessageNonTransactional(ctx, sessionID, agentID, content)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("append message: begin transaction: %w", classify(err))
	}
	// Rollback is a no-op after a successful commit.
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			s.logger.Debug("transaction rollback (may be already committed)", "error", err)
		}
	}()

	txQuerier := newQuerier(tx, s.tables)

	if err := txQuerier.LockAgent(ctx, sessionID, agentID); err != nil {
		return Message{}, fmt.Errorf("append message for agent %q in session %q: %w",
			agentID, sessionID, classify(err))
	}

	maxID, err := txQuerier.MaxMessageID(ctx, sessionID, agentID)
	if err != nil {
		return Message{}, fmt.Errorf("append message: next index: %w", classify(err))
	}

	created, err := txQuerier.InsertMessage(ctx, Message{
		SessionID: sessionID,
		AgentID:   agentID,
		MessageID: maxID + 1,
		Message:   content,
	})
	if err != nil {
		return Message{}, fmt.Errorf("append message for agent %q in session %q: %w",
			agentID, sessionID, classify(err))
	}

	if err := txQuerier.TouchAgent(ctx, sessionID, agentID); err != nil {
		return Message{}, fmt.Errorf("append message: refresh agent: %w", classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("append message: commit transaction: %w", classify(err))
	}

	s.logger.Debug("appended message",
		"session_id", sessionID, "agent_id", agentID, "message_id", created.MessageID)
	return created, nil
}

// appendMessageNonTransactional assigns the next index without locking.
// Only safe under external synchronization; unit tests with mock
// queriers use this path.
func (s *Store) appendMessageNonTransactional(ctx context.Context, sessionID, agentID string, content Document) (Message, error) {
	if err := s.q.LockAgent(ctx, sessionID, agentID); err != nil {
		return Message{}, fmt.Errorf("append message for agent %q in session %q: %w",
			agentID, sessionID, classify(err))
	}

	maxID, err := s.q.MaxMessageID(ctx, sessionID, agentID)
	if err != nil {
		return Message{}, fmt.Errorf("append message: next index: %w", classify(err))
	}

	created, err := s.q.InsertMessage(ctx, Message{
		SessionID: sessionID,
		AgentID:   agentID,
		MessageID: maxID + 1,
		Message:   content,
	})
	if err != nil {
		return Message{}, fmt.Errorf("append message for agent %q in session %q: %w",
			agentID, sessionID, classify(err))
	}

	if err := s.q.TouchAgent(ctx, sessionID, agentID); err != nil {
		return Message{}, fmt.Errorf("append message: refresh agent: %w", classify(err))
	}

	return created, nil
}
