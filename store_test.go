package pgsession

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ============================================================================
// Mock Implementations
// ============================================================================

// mockQuerier implements Querier for testing.
type mockQuerier struct {
	// Error configuration
	insertSessionErr error
	getSessionErr    error
	updateSessionErr error
	deleteSessionErr error
	insertAgentErr   error
	getAgentErr      error
	updateAgentErr   error
	deleteAgentErr   error
	listAgentsErr    error
	lockAgentErr     error
	touchAgentErr    error
	insertMessageErr error
	getMessageErr    error
	updateMessageErr error
	deleteMessageErr error
	listMessagesErr  error
	maxMessageIDErr  error

	// Return values
	insertSessionResult Session
	getSessionResult    Session
	updateSessionResult Session
	deleteSessionRows   int64
	insertAgentResult   Agent
	getAgentResult      Agent
	updateAgentResult   Agent
	deleteAgentRows     int64
	listAgentsResult    []Agent
	insertMessageResult Message
	getMessageResult    Message
	updateMessageResult Message
	deleteMessageRows   int64
	listMessagesResult  []Message
	maxMessageIDResult  int

	// Call tracking
	lockAgentCalls  int
	touchAgentCalls int

	lastInsertSession Session
	lastInsertAgent   Agent
	lastInsertMessage Message
	lastListLimit     int
	lastListOffset    int
}

func (m *mockQuerier) InsertSession(ctx context.Context, sess Session) (Session, error) {
	m.lastInsertSession = sess
	if m.insertSessionErr != nil {
		return Session{}, m.insertSessionErr
	}
	return m.insertSessionResult, nil
}

func (m *mockQuerier) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if m.getSessionErr != nil {
		return Session{}, m.getSessionErr
	}
	return m.getSessionResult, nil
}

func (m *mockQuerier) UpdateSession(ctx context.Context, sess Session) (Session, error) {
	if m.updateSessionErr != nil {
		return Session{}, m.updateSessionErr
	}
	return m.updateSessionResult, nil
}

func (m *mockQuerier) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	if m.deleteSessionErr != nil {
		return 0, m.deleteSessionErr
	}
	return m.deleteSessionRows, nil
}

func (m *mockQuerier) InsertAgent(ctx context.Context, agent Agent) (Agent, error) {
	m.lastInsertAgent = agent
	if m.insertAgentErr != nil {
		return Agent{}, m.insertAgentErr
	}
	return m.insertAgentResult, nil
}

func (m *mockQuerier) GetAgent(ctx context.Context, sessionID, agentID string) (Agent, error) {
	if m.getAgentErr != nil {
		return Agent{}, m.getAgentErr
	}
	return m.getAgentResult, nil
}

func (m *mockQuerier) UpdateAgent(ctx context.Context, agent Agent) (Agent, error) {
	if m.updateAgentErr != nil {
		return Agent{}, m.updateAgentErr
	}
	return m.updateAgentResult, nil
}

func (m *mockQuerier) DeleteAgent(ctx context.Context, sessionID, agentID string) (int64, error) {
	if m.deleteAgentErr != nil {
		return 0, m.deleteAgentErr
	}
	return m.deleteAgentRows, nil
}

func (m *mockQuerier) ListAgents(ctx context.Context, sessionID string) ([]Agent, error) {
	if m.listAgentsErr != nil {
		return nil, m.listAgentsErr
	}
	return m.listAgentsResult, nil
}

func (m *mockQuerier) LockAgent(ctx context.Context, sessionID, agentID string) error {
	m.lockAgentCalls++
	return m.lockAgentErr
}

func (m *mockQuerier) TouchAgent(ctx context.Context, sessionID, agentID string) error {
	m.touchAgentCalls++
	return m.touchAgentErr
}

func (m *mockQuerier) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	m.lastInsertMessage = msg
	if m.insertMessageErr != nil {
		return Message{}, m.insertMessageErr
	}
	return m.insertMessageResult, nil
}

func (m *mockQuerier) GetMessage(ctx context.Context, sessionID, agentID string, messageID int) (Message, error) {
	if m.getMessageErr != nil {
		return Message{}, m.getMessageErr
	}
	return m.getMessageResult, nil
}

func (m *mockQuerier) UpdateMessage(ctx context.Context, msg Message) (Message, error) {
	if m.updateMessageErr != nil {
		return Message{}, m.updateMessageErr
	}
	return m.updateMessageResult, nil
}

func (m *mockQuerier) DeleteMessage(ctx context.Context, sessionID, agentID string, messageID int) (int64, error) {
	if m.deleteMessageErr != nil {
		return 0, m.deleteMessageErr
	}
	return m.deleteMessageRows, nil
}

func (m *mockQuerier) ListMessages(ctx context.Context, sessionID, agentID string, limit, offset int) ([]Message, error) {
	m.lastListLimit = limit
	m.lastListOffset = offset
	if m.listMessagesErr != nil {
		return nil, m.listMessagesErr
	}
	return m.listMessagesResult, nil
}

func (m *mockQuerier) MaxMessageID(ctx context.Context, sessionID, agentID string) (int, error) {
	if m.maxMessageIDErr != nil {
		return 0, m.maxMessageIDErr
	}
	return m.maxMessageIDResult, nil
}

// Interface compliance (compile-time assertions).
var (
	_ Querier = (*mockQuerier)(nil)
	_ Querier = (*pgQuerier)(nil)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore builds a Store over a mock querier. With a nil pool the
// store takes its non-transactional code paths.
func newTestStore(q Querier) *Store {
	return &Store{
		q:      q,
		tables: DefaultTables(),
		logger: testLogger(),
	}
}

func pgError(code string) *pgconn.PgError {
	return &pgconn.PgError{Code: code, Message: "test error"}
}

// ============================================================================
// Session operations
// ============================================================================

func TestCreateSession(t *testing.T) {
	now := time.Now()
	mock := &mockQuerier{
		insertSessionResult: Session{
			SessionID:   "sess-1",
			SessionType: SessionTypeAgent,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	store := newTestStore(mock)

	created, err := store.CreateSession(context.Background(), Session{
		SessionID:   "sess-1",
		SessionType: SessionTypeAgent,
	})
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	if created.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want %q", created.SessionID, "sess-1")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Error("timestamps should be server-assigned, got zero values")
	}
	if mock.lastInsertSession.SessionID != "sess-1" {
		t.Errorf("querier received session %q, want %q", mock.lastInsertSession.SessionID, "sess-1")
	}
}

func TestCreateSessionDuplicate(t *testing.T) {
	mock := &mockQuerier{insertSessionErr: pgError(pgerrcode.UniqueViolation)}
	store := newTestStore(mock)

	_, err := store.CreateSession(context.Background(), Session{SessionID: "sess-1", SessionType: SessionTypeAgent})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("CreateSession duplicate = %v, want ErrDuplicateKey", err)
	}
}

func TestReadSessionNotFound(t *testing.T) {
	mock := &mockQuerier{getSessionErr: pgx.ErrNoRows}
	store := newTestStore(mock)

	_, err := store.ReadSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadSession missing = %v, want ErrNotFound", err)
	}
}

func TestUpdateSessionNotFound(t *testing.T) {
	mock := &mockQuerier{updateSessionErr: pgx.ErrNoRows}
	store := newTestStore(mock)

	_, err := store.UpdateSession(context.Background(), Session{SessionID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateSession missing = %v, want ErrNotFound", err)
	}
}

func TestDeleteSession(t *testing.T) {
	tests := []struct {
		name    string
		rows    int64
		err     error
		wantErr error
	}{
		{name: "deleted", rows: 1},
		{name: "absent", rows: 0, wantErr: ErrNotFound},
		{name: "connection failure", err: pgError("08006"), wantErr: ErrConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockQuerier{deleteSessionRows: tt.rows, deleteSessionErr: tt.err}
			store := newTestStore(mock)

			err := store.DeleteSession(context.Background(), "sess-1")
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("DeleteSession returned error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DeleteSession = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// ============================================================================
// Agent operations
// ============================================================================

func TestCreateAgentMissingSession(t *testing.T) {
	mock := &mockQuerier{insertAgentErr: pgError(pgerrcode.ForeignKeyViolation)}
	store := newTestStore(mock)

	_, err := store.CreateAgent(context.Background(), Agent{SessionID: "missing", AgentID: "agent-1"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("CreateAgent with missing parent = %v, want ErrNotFound", err)
	}
}

func TestCreateAgentDuplicate(t *testing.T) {
	mock := &mockQuerier{insertAgentErr: pgError(pgerrcode.UniqueViolation)}
	store := newTestStore(mock)

	_, err := store.CreateAgent(context.Background(), Agent{SessionID: "sess-1", AgentID: "agent-1"})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("CreateAgent duplicate = %v, want ErrDuplicateKey", err)
	}
}

func TestDeleteAgentNotFound(t *testing.T) {
	mock := &mockQuerier{deleteAgentRows: 0}
	store := newTestStore(mock)

	err := store.DeleteAgent(context.Background(), "sess-1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteAgent missing = %v, want ErrNotFound", err)
	}
}

func TestListAgentsEmpty(t *testing.T) {
	mock := &mockQuerier{listAgentsResult: []Agent{}}
	store := newTestStore(mock)

	agents, err := store.ListAgents(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("ListAgents returned error: %v", err)
	}
	if len(agents) != 0 {
		t.Errorf("ListAgents = %d agents, want 0", len(agents))
	}
}

// ============================================================================
// Message operations
// ============================================================================

func TestCreateMessageMissingAgent(t *testing.T) {
	mock := &mockQuerier{insertMessageErr: pgError(pgerrcode.ForeignKeyViolation)}
	store := newTestStore(mock)

	_, err := store.CreateMessage(context.Background(), Message{
		SessionID: "sess-1",
		AgentID:   "missing",
		MessageID: 0,
		Message:   Document{"role": "user"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("CreateMessage with missing agent = %v, want ErrNotFound", err)
	}
}

func TestListMessagesPassesPagination(t *testing.T) {
	mock := &mockQuerier{
		getAgentResult: Agent{SessionID: "sess-1", AgentID: "agent-1"},
		listMessagesResult: []Message{
			{SessionID: "sess-1", AgentID: "agent-1", MessageID: 1},
			{SessionID: "sess-1", AgentID: "agent-1", MessageID: 2},
		},
	}
	store := newTestStore(mock)

	messages, err := store.ListMessages(context.Background(), "sess-1", "agent-1", 2, 1)
	if err != nil {
		t.Fatalf("ListMessages returned error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("ListMessages = %d messages, want 2", len(messages))
	}
	if mock.lastListLimit != 2 || mock.lastListOffset != 1 {
		t.Errorf("querier received limit=%d offset=%d, want limit=2 offset=1",
			mock.lastListLimit, mock.lastListOffset)
	}
}

func TestListMessagesClampsNegativeOffset(t *testing.T) {
	mock := &mockQuerier{listMessagesResult: []Message{}}
	store := newTestStore(mock)

	if _, err := store.ListMessages(context.Background(), "sess-1", "agent-1", 0, -5); err != nil {
		t.Fatalf("ListMessages returned error: %v", err)
	}
	if mock.lastListOffset != 0 {
		t.Errorf("querier received offset=%d, want 0", mock.lastListOffset)
	}
}

func TestListMessagesMissingAgent(t *testing.T) {
	mock := &mockQuerier{getAgentErr: pgx.ErrNoRows}
	store := newTestStore(mock)

	_, err := store.ListMessages(context.Background(), "sess-1", "missing", 0, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ListMessages with missing agent = %v, want ErrNotFound", err)
	}
}

func TestListMessagesEmptyRangeIsNotError(t *testing.T) {
	mock := &mockQuerier{listMessagesResult: []Message{}}
	store := newTestStore(mock)

	messages, err := store.ListMessages(context.Background(), "sess-1", "agent-1", 10, 100)
	if err != nil {
		t.Fatalf("ListMessages returned error: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("ListMessages = %d messages, want 0", len(messages))
	}
}

// ============================================================================
// AppendMessage
// ============================================================================

func TestAppendMessageAssignsNextIndex(t *testing.T) {
	mock := &mockQuerier{
		maxMessageIDResult:  4,
		insertMessageResult: Message{SessionID: "sess-1", AgentID: "agent-1", MessageID: 5},
	}
	store := newTestStore(mock)

	created, err := store.AppendMessage(context.Background(), "sess-1", "agent-1", Document{"text": "hi"})
	if err != nil {
		t.Fatalf("AppendMessage returned error: %v", err)
	}
	if mock.lastInsertMessage.MessageID != 5 {
		t.Errorf("inserted message index = %d, want 5", mock.lastInsertMessage.MessageID)
	}
	if created.MessageID != 5 {
		t.Errorf("returned message index = %d, want 5", created.MessageID)
	}
	if mock.lockAgentCalls != 1 {
		t.Errorf("LockAgent called %d times, want 1", mock.lockAgentCalls)
	}
	if mock.touchAgentCalls != 1 {
		t.Errorf("TouchAgent called %d times, want 1", mock.touchAgentCalls)
	}
}

func TestAppendMessageFirstIndexIsZero(t *testing.T) {
	mock := &mockQuerier{
		maxMessageIDResult:  -1,
		insertMessageResult: Message{SessionID: "sess-1", AgentID: "agent-1", MessageID: 0},
	}
	store := newTestStore(mock)

	if _, err := store.AppendMessage(context.Background(), "sess-1", "agent-1", Document{"text": "hi"}); err != nil {
		t.Fatalf("AppendMessage returned error: %v", err)
	}
	if mock.lastInsertMessage.MessageID != 0 {
		t.Errorf("inserted message index = %d, want 0", mock.lastInsertMessage.MessageID)
	}
}

func TestAppendMessageMissingAgent(t *testing.T) {
	mock := &mockQuerier{lockAgentErr: pgx.ErrNoRows}
	store := newTestStore(mock)

	_, err := store.AppendMessage(context.Background(), "sess-1", "missing", Document{"text": "hi"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendMessage with missing agent = %v, want ErrNotFound", err)
	}
	if mock.lastInsertMessage.SessionID != "" {
		t.Error("no message should be inserted when the agent is missing")
	}
}
