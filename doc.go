// Package pgsession persists agent-framework sessions in PostgreSQL.
//
// A session is the top-level conversation context, identified by a
// caller-supplied key. Each session owns agents, and each agent owns an
// ordered message history. All state blobs are schemaless JSON documents;
// the store passes them through without interpreting their shape.
//
// Key operations:
//
//   - Session lifecycle: [Store.CreateSession], [Store.ReadSession], [Store.UpdateSession], [Store.DeleteSession]
//   - Agent lifecycle: [Store.CreateAgent], [Store.ReadAgent], [Store.UpdateAgent], [Store.DeleteAgent], [Store.ListAgents]
//   - Message persistence: [Store.CreateMessage], [Store.ReadMessage], [Store.UpdateMessage], [Store.DeleteMessage], [Store.ListMessages], [Store.AppendMessage]
//
// # Transaction Safety
//
// Every mutation runs in a single transaction. [Store.AppendMessage] uses
// SELECT ... FOR UPDATE to lock the agent row, preventing race conditions
// on message indices during concurrent writes. If any step fails, the
// entire transaction rolls back.
//
// # Cascade Deletes
//
// Referential integrity is enforced by the database, not by application
// fan-out: deleting a session removes its agents and messages atomically
// via ON DELETE CASCADE foreign keys (see db/migrations). No interleaving
// of concurrent operations can observe an orphaned agent or message row.
//
// # Concurrency
//
// Store is safe for concurrent use. All state lives in PostgreSQL; no
// shared Go-side state exists. Concurrent updates to the same row resolve
// by commit order (last writer wins); no conflict detection is performed.
//
// # Local State
//
// [SaveCurrentSessionID] and [LoadCurrentSessionID] persist the active
// session key to ~/.pgsession/current_session using atomic writes
// (temp file + rename) with file locking via [github.com/gofrs/flock].
package pgsession
