// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

// Package history persists conversation transcripts so the agent can carry
// context across requests in the same conversation.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aisle-dev/aisle/internal/provider"
	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

// Store is a SQLite-backed message log, append-only per conversation.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, aisleerr.Wrap(err, aisleerr.CodeHistoryDatabaseFailure, "opening history db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, aisleerr.Wrap(err, aisleerr.CodeHistoryDatabaseFailure, "pinging history db")
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, aisleerr.Wrap(err, aisleerr.CodeHistoryDatabaseFailure, "migrating history db")
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	tool_calls      TEXT NOT NULL DEFAULT '',
	tool_call_id    TEXT NOT NULL DEFAULT '',
	tool_name       TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
`
	_, err := db.Exec(ddl)
	return err
}

// Append stores messages at the end of the conversation, in order.
func (s *Store) Append(ctx context.Context, conversationID string, msgs ...provider.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeHistoryDatabaseFailure, "beginning append tx",
			aisleerr.FieldConversationID(conversationID))
	}
	defer tx.Rollback() //nolint:errcheck

	const q = `INSERT INTO messages (conversation_id, role, content, tool_calls, tool_call_id, tool_name, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, m := range msgs {
		toolCalls := ""
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return aisleerr.Wrap(err, aisleerr.CodeHistoryDatabaseFailure, "encoding tool calls",
					aisleerr.FieldConversationID(conversationID))
			}
			toolCalls = string(b)
		}

		if _, err := tx.ExecContext(ctx, q,
			conversationID, string(m.Role), m.Content, toolCalls, m.ToolCallID, m.ToolName, now,
		); err != nil {
			return aisleerr.Wrap(err, aisleerr.CodeHistoryDatabaseFailure, "inserting message",
				aisleerr.FieldConversationID(conversationID))
		}
	}

	if err := tx.Commit(); err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeHistoryDatabaseFailure, "committing append",
			aisleerr.FieldConversationID(conversationID))
	}
	return nil
}

// Recent returns the last limit messages of the conversation in chronological
// order. limit <= 0 returns the whole transcript.
//
// A truncated window opens on a user turn: a cut landing inside a tool round
// would otherwise hand the model a tool result whose assistant tool_calls
// message lies outside the window, which both provider APIs reject.
func (s *Store) Recent(ctx context.Context, conversationID string, limit int) ([]provider.Message, error) {
	q := `SELECT role, content, tool_calls, tool_call_id, tool_name FROM messages
WHERE conversation_id = ? ORDER BY id DESC`
	args := []any{conversationID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, aisleerr.Wrap(err, aisleerr.CodeHistoryDatabaseFailure, "querying messages",
			aisleerr.FieldConversationID(conversationID))
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	var msgs []provider.Message
	for rows.Next() {
		var m provider.Message
		var role, toolCalls string
		if err := rows.Scan(&role, &m.Content, &toolCalls, &m.ToolCallID, &m.ToolName); err != nil {
			return nil, aisleerr.Wrap(err, aisleerr.CodeHistoryDatabaseFailure, "scanning message row")
		}
		m.Role = provider.MessageRole(role)
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
				return nil, aisleerr.Wrap(err, aisleerr.CodeHistoryDatabaseFailure, "decoding tool calls")
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, aisleerr.Wrap(err, aisleerr.CodeHistoryDatabaseFailure, "iterating message rows")
	}

	// Newest-first from the query; flip back to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	if limit > 0 && len(msgs) == limit {
		msgs = snapToUserTurn(msgs)
	}
	return msgs, nil
}

// snapToUserTurn drops leading messages until the window starts with a user
// message, so a truncation never strands a tool result or an assistant reply
// without the turn that prompted it.
func snapToUserTurn(msgs []provider.Message) []provider.Message {
	for i, m := range msgs {
		if m.Role == provider.MessageRoleUser {
			return msgs[i:]
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }
