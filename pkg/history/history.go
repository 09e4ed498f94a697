// Copyright 2026 Society Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history persists conversation transcripts in SQLite so an agent
// can resume where it left off after a restart. The in-memory slice owned
// by the loop stays the working copy; this store is the durable record.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/society-labs/society/pkg/llm"

	_ "github.com/society-labs/society/internal/sqlitedriver"
)

// compressThreshold is the body size above which turn content is stored
// zstd-compressed.
const compressThreshold = 8 << 10 // 8 KiB

const codecZstd = "zstd"

// Store is a SQLite-backed conversation log.
type Store struct {
	db        *sql.DB
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	projectID string
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithProjectID stamps conversation rows with the given project.
func WithProjectID(projectID string) Option {
	return func(s *Store) { s.projectID = projectID }
}

// New opens (or creates) the history database at path.
func New(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 10000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Encoder and decoder are reusable and safe for concurrent EncodeAll/
	// DecodeAll calls.
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	s := &Store{
		db:      db,
		encoder: encoder,
		decoder: decoder,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			agent_id   TEXT PRIMARY KEY,
			project_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS turns (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id        TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         BLOB NOT NULL,
			content_codec   TEXT NOT NULL DEFAULT '',
			tool_calls_json TEXT,
			tool_use_id     TEXT,
			token_count     INTEGER NOT NULL DEFAULT 0,
			cost_usd        REAL NOT NULL DEFAULT 0,
			ts              INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_turns_agent ON turns(agent_id, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

// Append records one turn at the end of an agent's transcript.
func (s *Store) Append(ctx context.Context, agentID string, msg llm.Message) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	body := []byte(msg.Content)
	codec := ""
	if len(body) > compressThreshold {
		body = s.encoder.EncodeAll(body, nil)
		codec = codecZstd
	}

	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		b, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (agent_id, project_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET updated_at = excluded.updated_at
	`, agentID, s.projectID, ts.UnixMilli(), ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO turns (agent_id, role, content, content_codec, tool_calls_json, tool_use_id, token_count, cost_usd, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, agentID, msg.Role, body, codec, toolCalls, msg.ToolUseID, msg.TokenCount, msg.CostUSD, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// Load returns an agent's transcript in insertion order.
func (s *Store) Load(ctx context.Context, agentID string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, content_codec, tool_calls_json, tool_use_id, token_count, cost_usd, ts
		FROM turns WHERE agent_id = ? ORDER BY id ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []llm.Message
	for rows.Next() {
		var (
			msg       llm.Message
			body      []byte
			codec     string
			toolCalls sql.NullString
			ts        int64
		)
		if err := rows.Scan(&msg.Role, &body, &codec, &toolCalls, &msg.ToolUseID, &msg.TokenCount, &msg.CostUSD, &ts); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if codec == codecZstd {
			body, err = s.decoder.DecodeAll(body, nil)
			if err != nil {
				return nil, fmt.Errorf("decompress turn: %w", err)
			}
		}
		msg.Content = string(body)
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		msg.Timestamp = time.UnixMilli(ts)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return messages, nil
}

// Trim drops all but the last keepLast turns of an agent's transcript.
func (s *Store) Trim(ctx context.Context, agentID string, keepLast int) error {
	if keepLast < 0 {
		keepLast = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM turns WHERE agent_id = ? AND id NOT IN (
			SELECT id FROM turns WHERE agent_id = ? ORDER BY id DESC LIMIT ?
		)
	`, agentID, agentID, keepLast)
	if err != nil {
		return fmt.Errorf("trim turns: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("trimmed history",
			zap.String("agentId", agentID),
			zap.Int64("dropped", n),
			zap.Int("kept", keepLast))
	}
	return nil
}

// TotalCost sums the recorded cost of every turn in an agent's transcript.
func (s *Store) TotalCost(ctx context.Context, agentID string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0) FROM turns WHERE agent_id = ?
	`, agentID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum cost: %w", err)
	}
	return total, nil
}

// Close releases the database handle and the compression codecs.
func (s *Store) Close() error {
	s.decoder.Close()
	if err := s.encoder.Close(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}
