// Package eventlog 把每个入站信号事件落盘成审计流水,方便排查信号源问题。
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record 是一条信号审计记录。
type Record struct {
	ID        int64  `json:"id"`
	Timestamp int64  `json:"ts"`
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Outcome   string `json:"outcome"` // executed | shadow | ignored | rejected
	Detail    string `json:"detail,omitempty"`
	Payload   string `json:"payload,omitempty"`
}

// Store 管理信号审计日志。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// New 初始化 SQLite 存储。
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("event log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signal_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			symbol TEXT,
			side TEXT,
			outcome TEXT,
			detail TEXT,
			payload TEXT
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_signal_events_ts_id ON signal_events(ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_signal_events_symbol_ts ON signal_events(symbol, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append 写入一条审计记录,payload 建议传原始 JSON 文本。
func (s *Store) Append(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("event log store 未初始化")
	}
	ts := rec.Timestamp
	if ts == 0 {
		ts = time.Now().UTC().Unix()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signal_events (ts, type, symbol, side, outcome, detail, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts, rec.Type, rec.Symbol, rec.Side, rec.Outcome, rec.Detail, rec.Payload)
	return err
}

// Recent 按时间倒序返回最近的审计记录。
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, type, symbol, side, outcome, detail, payload
		 FROM signal_events ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Type, &rec.Symbol, &rec.Side, &rec.Outcome, &rec.Detail, &rec.Payload); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
