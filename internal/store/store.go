// Package store provides SQLite-backed persistence of sessions, messages,
// topics, expressions, and emojis for the conversation engine.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config controls how the store opens its database.
type Config struct {
	DBPath          string
	WalMode         bool
	SyncMode        string // NORMAL, FULL, OFF
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sane defaults, matching the teacher's storage config shape.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:          dbPath,
		WalMode:         true,
		SyncMode:        "NORMAL",
		MaxOpenConns:    8,
		MaxIdleConns:    4,
		ConnMaxLifetime: time.Hour,
	}
}

// Store wraps *sql.DB with prepared statements for the hot paths.
type Store struct {
	db *sql.DB

	stmtSaveMessage            *sql.Stmt
	stmtSaveTopic              *sql.Stmt
	stmtSaveExpression         *sql.Stmt
	stmtSaveEmoji              *sql.Stmt
	stmtIncrementEmojiUsage    *sql.Stmt
	stmtDeleteOldestExpression *sql.Stmt
}

// New opens (creating if necessary) the sqlite3 database at cfg.DBPath and
// initializes the schema, matching storage.NewWithConfig's sequence:
// open -> ping -> pragmas -> pool tuning -> schema -> prepared statements.
func New(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("store: db path required")
	}
	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: database connection failed: %w", err)
	}

	s := &Store{db: db}

	if cfg.WalMode {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: set WAL: %w", err)
		}
	}
	syncMode := cfg.SyncMode
	if syncMode == "" {
		syncMode = "NORMAL"
	}
	if _, err := db.Exec("PRAGMA synchronous=" + syncMode + ";"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set synchronous: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	if err := s.initPreparedStmts(); err != nil {
		log.Printf("[WARN] store: prepare statements: %v (continuing without them)", err)
	}

	log.Printf("[OK] store: database %s", cfg.DBPath)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			target_id TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			compressed_context TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			user_id TEXT,
			user_name TEXT,
			user_role TEXT,
			user_title TEXT,
			group_id TEXT,
			group_name TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			message_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS topics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			title TEXT NOT NULL,
			keywords TEXT,
			summary TEXT,
			message_count INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS expressions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			user_id TEXT,
			user_name TEXT,
			situation TEXT,
			style TEXT,
			example TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS emojis (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_name TEXT UNIQUE NOT NULL,
			description TEXT,
			emotion TEXT,
			usage_count INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON messages(session_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_ts ON messages(user_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_content ON messages(session_id, content)`,
		`CREATE INDEX IF NOT EXISTS idx_emojis_emotion ON emojis(emotion)`,
		`CREATE INDEX IF NOT EXISTS idx_topics_session_updated ON topics(session_id, updated_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) initPreparedStmts() error {
	var err error
	if s.stmtSaveMessage, err = s.db.Prepare(`INSERT INTO messages
		(session_id, role, content, user_id, user_name, user_role, user_title, group_id, group_name, timestamp, message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`); err != nil {
		return fmt.Errorf("SaveMessage: %w", err)
	}
	if s.stmtSaveTopic, err = s.db.Prepare(`INSERT INTO topics
		(session_id, title, keywords, summary, message_count) VALUES (?, ?, ?, ?, ?)`); err != nil {
		return fmt.Errorf("SaveTopic: %w", err)
	}
	if s.stmtSaveExpression, err = s.db.Prepare(`INSERT INTO expressions
		(session_id, user_id, user_name, situation, style, example) VALUES (?, ?, ?, ?, ?, ?)`); err != nil {
		return fmt.Errorf("SaveExpression: %w", err)
	}
	if s.stmtSaveEmoji, err = s.db.Prepare(`INSERT OR IGNORE INTO emojis
		(file_name, description, emotion) VALUES (?, ?, ?)`); err != nil {
		return fmt.Errorf("SaveEmoji: %w", err)
	}
	if s.stmtIncrementEmojiUsage, err = s.db.Prepare(`UPDATE emojis SET usage_count = usage_count + 1 WHERE id = ?`); err != nil {
		return fmt.Errorf("IncrementUsage: %w", err)
	}
	if s.stmtDeleteOldestExpression, err = s.db.Prepare(`DELETE FROM expressions WHERE session_id = ? AND id NOT IN (
		SELECT id FROM expressions WHERE session_id = ? ORDER BY created_at DESC LIMIT ?)`); err != nil {
		return fmt.Errorf("DeleteOldestExpressions: %w", err)
	}
	return nil
}
