package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetOrCreateSession returns the session row for id, creating it if absent.
func (s *Store) GetOrCreateSession(id string, typ SessionType, targetID string) (Session, error) {
	sess, err := s.GetSession(id)
	if err == nil {
		return sess, nil
	}
	if err != sql.ErrNoRows {
		return Session{}, fmt.Errorf("store: get session: %w", err)
	}
	now := time.Now()
	_, err = s.db.Exec(`INSERT INTO sessions (id, type, target_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(typ), targetID, now, now)
	if err != nil {
		return Session{}, fmt.Errorf("store: create session: %w", err)
	}
	return s.GetSession(id)
}

// GetSession loads a session row by id, returning sql.ErrNoRows when absent.
func (s *Store) GetSession(id string) (Session, error) {
	row := s.db.QueryRow(`SELECT id, type, target_id, created_at, updated_at, compressed_context FROM sessions WHERE id = ?`, id)
	var sess Session
	var compressed sql.NullString
	if err := row.Scan(&sess.ID, &sess.Type, &sess.TargetID, &sess.CreatedAt, &sess.UpdatedAt, &compressed); err != nil {
		return Session{}, err
	}
	if compressed.Valid {
		sess.CompressedContext = &compressed.String
	}
	return sess, nil
}

// TouchSession refreshes updated_at.
func (s *Store) TouchSession(id string) error {
	_, err := s.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("store: touch session: %w", err)
	}
	return nil
}

// ResetSession deletes all messages for a session and clears compressed_context.
// The session identity row itself is preserved.
func (s *Store) ResetSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: reset session: begin: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		tx.Rollback()
		return fmt.Errorf("store: reset session: delete messages: %w", err)
	}
	if _, err := tx.Exec(`UPDATE sessions SET compressed_context = NULL, updated_at = ? WHERE id = ?`, time.Now(), id); err != nil {
		tx.Rollback()
		return fmt.Errorf("store: reset session: clear context: %w", err)
	}
	return tx.Commit()
}
