package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// defaultMaxTopicsPerSession is used when a caller passes maxPerSession <= 0.
const defaultMaxTopicsPerSession = 20

// SaveTopic inserts a new topic row for a session.
func (s *Store) SaveTopic(t Topic) (int64, error) {
	keywords := strings.Join(t.Keywords, ",")
	var res sql.Result
	var err error
	if s.stmtSaveTopic != nil {
		res, err = s.stmtSaveTopic.Exec(t.SessionID, t.Title, keywords, t.Summary, t.MessageCount)
	} else {
		res, err = s.db.Exec(`INSERT INTO topics (session_id, title, keywords, summary, message_count)
			VALUES (?, ?, ?, ?, ?)`, t.SessionID, t.Title, keywords, t.Summary, t.MessageCount)
	}
	if err != nil {
		return 0, fmt.Errorf("store: save topic: %w", err)
	}
	return res.LastInsertId()
}

// GetTopics returns up to limit topics for a session, most recently updated first.
func (s *Store) GetTopics(sessionID string, limit int) ([]Topic, error) {
	rows, err := s.db.Query(`SELECT id, session_id, title, keywords, summary, message_count, created_at, updated_at
		FROM topics WHERE session_id = ? ORDER BY updated_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		t, keywords, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		t.Keywords = splitKeywords(keywords)
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topics, nil
}

// TopicPatch carries the fields UpdateTopic should overwrite; a nil pointer
// leaves the existing column untouched.
type TopicPatch struct {
	Title        *string
	Keywords     *[]string
	Summary      *string
	MessageCount *int
}

// UpdateTopic merges patch into an existing topic row and refreshes updated_at,
// then trims the session's topics back to maxPerSession (or
// defaultMaxTopicsPerSession if maxPerSession <= 0), dropping the oldest by
// updated_at.
func (s *Store) UpdateTopic(id int64, patch TopicPatch, maxPerSession int) error {
	row := s.db.QueryRow(`SELECT session_id, title, keywords, summary, message_count FROM topics WHERE id = ?`, id)
	var sessionID, title, keywords, summary string
	var messageCount int
	if err := row.Scan(&sessionID, &title, &keywords, &summary, &messageCount); err != nil {
		return fmt.Errorf("store: update topic: load: %w", err)
	}

	if patch.Title != nil {
		title = *patch.Title
	}
	if patch.Keywords != nil {
		keywords = strings.Join(*patch.Keywords, ",")
	}
	if patch.Summary != nil {
		summary = *patch.Summary
	}
	if patch.MessageCount != nil {
		messageCount = *patch.MessageCount
	}

	if _, err := s.db.Exec(`UPDATE topics SET title = ?, keywords = ?, summary = ?, message_count = ?, updated_at = ?
		WHERE id = ?`, title, keywords, summary, messageCount, time.Now(), id); err != nil {
		return fmt.Errorf("store: update topic: %w", err)
	}

	return s.trimTopics(sessionID, maxPerSession)
}

func (s *Store) trimTopics(sessionID string, maxPerSession int) error {
	if maxPerSession <= 0 {
		maxPerSession = defaultMaxTopicsPerSession
	}
	_, err := s.db.Exec(`DELETE FROM topics WHERE session_id = ? AND id NOT IN (
		SELECT id FROM topics WHERE session_id = ? ORDER BY updated_at DESC LIMIT ?)`,
		sessionID, sessionID, maxPerSession)
	if err != nil {
		return fmt.Errorf("store: trim topics: %w", err)
	}
	return nil
}

func scanTopic(rows *sql.Rows) (Topic, string, error) {
	var t Topic
	var keywords string
	if err := rows.Scan(&t.ID, &t.SessionID, &t.Title, &keywords, &t.Summary, &t.MessageCount, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Topic{}, "", fmt.Errorf("store: scan topic: %w", err)
	}
	return t, keywords, nil
}

func splitKeywords(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
