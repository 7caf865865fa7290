package store

import (
	"database/sql"
	"fmt"
)

// SaveEmoji registers a sticker, ignoring duplicates on file_name.
func (s *Store) SaveEmoji(e Emoji) error {
	var err error
	if s.stmtSaveEmoji != nil {
		_, err = s.stmtSaveEmoji.Exec(e.FileName, e.Description, string(e.Emotion))
	} else {
		_, err = s.db.Exec(`INSERT OR IGNORE INTO emojis (file_name, description, emotion)
			VALUES (?, ?, ?)`, e.FileName, e.Description, string(e.Emotion))
	}
	if err != nil {
		return fmt.Errorf("store: save emoji: %w", err)
	}
	return nil
}

// GetByEmotion returns up to limit emojis tagged with emotion, most used first.
func (s *Store) GetByEmotion(emotion Emotion, limit int) ([]Emoji, error) {
	rows, err := s.db.Query(`SELECT id, file_name, description, emotion, usage_count, created_at
		FROM emojis WHERE emotion = ? ORDER BY usage_count DESC LIMIT ?`, string(emotion), limit)
	if err != nil {
		return nil, fmt.Errorf("store: get by emotion: %w", err)
	}
	defer rows.Close()
	return scanEmojis(rows)
}

// GetAll returns every registered emoji, most used first.
func (s *Store) GetAll() ([]Emoji, error) {
	rows, err := s.db.Query(`SELECT id, file_name, description, emotion, usage_count, created_at
		FROM emojis ORDER BY usage_count DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: get all emojis: %w", err)
	}
	defer rows.Close()
	return scanEmojis(rows)
}

// IncrementUsage bumps usage_count for the emoji after it is sent.
func (s *Store) IncrementUsage(id int64) error {
	var err error
	if s.stmtIncrementEmojiUsage != nil {
		_, err = s.stmtIncrementEmojiUsage.Exec(id)
	} else {
		_, err = s.db.Exec(`UPDATE emojis SET usage_count = usage_count + 1 WHERE id = ?`, id)
	}
	if err != nil {
		return fmt.Errorf("store: increment emoji usage: %w", err)
	}
	return nil
}

func scanEmojis(rows *sql.Rows) ([]Emoji, error) {
	var out []Emoji
	for rows.Next() {
		var e Emoji
		if err := rows.Scan(&e.ID, &e.FileName, &e.Description, &e.Emotion, &e.UsageCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan emoji: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
