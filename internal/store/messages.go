package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveMessage appends an immutable message row. No dedup is performed.
func (s *Store) SaveMessage(m Message) error {
	var err error
	if s.stmtSaveMessage != nil {
		_, err = s.stmtSaveMessage.Exec(m.SessionID, string(m.Role), m.Content, m.UserID, m.UserName,
			string(m.UserRole), m.UserTitle, m.GroupID, m.GroupName, m.Timestamp, m.MessageID)
	} else {
		_, err = s.db.Exec(`INSERT INTO messages
			(session_id, role, content, user_id, user_name, user_role, user_title, group_id, group_name, timestamp, message_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.SessionID, string(m.Role), m.Content, m.UserID, m.UserName, string(m.UserRole), m.UserTitle,
			m.GroupID, m.GroupName, m.Timestamp, m.MessageID)
	}
	if err != nil {
		return fmt.Errorf("store: save message: %w", err)
	}
	return nil
}

// GetMessages returns the last `limit` rows in ascending time order. When
// before is non-nil, only rows with timestamp < *before are considered.
func (s *Store) GetMessages(sessionID string, limit int, before *time.Time) ([]Message, error) {
	var rows *sql.Rows
	var err error
	if before != nil {
		rows, err = s.db.Query(`SELECT id, session_id, role, content, user_id, user_name, user_role, user_title,
			group_id, group_name, timestamp, message_id FROM messages
			WHERE session_id = ? AND timestamp < ? ORDER BY timestamp DESC LIMIT ?`, sessionID, *before, limit)
	} else {
		rows, err = s.db.Query(`SELECT id, session_id, role, content, user_id, user_name, user_role, user_title,
			group_id, group_name, timestamp, message_id FROM messages
			WHERE session_id = ? ORDER BY timestamp DESC LIMIT ?`, sessionID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// GetMessagesByUser returns messages authored by userID, optionally scoped
// to a session, newest-first internally then reversed to ascending order.
func (s *Store) GetMessagesByUser(userID string, sessionID string, limit int) ([]Message, error) {
	var rows *sql.Rows
	var err error
	if sessionID != "" {
		rows, err = s.db.Query(`SELECT id, session_id, role, content, user_id, user_name, user_role, user_title,
			group_id, group_name, timestamp, message_id FROM messages
			WHERE user_id = ? AND session_id = ? ORDER BY timestamp DESC LIMIT ?`, userID, sessionID, limit)
	} else {
		rows, err = s.db.Query(`SELECT id, session_id, role, content, user_id, user_name, user_role, user_title,
			group_id, group_name, timestamp, message_id FROM messages
			WHERE user_id = ? ORDER BY timestamp DESC LIMIT ?`, userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get messages by user: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// SearchMessages performs a substring match on content, returning newest
// matches first then reversed to ascending order.
func (s *Store) SearchMessages(sessionID, keyword string, limit int) ([]Message, error) {
	rows, err := s.db.Query(`SELECT id, session_id, role, content, user_id, user_name, user_role, user_title,
		group_id, group_name, timestamp, message_id FROM messages
		WHERE session_id = ? AND content LIKE ? ORDER BY timestamp DESC LIMIT ?`,
		sessionID, "%"+keyword+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("store: search messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var userID, userName, userRole, userTitle, groupID, groupName, messageID sqlNullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &userID, &userName, &userRole,
			&userTitle, &groupID, &groupName, &m.Timestamp, &messageID); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.UserID = userID.value()
		m.UserName = userName.value()
		m.UserRole = UserRole(userRole.value())
		m.UserTitle = userTitle.value()
		m.GroupID = groupID.value()
		m.GroupName = groupName.value()
		m.MessageID = messageID.value()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func reverseMessages(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
