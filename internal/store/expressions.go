package store

import "fmt"

// SaveExpression records a learned speaking habit for a user.
func (s *Store) SaveExpression(e Expression) error {
	var err error
	if s.stmtSaveExpression != nil {
		_, err = s.stmtSaveExpression.Exec(e.SessionID, e.UserID, e.UserName, e.Situation, e.Style, e.Example)
	} else {
		_, err = s.db.Exec(`INSERT INTO expressions (session_id, user_id, user_name, situation, style, example)
			VALUES (?, ?, ?, ?, ?, ?)`, e.SessionID, e.UserID, e.UserName, e.Situation, e.Style, e.Example)
	}
	if err != nil {
		return fmt.Errorf("store: save expression: %w", err)
	}
	return nil
}

// GetExpressions returns up to limit expressions for a session, newest first.
func (s *Store) GetExpressions(sessionID string, limit int) ([]Expression, error) {
	rows, err := s.db.Query(`SELECT id, session_id, user_id, user_name, situation, style, example, created_at
		FROM expressions WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get expressions: %w", err)
	}
	defer rows.Close()

	var exprs []Expression
	for rows.Next() {
		var e Expression
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.UserName, &e.Situation, &e.Style, &e.Example, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan expression: %w", err)
		}
		exprs = append(exprs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return exprs, nil
}

// GetExpressionCount returns the number of expression rows held for a session.
func (s *Store) GetExpressionCount(sessionID string) (int, error) {
	var count int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM expressions WHERE session_id = ?`, sessionID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count expressions: %w", err)
	}
	return count, nil
}

// DeleteOldestExpressions trims a session's expressions down to keepCount,
// preserving the newest rows by created_at.
func (s *Store) DeleteOldestExpressions(sessionID string, keepCount int) error {
	var err error
	if s.stmtDeleteOldestExpression != nil {
		_, err = s.stmtDeleteOldestExpression.Exec(sessionID, sessionID, keepCount)
	} else {
		_, err = s.db.Exec(`DELETE FROM expressions WHERE session_id = ? AND id NOT IN (
			SELECT id FROM expressions WHERE session_id = ? ORDER BY created_at DESC LIMIT ?)`,
			sessionID, sessionID, keepCount)
	}
	if err != nil {
		return fmt.Errorf("store: delete oldest expressions: %w", err)
	}
	return nil
}
