package store

import "database/sql"

// sqlNullString is a small convenience wrapper so scan targets for
// nullable TEXT columns read naturally as empty strings.
type sqlNullString sql.NullString

func (n *sqlNullString) Scan(src interface{}) error {
	var ns sql.NullString
	if err := ns.Scan(src); err != nil {
		return err
	}
	*n = sqlNullString(ns)
	return nil
}

func (n sqlNullString) value() string {
	if n.Valid {
		return n.String
	}
	return ""
}
