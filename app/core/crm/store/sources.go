package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

func (s *Store) CreateSource(ctx context.Context, code, name, description string) (Source, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Source{}, fmt.Errorf("source code is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Source{}, fmt.Errorf("source name is required")
	}
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO sources (code, name, description) VALUES (?, ?, NULLIF(?, ''))`,
		code, name, description,
	)
	if err != nil {
		return Source{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Source{}, err
	}
	return Source{ID: id, Code: code, Name: name, Description: description}, nil
}

func (s *Store) GetSource(ctx context.Context, sourceID int64) (Source, error) {
	return scanSource(s.db.Conn().QueryRowContext(ctx,
		`SELECT id, code, name, COALESCE(description, '') FROM sources WHERE id = ?`, sourceID))
}

func (s *Store) GetSourceByCode(ctx context.Context, code string) (Source, error) {
	return scanSource(s.db.Conn().QueryRowContext(ctx,
		`SELECT id, code, name, COALESCE(description, '') FROM sources WHERE code = ?`, code))
}

func (s *Store) ListSources(ctx context.Context) ([]Source, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, code, name, COALESCE(description, '') FROM sources ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Source, 0, 8)
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.Code, &src.Name, &src.Description); err != nil {
			return nil, err
		}
		items = append(items, src)
	}
	return items, rows.Err()
}

func scanSource(row *sql.Row) (Source, error) {
	var src Source
	if err := row.Scan(&src.ID, &src.Code, &src.Name, &src.Description); err != nil {
		return Source{}, err
	}
	return src, nil
}
