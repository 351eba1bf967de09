package template

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const selectTemplate = `
SELECT id, version, subject, body
FROM templates
WHERE id = $1 AND version = $2
`

var ErrNotFound = errors.New("template not found")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string, version int) (Template, error) {
	var tpl Template
	row := s.pool.QueryRow(ctx, selectTemplate, id, version)
	if err := row.Scan(&tpl.ID, &tpl.Version, &tpl.Subject, &tpl.Body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Template{}, ErrNotFound
		}
		return Template{}, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}
