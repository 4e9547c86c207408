// Package postgres implements the persistence stores on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/procflow/procflow/internal/execution"
	"github.com/procflow/procflow/internal/platform/database"
	"github.com/procflow/procflow/internal/store"
)

// DefinitionStore implements store.DefinitionStore using PostgreSQL.
type DefinitionStore struct {
	db *database.DB
}

// NewDefinitionStore creates a PostgreSQL definition store.
func NewDefinitionStore(db *database.DB) *DefinitionStore {
	return &DefinitionStore{db: db}
}

// Save upserts a definition document.
func (s *DefinitionStore) Save(ctx context.Context, record *execution.DefinitionRecord) error {
	query := `
		INSERT INTO definitions (id, name, document, inserted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.Name,
		record.Document,
		record.InsertedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save definition: %w", err)
	}
	return nil
}

// FindByID returns the definition with the given id.
func (s *DefinitionStore) FindByID(ctx context.Context, id string) (*execution.DefinitionRecord, error) {
	query := `SELECT id, name, document, inserted_at, updated_at FROM definitions WHERE id = $1`

	var rec execution.DefinitionRecord
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Name, &rec.Document, &rec.InsertedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find definition: %w", err)
	}
	return &rec, nil
}

// List returns definitions ordered by insertion time, newest first.
func (s *DefinitionStore) List(ctx context.Context, limit, offset int) ([]*execution.DefinitionRecord, error) {
	query := `
		SELECT id, name, document, inserted_at, updated_at
		FROM definitions
		ORDER BY inserted_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var out []*execution.DefinitionRecord
	for rows.Next() {
		var rec execution.DefinitionRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Document, &rec.InsertedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Delete removes a definition.
func (s *DefinitionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
