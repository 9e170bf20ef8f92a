package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTaskCreator writes operator tasks into the CRM tasks table.
type PostgresTaskCreator struct {
	db *pgxpool.Pool
}

var _ TaskCreator = (*PostgresTaskCreator)(nil)

// NewPostgresTaskCreator creates a new PostgresTaskCreator.
func NewPostgresTaskCreator(db *pgxpool.Pool) *PostgresTaskCreator {
	return &PostgresTaskCreator{db: db}
}

// CreateTask inserts a task row and returns its id.
func (s *PostgresTaskCreator) CreateTask(ctx context.Context, req TaskRequest) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(ctx,
		`INSERT INTO tasks (id, tenant_id, title, description, assignee, due_date, entity_id, entity_type, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'OPEN', $9)`,
		id, req.TenantID, req.Title, req.Description, req.Assignee, req.DueDate,
		req.EntityID, req.EntityType, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}
