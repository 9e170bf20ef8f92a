package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"admitflow/backend/pkg/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// entityTable describes where one entity kind lives. The dispatch table keyed
// by models.EntityType replaces the old pattern of three nullable foreign
// keys and string-matching the id.
type entityTable struct {
	table string
	// columns that may be written through UpdateFields; anything else lands
	// in the attributes JSONB document.
	writable map[string]bool
}

var entityTables = map[models.EntityType]entityTable{
	models.EntityTypeStudent: {
		table:    "students",
		writable: map[string]bool{"first_name": true, "last_name": true, "email": true, "phone": true, "assigned_to": true, "status": true},
	},
	models.EntityTypeLead: {
		table:    "leads",
		writable: map[string]bool{"first_name": true, "last_name": true, "email": true, "phone": true, "assigned_to": true, "status": true, "source": true},
	},
	models.EntityTypeApplication: {
		table:    "applications",
		writable: map[string]bool{"first_name": true, "last_name": true, "email": true, "phone": true, "assigned_to": true, "status": true},
	},
}

// PostgresEntityStore reads and writes CRM entity rows. The engine only ever
// reads entities for personalization and writes specific fields during
// automation; full entity CRUD lives elsewhere.
type PostgresEntityStore struct {
	db *pgxpool.Pool
}

var _ EntityStore = (*PostgresEntityStore)(nil)

// NewPostgresEntityStore creates a new PostgresEntityStore.
func NewPostgresEntityStore(db *pgxpool.Pool) *PostgresEntityStore {
	return &PostgresEntityStore{db: db}
}

// Lookup resolves an entity by its tagged type and id.
func (s *PostgresEntityStore) Lookup(ctx context.Context, entityType models.EntityType, entityID string) (*models.Entity, error) {
	t, ok := entityTables[entityType]
	if !ok {
		return nil, fmt.Errorf("services: unknown entity type %q", entityType)
	}

	var e models.Entity
	var attrs []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, first_name, last_name, email, phone, assigned_to, attributes FROM `+t.table+` WHERE id = $1`,
		entityID).Scan(&e.ID, &e.FirstName, &e.LastName, &e.Email, &e.Phone, &e.AssignedTo, &attrs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Type = entityType
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal entity attributes: %w", err)
		}
	}
	return &e, nil
}

// UpdateFields writes the given fields to the entity row. Known columns are
// updated directly; everything else is merged into the attributes document.
func (s *PostgresEntityStore) UpdateFields(ctx context.Context, entityType models.EntityType, entityID string, fields map[string]string) error {
	t, ok := entityTables[entityType]
	if !ok {
		return fmt.Errorf("services: unknown entity type %q", entityType)
	}
	if len(fields) == 0 {
		return nil
	}

	q := psql.Update(t.table).Where(sq.Eq{"id": entityID})
	attrs := make(map[string]string)
	for field, value := range fields {
		if t.writable[field] {
			q = q.Set(field, value)
		} else {
			attrs[field] = value
		}
	}
	if len(attrs) > 0 {
		patch, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("marshal attribute patch: %w", err)
		}
		q = q.Set("attributes", sq.Expr("COALESCE(attributes, '{}'::jsonb) || ?::jsonb", patch))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntityNotFound
	}
	return nil
}
