package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/google/uuid"

	"admitflow/backend/pkg/models"
)

// psql builds queries with $1-style placeholders for pgx.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const pgUniqueViolation = "23505"

// PostgresRepository is the PostgreSQL implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Ping verifies database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// CreateDefinition inserts a pipeline definition. The stage list is stored as
// a JSONB document; stage graphs are data, not schema.
func (r *PostgresRepository) CreateDefinition(ctx context.Context, def *models.PipelineDefinition) error {
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	stages, err := json.Marshal(def.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO pipeline_definitions
		 (id, tenant_id, name, type, enable_sla, enable_auto_actions, stages, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		def.ID, def.TenantID, def.Name, def.Type, def.EnableSLA, def.EnableAutoActions, stages, def.CreatedAt, def.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetDefinition retrieves a pipeline definition by id within a tenant.
func (r *PostgresRepository) GetDefinition(ctx context.Context, tenantID, id string) (*models.PipelineDefinition, error) {
	var def models.PipelineDefinition
	var stages []byte
	err := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, name, type, enable_sla, enable_auto_actions, stages, created_at, updated_at
		 FROM pipeline_definitions WHERE tenant_id = $1 AND id = $2`,
		tenantID, id).Scan(
		&def.ID, &def.TenantID, &def.Name, &def.Type, &def.EnableSLA, &def.EnableAutoActions, &stages, &def.CreatedAt, &def.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stages, &def.Stages); err != nil {
		return nil, fmt.Errorf("unmarshal stages: %w", err)
	}
	return &def, nil
}

// ListDefinitions returns all pipeline definitions for a tenant.
func (r *PostgresRepository) ListDefinitions(ctx context.Context, tenantID string) ([]*models.PipelineDefinition, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, name, type, enable_sla, enable_auto_actions, stages, created_at, updated_at
		 FROM pipeline_definitions WHERE tenant_id = $1 ORDER BY created_at`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*models.PipelineDefinition
	for rows.Next() {
		var def models.PipelineDefinition
		var stages []byte
		if err := rows.Scan(&def.ID, &def.TenantID, &def.Name, &def.Type, &def.EnableSLA, &def.EnableAutoActions, &stages, &def.CreatedAt, &def.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(stages, &def.Stages); err != nil {
			return nil, fmt.Errorf("unmarshal stages: %w", err)
		}
		defs = append(defs, &def)
	}
	return defs, rows.Err()
}

const entryColumns = `id, tenant_id, pipeline_id, entity_id, entity_type, current_stage, previous_stage,
	stage_status, progress, percentage_complete, entered_at, moved_at, sla_deadline, sla_breached,
	notes, data, revision, created_at, updated_at`

func scanEntry(row pgx.Row) (*models.PipelineEntry, error) {
	var e models.PipelineEntry
	var data []byte
	err := row.Scan(&e.ID, &e.TenantID, &e.PipelineID, &e.EntityID, &e.EntityType, &e.CurrentStage,
		&e.PreviousStage, &e.StageStatus, &e.Progress, &e.PercentageComplete, &e.EnteredAt, &e.MovedAt,
		&e.SLADeadline, &e.SLABreached, &e.Notes, &data, &e.Revision, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("unmarshal entry data: %w", err)
		}
	}
	return &e, nil
}

// CreateEntry inserts a new entry. A partial unique index on
// (pipeline_id, entity_type, entity_id) over open entries enforces the
// one-open-entry invariant at the database level; violations surface as
// ErrDuplicate.
func (r *PostgresRepository) CreateEntry(ctx context.Context, entry *models.PipelineEntry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("marshal entry data: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO pipeline_entries (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		entry.ID, entry.TenantID, entry.PipelineID, entry.EntityID, entry.EntityType, entry.CurrentStage,
		entry.PreviousStage, entry.StageStatus, entry.Progress, entry.PercentageComplete, entry.EnteredAt,
		entry.MovedAt, entry.SLADeadline, entry.SLABreached, entry.Notes, data, entry.Revision,
		entry.CreatedAt, entry.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetEntry retrieves an entry by id within a tenant.
func (r *PostgresRepository) GetEntry(ctx context.Context, tenantID, id string) (*models.PipelineEntry, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM pipeline_entries WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// FindOpenEntry returns the open entry tracking an entity in a pipeline.
func (r *PostgresRepository) FindOpenEntry(ctx context.Context, tenantID, pipelineID string, entityType models.EntityType, entityID string) (*models.PipelineEntry, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM pipeline_entries
		 WHERE tenant_id = $1 AND pipeline_id = $2 AND entity_type = $3 AND entity_id = $4
		   AND stage_status NOT IN ('COMPLETED', 'CANCELLED')`,
		tenantID, pipelineID, entityType, entityID)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// UpdateEntry writes the entry back conditionally on expectedRevision and
// bumps the revision. Zero rows affected means a concurrent writer got there
// first.
func (r *PostgresRepository) UpdateEntry(ctx context.Context, entry *models.PipelineEntry, expectedRevision int) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("marshal entry data: %w", err)
	}
	entry.UpdatedAt = time.Now().UTC()

	tag, err := r.db.Exec(ctx,
		`UPDATE pipeline_entries SET
			current_stage = $1, previous_stage = $2, stage_status = $3, progress = $4,
			percentage_complete = $5, moved_at = $6, sla_deadline = $7, sla_breached = $8,
			notes = $9, data = $10, revision = revision + 1, updated_at = $11
		 WHERE id = $12 AND revision = $13`,
		entry.CurrentStage, entry.PreviousStage, entry.StageStatus, entry.Progress,
		entry.PercentageComplete, entry.MovedAt, entry.SLADeadline, entry.SLABreached,
		entry.Notes, data, entry.UpdatedAt, entry.ID, expectedRevision)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRevisionConflict
	}
	entry.Revision = expectedRevision + 1
	return nil
}

// ListEntries returns entries for a tenant matching the filter.
func (r *PostgresRepository) ListEntries(ctx context.Context, tenantID string, filter EntryFilter) ([]*models.PipelineEntry, error) {
	q := psql.Select(entryColumns).
		From("pipeline_entries").
		Where(sq.Eq{"tenant_id": tenantID}).
		OrderBy("moved_at DESC")

	if filter.PipelineID != "" {
		q = q.Where(sq.Eq{"pipeline_id": filter.PipelineID})
	}
	if filter.EntityType != "" {
		q = q.Where(sq.Eq{"entity_type": filter.EntityType})
	}
	if filter.StageStatus != "" {
		q = q.Where(sq.Eq{"stage_status": filter.StageStatus})
	}
	if filter.Stage != "" {
		q = q.Where(sq.Eq{"current_stage": filter.Stage})
	}
	if filter.Breached != nil {
		q = q.Where(sq.Eq{"sla_breached": *filter.Breached})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.PipelineEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListBreachCandidates returns open SLA-tracked entries past their deadline
// that are not yet flagged. Cross-tenant on purpose: the sweep runs once for
// the whole installation.
func (r *PostgresRepository) ListBreachCandidates(ctx context.Context, now time.Time, limit int) ([]*models.PipelineEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+entryColumns+` FROM pipeline_entries
		 WHERE sla_deadline IS NOT NULL AND sla_deadline < $1 AND sla_breached = false
		   AND stage_status NOT IN ('COMPLETED', 'CANCELLED')
		 ORDER BY sla_deadline LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.PipelineEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// AppendEvent appends a journey event. The log is insert-only; there is no
// update or delete path.
func (r *PostgresRepository) AppendEvent(ctx context.Context, event *models.JourneyEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO journey_events
		 (id, pipeline_entry_id, event_type, from_stage, to_stage, description, triggered_by, triggered_by_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.PipelineEntryID, event.EventType, event.FromStage, event.ToStage,
		event.Description, event.TriggeredBy, event.TriggeredByType, payload, event.CreatedAt)
	return err
}

// ListEvents returns up to limit events for an entry, most recent first.
func (r *PostgresRepository) ListEvents(ctx context.Context, entryID string, limit int) ([]*models.JourneyEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, pipeline_entry_id, event_type, from_stage, to_stage, description, triggered_by, triggered_by_type, payload, created_at
		 FROM journey_events WHERE pipeline_entry_id = $1 ORDER BY created_at DESC LIMIT $2`,
		entryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.JourneyEvent
	for rows.Next() {
		var ev models.JourneyEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.PipelineEntryID, &ev.EventType, &ev.FromStage, &ev.ToStage,
			&ev.Description, &ev.TriggeredBy, &ev.TriggeredByType, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// CreateTenant inserts a tenant.
func (r *PostgresRepository) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	_, err := r.db.Exec(ctx,
		`INSERT INTO tenants (id, name, domain, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		tenant.ID, tenant.Name, tenant.Domain, tenant.CreatedAt, tenant.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetTenantByDomain retrieves a tenant by its email domain.
func (r *PostgresRepository) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.QueryRow(ctx,
		`SELECT id, name, domain, created_at, updated_at FROM tenants WHERE domain = $1`,
		domain).Scan(&t.ID, &t.Name, &t.Domain, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
