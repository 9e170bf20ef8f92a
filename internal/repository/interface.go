// Package repository defines persistence interfaces for the pipeline engine
// and their PostgreSQL implementation.
package repository

import (
	"context"
	"errors"
	"time"

	"admitflow/backend/pkg/models"
)

// Sentinel errors shared by all store implementations.
var (
	// ErrNotFound is returned when a requested row does not exist in the
	// caller's tenant scope.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint, e.g. a second open entry for the same entity in a pipeline.
	ErrDuplicate = errors.New("repository: duplicate")
	// ErrRevisionConflict is returned when a conditional update lost the race
	// against a concurrent writer. Callers re-read and retry.
	ErrRevisionConflict = errors.New("repository: revision conflict")
)

// EntryFilter narrows ListEntries. Zero values mean "no constraint".
type EntryFilter struct {
	PipelineID  string
	EntityType  models.EntityType
	StageStatus models.StageStatus
	Stage       string
	Breached    *bool
	Limit       int
	Offset      int
}

// PipelineStore persists pipeline definitions, scoped by tenant.
type PipelineStore interface {
	CreateDefinition(ctx context.Context, def *models.PipelineDefinition) error
	GetDefinition(ctx context.Context, tenantID, id string) (*models.PipelineDefinition, error)
	ListDefinitions(ctx context.Context, tenantID string) ([]*models.PipelineDefinition, error)
}

// EntryStore persists pipeline entries. UpdateEntry is conditional on the
// entry's current revision; it increments the revision on success and returns
// ErrRevisionConflict when expectedRevision is stale. This is the per-entry
// serialization primitive for the whole engine.
type EntryStore interface {
	CreateEntry(ctx context.Context, entry *models.PipelineEntry) error
	GetEntry(ctx context.Context, tenantID, id string) (*models.PipelineEntry, error)
	// FindOpenEntry returns the open entry for (pipelineID, entityType,
	// entityID), or ErrNotFound.
	FindOpenEntry(ctx context.Context, tenantID, pipelineID string, entityType models.EntityType, entityID string) (*models.PipelineEntry, error)
	UpdateEntry(ctx context.Context, entry *models.PipelineEntry, expectedRevision int) error
	ListEntries(ctx context.Context, tenantID string, filter EntryFilter) ([]*models.PipelineEntry, error)
	// ListBreachCandidates returns open entries across all tenants whose SLA
	// deadline has passed and that have not been flagged yet.
	ListBreachCandidates(ctx context.Context, now time.Time, limit int) ([]*models.PipelineEntry, error)
}

// EventStore is the append-only journey log.
type EventStore interface {
	AppendEvent(ctx context.Context, event *models.JourneyEvent) error
	// ListEvents returns up to limit events for an entry, most recent first.
	ListEvents(ctx context.Context, entryID string, limit int) ([]*models.JourneyEvent, error)
}

// TenantStore persists tenants.
type TenantStore interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
}

// Repository is the full persistence surface consumed by the engine and the
// API layer.
type Repository interface {
	PipelineStore
	EntryStore
	EventStore
	TenantStore
	Ping(ctx context.Context) error
}
