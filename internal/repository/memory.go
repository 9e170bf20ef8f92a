package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"admitflow/backend/pkg/models"
)

// InMemory is a map-backed Repository used by engine unit tests and local
// development without a database. It mirrors the Postgres semantics exactly:
// duplicate detection on open entries, revision-conditional updates, append-
// only events.
type InMemory struct {
	mu      sync.Mutex
	defs    map[string]*models.PipelineDefinition
	entries map[string]*models.PipelineEntry
	events  []*models.JourneyEvent
	tenants map[string]*models.Tenant // keyed by domain
}

var _ Repository = (*InMemory)(nil)

// NewInMemory creates an empty in-memory repository.
func NewInMemory() *InMemory {
	return &InMemory{
		defs:    make(map[string]*models.PipelineDefinition),
		entries: make(map[string]*models.PipelineEntry),
		tenants: make(map[string]*models.Tenant),
	}
}

// Ping always succeeds.
func (r *InMemory) Ping(ctx context.Context) error { return nil }

func copyEntry(e *models.PipelineEntry) *models.PipelineEntry {
	c := *e
	if e.SLADeadline != nil {
		d := *e.SLADeadline
		c.SLADeadline = &d
	}
	if e.Data != nil {
		c.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// CreateDefinition stores a pipeline definition.
func (r *InMemory) CreateDefinition(ctx context.Context, def *models.PipelineDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if _, ok := r.defs[def.ID]; ok {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now
	r.defs[def.ID] = def
	return nil
}

// GetDefinition retrieves a definition by id within a tenant.
func (r *InMemory) GetDefinition(ctx context.Context, tenantID, id string) (*models.PipelineDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[id]
	if !ok || def.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return def, nil
}

// ListDefinitions returns all definitions for a tenant.
func (r *InMemory) ListDefinitions(ctx context.Context, tenantID string) ([]*models.PipelineDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var defs []*models.PipelineDefinition
	for _, def := range r.defs {
		if def.TenantID == tenantID {
			defs = append(defs, def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].CreatedAt.Before(defs[j].CreatedAt) })
	return defs, nil
}

// CreateEntry stores an entry, enforcing the one-open-entry invariant.
func (r *InMemory) CreateEntry(ctx context.Context, entry *models.PipelineEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Open() && e.TenantID == entry.TenantID && e.PipelineID == entry.PipelineID &&
			e.EntityType == entry.EntityType && e.EntityID == entry.EntityID {
			return ErrDuplicate
		}
	}
	r.entries[entry.ID] = copyEntry(entry)
	return nil
}

// GetEntry retrieves an entry by id within a tenant.
func (r *InMemory) GetEntry(ctx context.Context, tenantID, id string) (*models.PipelineEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return copyEntry(e), nil
}

// FindOpenEntry returns the open entry tracking an entity in a pipeline.
func (r *InMemory) FindOpenEntry(ctx context.Context, tenantID, pipelineID string, entityType models.EntityType, entityID string) (*models.PipelineEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Open() && e.TenantID == tenantID && e.PipelineID == pipelineID &&
			e.EntityType == entityType && e.EntityID == entityID {
			return copyEntry(e), nil
		}
	}
	return nil, ErrNotFound
}

// UpdateEntry applies a revision-conditional update.
func (r *InMemory) UpdateEntry(ctx context.Context, entry *models.PipelineEntry, expectedRevision int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.entries[entry.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Revision != expectedRevision {
		return ErrRevisionConflict
	}
	entry.Revision = expectedRevision + 1
	entry.UpdatedAt = time.Now().UTC()
	r.entries[entry.ID] = copyEntry(entry)
	return nil
}

// ListEntries returns entries for a tenant matching the filter.
func (r *InMemory) ListEntries(ctx context.Context, tenantID string, filter EntryFilter) ([]*models.PipelineEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var entries []*models.PipelineEntry
	for _, e := range r.entries {
		if e.TenantID != tenantID {
			continue
		}
		if filter.PipelineID != "" && e.PipelineID != filter.PipelineID {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.StageStatus != "" && e.StageStatus != filter.StageStatus {
			continue
		}
		if filter.Stage != "" && e.CurrentStage != filter.Stage {
			continue
		}
		if filter.Breached != nil && e.SLABreached != *filter.Breached {
			continue
		}
		entries = append(entries, copyEntry(e))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].MovedAt.After(entries[j].MovedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[filter.Offset:]
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

// ListBreachCandidates returns open entries past their SLA deadline.
func (r *InMemory) ListBreachCandidates(ctx context.Context, now time.Time, limit int) ([]*models.PipelineEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var entries []*models.PipelineEntry
	for _, e := range r.entries {
		if e.Open() && !e.SLABreached && e.SLADeadline != nil && e.SLADeadline.Before(now) {
			entries = append(entries, copyEntry(e))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SLADeadline.Before(*entries[j].SLADeadline) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// AppendEvent appends to the journey log.
func (r *InMemory) AppendEvent(ctx context.Context, event *models.JourneyEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	ev := *event
	r.events = append(r.events, &ev)
	return nil
}

// ListEvents returns up to limit events for an entry, most recent first.
func (r *InMemory) ListEvents(ctx context.Context, entryID string, limit int) ([]*models.JourneyEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []*models.JourneyEvent
	for _, ev := range r.events {
		if ev.PipelineEntryID == entryID {
			e := *ev
			events = append(events, &e)
		}
	}
	// Stable reverse-chronological: events land in append order, so walk the
	// slice backwards rather than sorting on equal timestamps.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// CreateTenant stores a tenant.
func (r *InMemory) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[tenant.Domain]; ok {
		return ErrDuplicate
	}
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	r.tenants[tenant.Domain] = tenant
	return nil
}

// GetTenantByDomain retrieves a tenant by domain.
func (r *InMemory) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[domain]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}
