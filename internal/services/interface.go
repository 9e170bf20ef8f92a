// Package services defines the external capabilities the pipeline engine
// consumes (entity lookup, task creation, notification dispatch, messaging)
// and their concrete implementations.
package services

import (
	"context"
	"errors"
	"time"

	"admitflow/backend/pkg/models"
)

// ErrEntityNotFound is returned by EntityStore.Lookup for unknown entities.
var ErrEntityNotFound = errors.New("services: entity not found")

// EntityStore resolves and mutates the records entries track. Dispatch is
// keyed by the tagged entity type, never by inspecting the id.
type EntityStore interface {
	Lookup(ctx context.Context, entityType models.EntityType, entityID string) (*models.Entity, error)
	UpdateFields(ctx context.Context, entityType models.EntityType, entityID string, fields map[string]string) error
}

// TaskRequest describes a task an automation wants created.
type TaskRequest struct {
	TenantID    string
	Title       string
	Description string
	Assignee    string
	DueDate     *time.Time
	EntityID    string
	EntityType  models.EntityType
}

// TaskCreator creates operator tasks.
type TaskCreator interface {
	CreateTask(ctx context.Context, req TaskRequest) (string, error)
}

// Notification is an in-app notification to dispatch.
type Notification struct {
	TenantID      string
	RecipientID   string
	RecipientType string
	Channel       string
	Title         string
	Message       string
	Payload       map[string]any
}

// NotificationDispatcher delivers in-app notifications.
type NotificationDispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// EmailSender sends an email and returns the transport's external id.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

// SMSSender sends an SMS and returns the transport's external id.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}
