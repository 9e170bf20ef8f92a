package models

import (
	"time"
)

// Tenant is the owning organization for pipelines, entries and entities.
// Tenants are resolved from the authenticated user's email domain and
// auto-provisioned on first sight.
type Tenant struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Domain    string    `json:"domain" db:"domain"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
