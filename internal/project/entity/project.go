package entity

import (
	"time"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/access"
)

// Project groups credentials. Stored in `projects`; grants live in
// `project_users` and `project_teams`.
type Project struct {
	ID              int64     `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Description     string    `db:"description" json:"description"`
	CreatedByID     int64     `db:"created_by" json:"createdBy"`
	IsActive        bool      `db:"is_active" json:"isActive"`
	CredentialCount int       `db:"credential_count" json:"credentialCount"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// Assignments lists who holds grants on a project.
type Assignments struct {
	Users []access.Assignment `json:"users"`
	Teams []access.TeamRef    `json:"teams"`
}
