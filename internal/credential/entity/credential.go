package entity

import (
	"time"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/access"
)

// Credential is a shared login. Stored in `credentials`; grants live in
// `credential_users` and `credential_teams`. Password holds the stored form
// (sealed when encryption is on) until the service opens it.
type Credential struct {
	ID          int64      `db:"id" json:"id"`
	Label       string     `db:"label" json:"label"`
	URL         string     `db:"url" json:"url"`
	URLPattern  *string    `db:"url_pattern" json:"urlPattern"`
	Username    string     `db:"username" json:"username"`
	Password    string     `db:"password" json:"password,omitempty"`
	Description string     `db:"description" json:"description"`
	ProjectID   *int64     `db:"project_id" json:"projectId"`
	ProjectName *string    `db:"project_name" json:"projectName,omitempty"`
	CreatedByID int64      `db:"created_by" json:"createdBy"`
	IsActive    bool       `db:"is_active" json:"isActive"`
	LastUsed    *time.Time `db:"last_used" json:"lastUsed"`
	UseCount    int        `db:"use_count" json:"useCount"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

// Filter narrows credential listings.
type Filter struct {
	ProjectID *int64
	Search    string
}

// Assignments lists who holds grants on a credential.
type Assignments struct {
	Users []access.Assignment `json:"users"`
	Teams []access.TeamRef    `json:"teams"`
}
