package entity

import (
	"time"

	userentity "github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

// Team is a named group of users that share access grants. Stored in the
// `teams` table; membership lives in `user_teams`.
type Team struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedByID int64     `db:"created_by" json:"createdBy"`
	IsActive    bool      `db:"is_active" json:"isActive"`
	UserCount   int       `db:"user_count" json:"userCount"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Detail is a team with its members.
type Detail struct {
	Team
	Members []userentity.Summary `json:"members"`
}
