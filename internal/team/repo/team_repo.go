package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/naming"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/team/entity"
	userentity "github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

// TeamRepo provides data access for teams and user_teams.
type TeamRepo struct {
	db *sqlx.DB
}

func NewTeamRepo(db *sqlx.DB) *TeamRepo { return &TeamRepo{db: db} }

// EnsureTable creates teams and user_teams (idempotent). users must exist.
func (r *TeamRepo) EnsureTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS teams (
  id BIGINT PRIMARY KEY,
  name VARCHAR(100) NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  created_by BIGINT NOT NULL REFERENCES users(id),
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_teams_name ON teams(name)`,
		`CREATE TABLE IF NOT EXISTS user_teams (
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
  created_at TIMESTAMP NOT NULL,
  PRIMARY KEY (user_id, team_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_user_teams_team ON user_teams(team_id)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

const teamSelect = `SELECT t.id, t.name, t.description, t.created_by, t.is_active, t.created_at, t.updated_at,
	(SELECT COUNT(*) FROM user_teams ut WHERE ut.team_id = t.id) AS user_count
	FROM teams t`

func (r *TeamRepo) Create(ctx context.Context, t *entity.Team) error {
	q := `INSERT INTO teams (id, name, description, created_by, is_active, created_at, updated_at)
		VALUES (:id, :name, :description, :created_by, :is_active, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, q, t)
	return err
}

// GetByID returns a team (active or not) or sql.ErrNoRows.
func (r *TeamRepo) GetByID(ctx context.Context, id int64) (*entity.Team, error) {
	var t entity.Team
	if err := r.db.GetContext(ctx, &t, r.db.Rebind(teamSelect+` WHERE t.id = ?`), id); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListActive returns active teams ordered by name.
func (r *TeamRepo) ListActive(ctx context.Context) ([]*entity.Team, error) {
	out := []*entity.Team{}
	q := r.db.Rebind(teamSelect + ` WHERE t.is_active = ? ORDER BY t.name`)
	if err := r.db.SelectContext(ctx, &out, q, true); err != nil {
		return nil, err
	}
	return out, nil
}

// ListForUser returns the active teams userID belongs to.
func (r *TeamRepo) ListForUser(ctx context.Context, userID int64) ([]*entity.Team, error) {
	out := []*entity.Team{}
	q := r.db.Rebind(teamSelect + ` JOIN user_teams m ON m.team_id = t.id
		WHERE m.user_id = ? AND t.is_active = ? ORDER BY t.name`)
	if err := r.db.SelectContext(ctx, &out, q, userID, true); err != nil {
		return nil, err
	}
	return out, nil
}

// Names returns every team name, inactive ones included.
func (r *TeamRepo) Names(ctx context.Context) ([]naming.Candidate, error) {
	out := []naming.Candidate{}
	err := r.db.SelectContext(ctx, &out, `SELECT id, name, is_active FROM teams ORDER BY created_at, id`)
	return out, err
}

func (r *TeamRepo) Update(ctx context.Context, id int64, name, description string) error {
	q := r.db.Rebind(`UPDATE teams SET name = ?, description = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, name, description, time.Now().UTC(), id)
	return err
}

// SoftDeleteIfEmpty deactivates the team only while it has no members, in a
// single statement so a member added concurrently blocks the delete. It
// reports whether the row changed.
func (r *TeamRepo) SoftDeleteIfEmpty(ctx context.Context, id int64) (bool, error) {
	q := r.db.Rebind(`UPDATE teams SET is_active = ?, updated_at = ?
		WHERE id = ? AND is_active = ? AND NOT EXISTS (SELECT 1 FROM user_teams WHERE team_id = ?)`)
	res, err := r.db.ExecContext(ctx, q, false, time.Now().UTC(), id, true, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Members returns the users in a team ordered by id.
func (r *TeamRepo) Members(ctx context.Context, teamID int64) ([]userentity.Summary, error) {
	out := []userentity.Summary{}
	q := r.db.Rebind(`SELECT u.id, u.email, u.first_name, u.last_name, u.role, u.state
		FROM users u JOIN user_teams m ON m.user_id = u.id WHERE m.team_id = ? ORDER BY u.id`)
	if err := r.db.SelectContext(ctx, &out, q, teamID); err != nil {
		return nil, err
	}
	return out, nil
}

// AddMembers inserts memberships, skipping users already in the team. It
// runs on q so callers can batch inside a transaction. Returns how many rows
// were added.
func AddMembers(ctx context.Context, q sqlx.ExtContext, teamID int64, userIDs []int64) (int, error) {
	added := 0
	now := time.Now().UTC()
	stmt := q.Rebind(`INSERT INTO user_teams (user_id, team_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`)
	for _, uid := range userIDs {
		res, err := q.ExecContext(ctx, stmt, uid, teamID, now)
		if err != nil {
			return added, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return added, err
		}
		added += int(n)
	}
	return added, nil
}

// RemoveMembers deletes memberships and returns how many rows went away.
func RemoveMembers(ctx context.Context, q sqlx.ExtContext, teamID int64, userIDs []int64) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	stmt, args, err := sqlx.In(`DELETE FROM user_teams WHERE team_id = ? AND user_id IN (?)`, teamID, userIDs)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, q.Rebind(stmt), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DB exposes the handle for transactional batches.
func (r *TeamRepo) DB() *sqlx.DB { return r.db }
