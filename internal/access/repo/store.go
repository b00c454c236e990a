package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/access"
	userentity "github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

// Store answers grant queries against the join tables. Table and column
// names come from access.Kind values, never from request input.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

var _ access.Store = (*Store)(nil)

func (s *Store) TeamIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	out := []int64{}
	q := s.db.Rebind(`SELECT team_id FROM user_teams WHERE user_id = ?`)
	err := s.db.SelectContext(ctx, &out, q, userID)
	return out, err
}

func (s *Store) DirectGrants(ctx context.Context, k access.Kind, userID int64) ([]int64, error) {
	out := []int64{}
	q := s.db.Rebind(fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = ?`, k.ForeignKey, k.UserGrants))
	err := s.db.SelectContext(ctx, &out, q, userID)
	return out, err
}

func (s *Store) TeamGrants(ctx context.Context, k access.Kind, teamIDs []int64) ([]int64, error) {
	out := []int64{}
	if len(teamIDs) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE team_id IN (?)`, k.ForeignKey, k.TeamGrants), teamIDs)
	if err != nil {
		return nil, err
	}
	err = s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...)
	return out, err
}

func (s *Store) CreatedBy(ctx context.Context, k access.Kind, userID int64) ([]int64, error) {
	out := []int64{}
	q := s.db.Rebind(fmt.Sprintf(`SELECT id FROM %s WHERE created_by = ?`, k.Table))
	err := s.db.SelectContext(ctx, &out, q, userID)
	return out, err
}

func (s *Store) ActiveOnly(ctx context.Context, k access.Kind, ids []int64) ([]int64, error) {
	out := []int64{}
	if len(ids) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(fmt.Sprintf(`SELECT id FROM %s WHERE is_active = ? AND id IN (?)`, k.Table), true, ids)
	if err != nil {
		return nil, err
	}
	err = s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...)
	return out, err
}

func (s *Store) DirectGrantees(ctx context.Context, k access.Kind, resourceID int64) ([]userentity.Summary, error) {
	out := []userentity.Summary{}
	q := s.db.Rebind(fmt.Sprintf(`SELECT u.id, u.email, u.first_name, u.last_name, u.role, u.state
		FROM users u JOIN %s g ON g.user_id = u.id WHERE g.%s = ? ORDER BY g.created_at, u.id`, k.UserGrants, k.ForeignKey))
	err := s.db.SelectContext(ctx, &out, q, resourceID)
	return out, err
}

func (s *Store) GrantedTeams(ctx context.Context, k access.Kind, resourceID int64) ([]access.TeamRef, error) {
	out := []access.TeamRef{}
	q := s.db.Rebind(fmt.Sprintf(`SELECT t.id, t.name FROM teams t JOIN %s g ON g.team_id = t.id
		WHERE g.%s = ? AND t.is_active = ? ORDER BY g.created_at, t.id`, k.TeamGrants, k.ForeignKey))
	err := s.db.SelectContext(ctx, &out, q, resourceID, true)
	return out, err
}

func (s *Store) TeamMembers(ctx context.Context, teamID int64) ([]userentity.Summary, error) {
	out := []userentity.Summary{}
	q := s.db.Rebind(`SELECT u.id, u.email, u.first_name, u.last_name, u.role, u.state
		FROM users u JOIN user_teams m ON m.user_id = u.id WHERE m.team_id = ? ORDER BY u.id`)
	err := s.db.SelectContext(ctx, &out, q, teamID)
	return out, err
}

func grantTable(k access.Kind, sub access.Subject) (table, col string) {
	if sub == access.SubjectTeam {
		return k.TeamGrants, "team_id"
	}
	return k.UserGrants, "user_id"
}

// Grant adds a user or team grant on a resource, ignoring duplicates. It
// reports whether a row was inserted. q may be a transaction.
func Grant(ctx context.Context, q sqlx.ExtContext, k access.Kind, sub access.Subject, resourceID, subjectID, assignedBy int64) (bool, error) {
	table, col := grantTable(k, sub)
	stmt := q.Rebind(fmt.Sprintf(`INSERT INTO %s (%s, %s, assigned_by, created_at) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`, table, k.ForeignKey, col))
	res, err := q.ExecContext(ctx, stmt, resourceID, subjectID, assignedBy, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Revoke removes a grant and reports whether a row went away.
func Revoke(ctx context.Context, q sqlx.ExtContext, k access.Kind, sub access.Subject, resourceID, subjectID int64) (bool, error) {
	table, col := grantTable(k, sub)
	stmt := q.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE %s = ? AND %s = ?`, table, k.ForeignKey, col))
	res, err := q.ExecContext(ctx, stmt, resourceID, subjectID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// EnsureGrantTables creates the user and team grant tables for k. The
// resource table, users and teams must exist.
func EnsureGrantTables(ctx context.Context, db *sqlx.DB, k access.Kind) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
  %[2]s BIGINT NOT NULL REFERENCES %[3]s(id) ON DELETE CASCADE,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  assigned_by BIGINT NOT NULL REFERENCES users(id),
  created_at TIMESTAMP NOT NULL,
  PRIMARY KEY (%[2]s, user_id)
)`, k.UserGrants, k.ForeignKey, k.Table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_user ON %[1]s(user_id)`, k.UserGrants),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
  %[2]s BIGINT NOT NULL REFERENCES %[3]s(id) ON DELETE CASCADE,
  team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
  assigned_by BIGINT NOT NULL REFERENCES users(id),
  created_at TIMESTAMP NOT NULL,
  PRIMARY KEY (%[2]s, team_id)
)`, k.TeamGrants, k.ForeignKey, k.Table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_team ON %[1]s(team_id)`, k.TeamGrants),
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// SubjectExists reports whether a grant target can receive grants: a user
// that is not trashed, or an active team.
func (s *Store) SubjectExists(ctx context.Context, sub access.Subject, id int64) (bool, error) {
	var (
		n int
		q string
	)
	if sub == access.SubjectTeam {
		q = s.db.Rebind(`SELECT COUNT(*) FROM teams WHERE id = ? AND is_active = ?`)
		if err := s.db.GetContext(ctx, &n, q, id, true); err != nil {
			return false, err
		}
		return n > 0, nil
	}
	q = s.db.Rebind(`SELECT COUNT(*) FROM users WHERE id = ? AND state <> ?`)
	if err := s.db.GetContext(ctx, &n, q, id, userentity.StateTrashed); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Grant(ctx context.Context, k access.Kind, sub access.Subject, resourceID, subjectID, assignedBy int64) (bool, error) {
	return Grant(ctx, s.db, k, sub, resourceID, subjectID, assignedBy)
}

func (s *Store) Revoke(ctx context.Context, k access.Kind, sub access.Subject, resourceID, subjectID int64) (bool, error) {
	return Revoke(ctx, s.db, k, sub, resourceID, subjectID)
}
