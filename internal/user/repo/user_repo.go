package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

// UserRepo provides data access for the users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, email, password_hash, first_name, last_name, email_verified, role, state,
	token_version, last_login, created_at, updated_at`

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
  id BIGINT PRIMARY KEY,
  email VARCHAR(255) NOT NULL,
  password_hash TEXT NOT NULL,
  first_name VARCHAR(100) NOT NULL DEFAULT '',
  last_name VARCHAR(100) NOT NULL DEFAULT '',
  email_verified BOOLEAN NOT NULL DEFAULT FALSE,
  role INTEGER NOT NULL DEFAULT 0,
  state INTEGER NOT NULL DEFAULT 0,
  token_version BIGINT NOT NULL DEFAULT 1,
  last_login TIMESTAMP,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		`CREATE INDEX IF NOT EXISTS idx_users_state ON users(state)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts a new user row. The caller assigns the ID.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	q := `INSERT INTO users (id, email, password_hash, first_name, last_name, email_verified, role, state,
		token_version, created_at, updated_at)
		VALUES (:id, :email, :password_hash, :first_name, :last_name, :email_verified, :role, :state,
		:token_version, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, q, u)
	return err
}

// Count returns the number of user rows, trashed included.
func (r *UserRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`)
	return n, err
}

// GetByID fetches a user or sql.ErrNoRows.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	var u entity.User
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	if err := r.db.GetContext(ctx, &u, q, id); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail fetches a user by lowercased email or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	var u entity.User
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE email = ?`)
	if err := r.db.GetContext(ctx, &u, q, strings.ToLower(email)); err != nil {
		return nil, err
	}
	return &u, nil
}

// List returns users matching f ordered by creation. Trashed users are
// excluded unless f.State asks for them.
func (r *UserRepo) List(ctx context.Context, f entity.Filter) ([]*entity.User, error) {
	var (
		where []string
		args  []any
	)
	if f.State != nil {
		where = append(where, "state = ?")
		args = append(args, *f.State)
	} else {
		where = append(where, "state <> ?")
		args = append(args, entity.StateTrashed)
	}
	if f.Role != nil {
		where = append(where, "role = ?")
		args = append(args, *f.Role)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		where = append(where, "(LOWER(email) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?)")
		args = append(args, like, like, like)
	}
	q := `SELECT ` + userColumns + ` FROM users WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at, id`
	out := []*entity.User{}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Summaries loads the public projection for the given ids.
func (r *UserRepo) Summaries(ctx context.Context, ids []int64) ([]entity.Summary, error) {
	out := []entity.Summary{}
	if len(ids) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(`SELECT id, email, first_name, last_name, role, state FROM users WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return out, nil
}

// CountActiveAdminsExcluding counts active admins other than userID.
func (r *UserRepo) CountActiveAdminsExcluding(ctx context.Context, userID int64) (int, error) {
	var n int
	q := r.db.Rebind(`SELECT COUNT(*) FROM users WHERE role = ? AND state = ? AND id <> ?`)
	err := r.db.GetContext(ctx, &n, q, entity.RoleAdmin, entity.StateActive, userID)
	return n, err
}

// Stats aggregates counts for the admin overview.
func (r *UserRepo) Stats(ctx context.Context) (*entity.Stats, error) {
	var rows []struct {
		State    entity.State `db:"state"`
		Role     entity.Role  `db:"role"`
		Verified bool         `db:"email_verified"`
		N        int          `db:"n"`
	}
	const q = `SELECT state, role, email_verified, COUNT(*) AS n FROM users GROUP BY state, role, email_verified`
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	var st entity.Stats
	for _, row := range rows {
		switch row.State {
		case entity.StateActive:
			st.Active += row.N
		case entity.StatePending:
			st.Pending += row.N
		case entity.StateBlocked:
			st.Blocked += row.N
		case entity.StateTrashed:
			st.Trashed += row.N
			continue
		}
		st.Total += row.N
		if row.Role == entity.RoleAdmin {
			st.Admins += row.N
		}
		if !row.Verified {
			st.Unverified += row.N
		}
	}
	return &st, nil
}

// UpdateProfile writes names and email. It runs on q so callers can group
// it with other writes in a transaction.
func UpdateProfile(ctx context.Context, q sqlx.ExtContext, id int64, firstName, lastName, email string) error {
	stmt := q.Rebind(`UPDATE users SET first_name = ?, last_name = ?, email = ?, updated_at = ? WHERE id = ?`)
	_, err := q.ExecContext(ctx, stmt, firstName, lastName, strings.ToLower(email), now(), id)
	return err
}

// UpdatePassword replaces the hash and bumps token_version so tokens issued
// before the change stop validating.
func UpdatePassword(ctx context.Context, q sqlx.ExtContext, id int64, hash string) error {
	stmt := q.Rebind(`UPDATE users SET password_hash = ?, token_version = token_version + 1, updated_at = ? WHERE id = ?`)
	_, err := q.ExecContext(ctx, stmt, hash, now(), id)
	return err
}

func SetRole(ctx context.Context, q sqlx.ExtContext, id int64, role entity.Role) error {
	stmt := q.Rebind(`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`)
	_, err := q.ExecContext(ctx, stmt, role, now(), id)
	return err
}

func SetState(ctx context.Context, q sqlx.ExtContext, id int64, state entity.State) error {
	stmt := q.Rebind(`UPDATE users SET state = ?, updated_at = ? WHERE id = ?`)
	_, err := q.ExecContext(ctx, stmt, state, now(), id)
	return err
}

// MarkEmailVerified sets email_verified; it reports false when the user
// was already verified or does not exist.
func (r *UserRepo) MarkEmailVerified(ctx context.Context, id int64) (bool, error) {
	q := r.db.Rebind(`UPDATE users SET email_verified = ?, updated_at = ? WHERE id = ? AND email_verified = ?`)
	res, err := r.db.ExecContext(ctx, q, true, now(), id, false)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// TouchLastLogin records a successful authentication.
func (r *UserRepo) TouchLastLogin(ctx context.Context, id int64) error {
	t := now()
	q := r.db.Rebind(`UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, t, t, id)
	return err
}

// Exists reports whether a user row with id exists.
func (r *UserRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := r.db.GetContext(ctx, &one, r.db.Rebind(`SELECT 1 FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func now() time.Time { return time.Now().UTC() }
