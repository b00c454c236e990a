package repo

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/access"
	accessrepo "github.com/ovaphlow/pitchfork/service-chromepass/internal/access/repo"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/credential/entity"
)

// CredentialRepo provides data access for credentials.
type CredentialRepo struct {
	db *sqlx.DB
}

func NewCredentialRepo(db *sqlx.DB) *CredentialRepo { return &CredentialRepo{db: db} }

// EnsureTable creates credentials plus its grant tables. users, teams and
// projects must exist.
func (r *CredentialRepo) EnsureTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
  id BIGINT PRIMARY KEY,
  label VARCHAR(255) NOT NULL,
  url TEXT NOT NULL,
  url_pattern TEXT NULL,
  username VARCHAR(255) NOT NULL,
  password TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  project_id BIGINT NULL REFERENCES projects(id) ON DELETE SET NULL,
  created_by BIGINT NOT NULL REFERENCES users(id),
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  last_used TIMESTAMP NULL,
  use_count INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_created_by ON credentials(created_by)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_project ON credentials(project_id)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return accessrepo.EnsureGrantTables(ctx, r.db, access.Credentials)
}

const credentialSelect = `SELECT c.id, c.label, c.url, c.url_pattern, c.username, c.password, c.description,
	c.project_id, p.name AS project_name, c.created_by, c.is_active, c.last_used, c.use_count,
	c.created_at, c.updated_at
	FROM credentials c LEFT JOIN projects p ON p.id = c.project_id`

func (r *CredentialRepo) Create(ctx context.Context, c *entity.Credential) error {
	q := `INSERT INTO credentials (id, label, url, url_pattern, username, password, description, project_id,
			created_by, is_active, last_used, use_count, created_at, updated_at)
		VALUES (:id, :label, :url, :url_pattern, :username, :password, :description, :project_id,
			:created_by, :is_active, :last_used, :use_count, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, q, c)
	return err
}

// GetByID returns a credential (active or not) or sql.ErrNoRows.
func (r *CredentialRepo) GetByID(ctx context.Context, id int64) (*entity.Credential, error) {
	var c entity.Credential
	if err := r.db.GetContext(ctx, &c, r.db.Rebind(credentialSelect+` WHERE c.id = ?`), id); err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns active credentials matching f. A nil ids slice means no id
// restriction; an empty one matches nothing.
func (r *CredentialRepo) List(ctx context.Context, ids []int64, f entity.Filter) ([]*entity.Credential, error) {
	out := []*entity.Credential{}
	if ids != nil && len(ids) == 0 {
		return out, nil
	}
	where := []string{"c.is_active = ?"}
	args := []any{true}
	if ids != nil {
		where = append(where, "c.id IN (?)")
		args = append(args, ids)
	}
	if f.ProjectID != nil {
		where = append(where, "c.project_id = ?")
		args = append(args, *f.ProjectID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		where = append(where, "(LOWER(c.label) LIKE ? OR LOWER(c.url) LIKE ? OR LOWER(c.username) LIKE ? OR LOWER(c.description) LIKE ?)")
		args = append(args, like, like, like, like)
	}
	q := credentialSelect + ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY c.label, c.id`
	if ids != nil {
		var err error
		if q, args, err = sqlx.In(q, args...); err != nil {
			return nil, err
		}
	}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Update writes every editable column of c.
func (r *CredentialRepo) Update(ctx context.Context, c *entity.Credential) error {
	c.UpdatedAt = time.Now().UTC()
	q := `UPDATE credentials SET label = :label, url = :url, url_pattern = :url_pattern, username = :username,
		password = :password, description = :description, project_id = :project_id, updated_at = :updated_at
		WHERE id = :id`
	_, err := r.db.NamedExecContext(ctx, q, c)
	return err
}

// SoftDelete marks the credential inactive.
func (r *CredentialRepo) SoftDelete(ctx context.Context, id int64) error {
	q := r.db.Rebind(`UPDATE credentials SET is_active = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, false, time.Now().UTC(), id)
	return err
}

// RecordUse bumps use_count and stamps last_used.
func (r *CredentialRepo) RecordUse(ctx context.Context, id int64) error {
	q := r.db.Rebind(`UPDATE credentials SET use_count = use_count + 1, last_used = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, time.Now().UTC(), id)
	return err
}
