package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/access"
	accessrepo "github.com/ovaphlow/pitchfork/service-chromepass/internal/access/repo"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/naming"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/project/entity"
)

// ProjectRepo provides data access for projects.
type ProjectRepo struct {
	db *sqlx.DB
}

func NewProjectRepo(db *sqlx.DB) *ProjectRepo { return &ProjectRepo{db: db} }

// EnsureTable creates projects plus its grant tables. users and teams must
// exist.
func (r *ProjectRepo) EnsureTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
  id BIGINT PRIMARY KEY,
  name VARCHAR(100) NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  created_by BIGINT NOT NULL REFERENCES users(id),
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_name ON projects(name)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_created_by ON projects(created_by)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return accessrepo.EnsureGrantTables(ctx, r.db, access.Projects)
}

// credential_count is resolved at query time; the credentials table is
// created after this one.
const projectSelect = `SELECT p.id, p.name, p.description, p.created_by, p.is_active, p.created_at, p.updated_at,
	(SELECT COUNT(*) FROM credentials c WHERE c.project_id = p.id AND c.is_active = ?) AS credential_count
	FROM projects p`

func (r *ProjectRepo) Create(ctx context.Context, p *entity.Project) error {
	q := `INSERT INTO projects (id, name, description, created_by, is_active, created_at, updated_at)
		VALUES (:id, :name, :description, :created_by, :is_active, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, q, p)
	return err
}

// GetByID returns a project (active or not) or sql.ErrNoRows.
func (r *ProjectRepo) GetByID(ctx context.Context, id int64) (*entity.Project, error) {
	var p entity.Project
	if err := r.db.GetContext(ctx, &p, r.db.Rebind(projectSelect+` WHERE p.id = ?`), true, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListActive returns every active project ordered by name.
func (r *ProjectRepo) ListActive(ctx context.Context) ([]*entity.Project, error) {
	out := []*entity.Project{}
	q := r.db.Rebind(projectSelect + ` WHERE p.is_active = ? ORDER BY p.name`)
	if err := r.db.SelectContext(ctx, &out, q, true, true); err != nil {
		return nil, err
	}
	return out, nil
}

// ListByIDs returns the active projects among ids ordered by name.
func (r *ProjectRepo) ListByIDs(ctx context.Context, ids []int64) ([]*entity.Project, error) {
	out := []*entity.Project{}
	if len(ids) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(projectSelect+` WHERE p.is_active = ? AND p.id IN (?) ORDER BY p.name`, true, true, ids)
	if err != nil {
		return nil, err
	}
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Names returns every project name, inactive ones included.
func (r *ProjectRepo) Names(ctx context.Context) ([]naming.Candidate, error) {
	out := []naming.Candidate{}
	err := r.db.SelectContext(ctx, &out, `SELECT id, name, is_active FROM projects ORDER BY created_at, id`)
	return out, err
}

func (r *ProjectRepo) Update(ctx context.Context, id int64, name, description string) error {
	q := r.db.Rebind(`UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, name, description, time.Now().UTC(), id)
	return err
}

// SoftDelete marks the project inactive.
func (r *ProjectRepo) SoftDelete(ctx context.Context, id int64) error {
	q := r.db.Rebind(`UPDATE projects SET is_active = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, false, time.Now().UTC(), id)
	return err
}
