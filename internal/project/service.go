package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/access"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/naming"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/project/entity"
	projectrepo "github.com/ovaphlow/pitchfork/service-chromepass/internal/project/repo"
	userentity "github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-chromepass/pkg/database"
	"github.com/ovaphlow/pitchfork/service-chromepass/pkg/utilities"
)

const maxNameLength = 100

// Service manages projects and their grants.
type Service struct {
	repo     *projectrepo.ProjectRepo
	resolver *access.Resolver
	logger   *zap.SugaredLogger
}

func NewService(db *sqlx.DB, resolver *access.Resolver, logger *zap.SugaredLogger) *Service {
	return &Service{repo: projectrepo.NewProjectRepo(db), resolver: resolver, logger: logger}
}

// EnsureTables creates projects, project_users and project_teams.
func (s *Service) EnsureTables(ctx context.Context) error {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return fmt.Errorf("projects table: %w", err)
	}
	return nil
}

// List returns every active project to admins and the reachable ones to
// everybody else.
func (s *Service) List(ctx context.Context, actor *userentity.User) ([]*entity.Project, error) {
	if actor.IsAdmin() {
		out, err := s.repo.ListActive(ctx)
		if err != nil {
			return nil, apperror.Internal("list projects", err)
		}
		return out, nil
	}
	ids, err := s.resolver.ResolveAccessibleProjectIDs(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.ListByIDs(ctx, ids.Sorted())
	if err != nil {
		return nil, apperror.Internal("list projects", err)
	}
	return out, nil
}

// Get returns a project the actor can see. Invisible projects are reported
// as missing.
func (s *Service) Get(ctx context.Context, actor *userentity.User, id int64) (*entity.Project, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() || p.CreatedByID == actor.ID {
		return p, nil
	}
	ok, err := s.resolver.CanAccess(ctx, access.Projects, actor.ID, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.NotFound("Project not found")
	}
	return p, nil
}

// Visible reports whether the actor may file credentials under the project.
func (s *Service) Visible(ctx context.Context, actor *userentity.User, id int64) error {
	_, err := s.Get(ctx, actor, id)
	return err
}

func (s *Service) load(ctx context.Context, id int64) (*entity.Project, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("Project not found")
		}
		return nil, apperror.Internal("load project", err)
	}
	if !p.IsActive {
		return nil, apperror.NotFound("Project not found")
	}
	return p, nil
}

func (s *Service) loadForUpdate(ctx context.Context, actor *userentity.User, id int64) (*entity.Project, error) {
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, p.CreatedByID, "project"); err != nil {
		return nil, err
	}
	return p, nil
}

// Input is the create/update payload. Nil fields are left unchanged on update.
type Input struct {
	Name        *string
	Description *string
}

func (s *Service) Create(ctx context.Context, actor *userentity.User, in Input) (*entity.Project, error) {
	if in.Name == nil {
		return nil, apperror.Validation("Project name is required")
	}
	name, err := cleanName(*in.Name)
	if err != nil {
		return nil, err
	}
	if err := s.checkName(ctx, name, 0); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p := &entity.Project{
		ID:          utilities.NewID(),
		Name:        name,
		CreatedByID: actor.ID,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperror.Conflict("A project with this name already exists", name)
		}
		return nil, apperror.Internal("create project", err)
	}
	s.logger.Infow("project created", "project_id", p.ID, "created_by", actor.ID)
	return p, nil
}

func (s *Service) Update(ctx context.Context, actor *userentity.User, id int64, in Input) (*entity.Project, error) {
	p, err := s.loadForUpdate(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	name, desc := p.Name, p.Description
	if in.Name != nil {
		if name, err = cleanName(*in.Name); err != nil {
			return nil, err
		}
		if name != p.Name {
			if err := s.checkName(ctx, name, id); err != nil {
				return nil, err
			}
		}
	}
	if in.Description != nil {
		desc = strings.TrimSpace(*in.Description)
	}
	if err := s.repo.Update(ctx, id, name, desc); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperror.Conflict("A project with this name already exists", name)
		}
		return nil, apperror.Internal("update project", err)
	}
	return s.load(ctx, id)
}

// Delete soft-deletes a project. Its credentials keep their project_id.
func (s *Service) Delete(ctx context.Context, actor *userentity.User, id int64) error {
	if _, err := s.loadForUpdate(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return apperror.Internal("delete project", err)
	}
	s.logger.Infow("project deleted", "project_id", id, "actor", actor.ID)
	return nil
}

// Assignments lists the users (with provenance) and teams holding grants.
func (s *Service) Assignments(ctx context.Context, actor *userentity.User, id int64) (*entity.Assignments, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	users, err := s.resolver.ListProjectAssignments(ctx, id)
	if err != nil {
		return nil, err
	}
	teams, err := s.resolver.GrantedTeams(ctx, access.Projects, id)
	if err != nil {
		return nil, err
	}
	return &entity.Assignments{Users: users, Teams: teams}, nil
}

// Assign grants a user or team access to the project.
func (s *Service) Assign(ctx context.Context, actor *userentity.User, id int64, sub access.Subject, subjectID int64) error {
	if _, err := s.loadForUpdate(ctx, actor, id); err != nil {
		return err
	}
	return s.resolver.Grant(ctx, access.Projects, sub, id, subjectID, actor.ID)
}

// Unassign revokes a user or team grant.
func (s *Service) Unassign(ctx context.Context, actor *userentity.User, id int64, sub access.Subject, subjectID int64) error {
	if _, err := s.loadForUpdate(ctx, actor, id); err != nil {
		return err
	}
	return s.resolver.Revoke(ctx, access.Projects, sub, id, subjectID)
}

func (s *Service) checkName(ctx context.Context, name string, excludeID int64) error {
	existing, err := s.repo.Names(ctx)
	if err != nil {
		return apperror.Internal("load project names", err)
	}
	if dup, ok := naming.FindConflict(name, existing, excludeID); ok {
		return apperror.Conflict(fmt.Sprintf("A similar project already exists: %q", dup), dup)
	}
	return nil
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.Validation("Project name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", apperror.Validationf("Project name must be at most %d characters", maxNameLength)
	}
	if naming.Normalize(name) == "" {
		return "", apperror.Validation("Project name must contain letters or digits")
	}
	return name, nil
}
