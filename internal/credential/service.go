package credential

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
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/credential/entity"
	credentialrepo "github.com/ovaphlow/pitchfork/service-chromepass/internal/credential/repo"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/secret"
	userentity "github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-chromepass/pkg/utilities"
)

// ProjectChecker confirms the actor can see a project before a credential
// is filed under it.
type ProjectChecker interface {
	Visible(ctx context.Context, actor *userentity.User, id int64) error
}

// Service manages credentials, their grants and URL lookups.
type Service struct {
	repo     *credentialrepo.CredentialRepo
	resolver *access.Resolver
	projects ProjectChecker
	box      *secret.Box
	logger   *zap.SugaredLogger
}

func NewService(db *sqlx.DB, resolver *access.Resolver, projects ProjectChecker, box *secret.Box, logger *zap.SugaredLogger) *Service {
	return &Service{
		repo:     credentialrepo.NewCredentialRepo(db),
		resolver: resolver,
		projects: projects,
		box:      box,
		logger:   logger,
	}
}

// EnsureTables creates credentials, credential_users and credential_teams.
func (s *Service) EnsureTables(ctx context.Context) error {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return fmt.Errorf("credentials table: %w", err)
	}
	return nil
}

// visibleIDs returns nil for admins (no restriction) and the reachable ids
// for everybody else.
func (s *Service) visibleIDs(ctx context.Context, actor *userentity.User) ([]int64, error) {
	if actor.IsAdmin() {
		return nil, nil
	}
	ids, err := s.resolver.ResolveAccessibleCredentialIDs(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	return ids.Sorted(), nil
}

// List returns the credentials the actor can see, without passwords.
func (s *Service) List(ctx context.Context, actor *userentity.User, f entity.Filter) ([]*entity.Credential, error) {
	ids, err := s.visibleIDs(ctx, actor)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.List(ctx, ids, f)
	if err != nil {
		return nil, apperror.Internal("list credentials", err)
	}
	for _, c := range out {
		c.Password = ""
	}
	return out, nil
}

// Get returns a credential with its password opened. Credentials the actor
// cannot see are reported as missing.
func (s *Service) Get(ctx context.Context, actor *userentity.User, id int64) (*entity.Credential, error) {
	c, err := s.loadVisible(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.open(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) loadVisible(ctx context.Context, actor *userentity.User, id int64) (*entity.Credential, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("Credential not found")
		}
		return nil, apperror.Internal("load credential", err)
	}
	if !c.IsActive {
		return nil, apperror.NotFound("Credential not found")
	}
	if actor.IsAdmin() || c.CreatedByID == actor.ID {
		return c, nil
	}
	ok, err := s.resolver.CanAccess(ctx, access.Credentials, actor.ID, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.NotFound("Credential not found")
	}
	return c, nil
}

func (s *Service) loadForUpdate(ctx context.Context, actor *userentity.User, id int64) (*entity.Credential, error) {
	c, err := s.loadVisible(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, c.CreatedByID, "credential"); err != nil {
		return nil, err
	}
	return c, nil
}

// Input is the create/update payload. Nil fields are left unchanged on
// update. An empty URLPattern clears it; ProjectID 0 detaches the project.
type Input struct {
	Label       *string
	URL         *string
	URLPattern  *string
	Username    *string
	Password    *string
	Description *string
	ProjectID   *int64
}

func (s *Service) Create(ctx context.Context, actor *userentity.User, in Input) (*entity.Credential, error) {
	required := []struct {
		field string
		v     *string
	}{{"label", in.Label}, {"url", in.URL}, {"username", in.Username}, {"password", in.Password}}
	for _, r := range required {
		if r.v == nil || strings.TrimSpace(*r.v) == "" {
			return nil, apperror.Validationf("%s is required", r.field)
		}
	}
	now := time.Now().UTC()
	c := &entity.Credential{
		ID:          utilities.NewID(),
		CreatedByID: actor.ID,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.apply(ctx, actor, c, in); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, apperror.Internal("create credential", err)
	}
	s.logger.Infow("credential created", "credential_id", c.ID, "created_by", actor.ID)
	return s.Get(ctx, actor, c.ID)
}

func (s *Service) Update(ctx context.Context, actor *userentity.User, id int64, in Input) (*entity.Credential, error) {
	c, err := s.loadForUpdate(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, actor, c, in); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, apperror.Internal("update credential", err)
	}
	return s.Get(ctx, actor, id)
}

// apply validates in and copies it onto c, sealing the password.
func (s *Service) apply(ctx context.Context, actor *userentity.User, c *entity.Credential, in Input) error {
	if in.Label != nil {
		label := strings.TrimSpace(*in.Label)
		if label == "" {
			return apperror.Validation("label is required")
		}
		if utf8.RuneCountInString(label) > 255 {
			return apperror.Validation("label must be at most 255 characters")
		}
		c.Label = label
	}
	if in.URL != nil {
		u := strings.TrimSpace(*in.URL)
		if u == "" {
			return apperror.Validation("url is required")
		}
		c.URL = u
	}
	if in.URLPattern != nil {
		if p := strings.TrimSpace(*in.URLPattern); p != "" {
			if _, err := patternRegexp(p); err != nil {
				return apperror.Validation("urlPattern is invalid")
			}
			c.URLPattern = &p
		} else {
			c.URLPattern = nil
		}
	}
	if in.Username != nil {
		name := strings.TrimSpace(*in.Username)
		if name == "" {
			return apperror.Validation("username is required")
		}
		c.Username = name
	}
	if in.Password != nil {
		if *in.Password == "" {
			return apperror.Validation("password is required")
		}
		sealed, err := s.box.Seal(*in.Password)
		if err != nil {
			return apperror.Internal("seal password", err)
		}
		c.Password = sealed
	}
	if in.Description != nil {
		c.Description = strings.TrimSpace(*in.Description)
	}
	if in.ProjectID != nil {
		if *in.ProjectID == 0 {
			c.ProjectID = nil
		} else {
			if err := s.projects.Visible(ctx, actor, *in.ProjectID); err != nil {
				return err
			}
			pid := *in.ProjectID
			c.ProjectID = &pid
		}
	}
	return nil
}

// Delete soft-deletes a credential.
func (s *Service) Delete(ctx context.Context, actor *userentity.User, id int64) error {
	if _, err := s.loadForUpdate(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return apperror.Internal("delete credential", err)
	}
	s.logger.Infow("credential deleted", "credential_id", id, "actor", actor.ID)
	return nil
}

// ForURL returns the visible credentials that apply to rawURL, with
// passwords opened, for autofill.
func (s *Service) ForURL(ctx context.Context, actor *userentity.User, rawURL string) ([]*entity.Credential, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, apperror.Validation("url query parameter is required")
	}
	ids, err := s.visibleIDs(ctx, actor)
	if err != nil {
		return nil, err
	}
	all, err := s.repo.List(ctx, ids, entity.Filter{})
	if err != nil {
		return nil, apperror.Internal("list credentials", err)
	}
	out := []*entity.Credential{}
	for _, c := range all {
		if !Matches(c, rawURL) {
			continue
		}
		if err := s.open(c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// RecordUse counts an autofill of a visible credential.
func (s *Service) RecordUse(ctx context.Context, actor *userentity.User, id int64) error {
	if _, err := s.loadVisible(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.RecordUse(ctx, id); err != nil {
		return apperror.Internal("record use", err)
	}
	return nil
}

// Assignments lists the users (with provenance) and teams holding grants.
func (s *Service) Assignments(ctx context.Context, actor *userentity.User, id int64) (*entity.Assignments, error) {
	if _, err := s.loadVisible(ctx, actor, id); err != nil {
		return nil, err
	}
	users, err := s.resolver.ListCredentialAssignments(ctx, id)
	if err != nil {
		return nil, err
	}
	teams, err := s.resolver.GrantedTeams(ctx, access.Credentials, id)
	if err != nil {
		return nil, err
	}
	return &entity.Assignments{Users: users, Teams: teams}, nil
}

// Assign grants a user or team access to the credential.
func (s *Service) Assign(ctx context.Context, actor *userentity.User, id int64, sub access.Subject, subjectID int64) error {
	if _, err := s.loadForUpdate(ctx, actor, id); err != nil {
		return err
	}
	return s.resolver.Grant(ctx, access.Credentials, sub, id, subjectID, actor.ID)
}

// Unassign revokes a user or team grant.
func (s *Service) Unassign(ctx context.Context, actor *userentity.User, id int64, sub access.Subject, subjectID int64) error {
	if _, err := s.loadForUpdate(ctx, actor, id); err != nil {
		return err
	}
	return s.resolver.Revoke(ctx, access.Credentials, sub, id, subjectID)
}

func (s *Service) open(c *entity.Credential) error {
	plain, err := s.box.Open(c.Password)
	if err != nil {
		s.logger.Errorw("credential password unreadable", "credential_id", c.ID, "err", err)
		return apperror.Internal("open password", err)
	}
	c.Password = plain
	return nil
}
