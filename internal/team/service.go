package team

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
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/team/entity"
	teamrepo "github.com/ovaphlow/pitchfork/service-chromepass/internal/team/repo"
	userentity "github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-chromepass/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-chromepass/pkg/database"
	"github.com/ovaphlow/pitchfork/service-chromepass/pkg/utilities"
)

const maxNameLength = 100

// Service manages teams and their memberships.
type Service struct {
	db     *sqlx.DB
	repo   *teamrepo.TeamRepo
	users  *userrepo.UserRepo
	logger *zap.SugaredLogger
}

func NewService(db *sqlx.DB, logger *zap.SugaredLogger) *Service {
	return &Service{
		db:     db,
		repo:   teamrepo.NewTeamRepo(db),
		users:  userrepo.NewUserRepo(db),
		logger: logger,
	}
}

// EnsureTables creates teams and user_teams. The users table must exist.
func (s *Service) EnsureTables(ctx context.Context) error {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return fmt.Errorf("teams table: %w", err)
	}
	return nil
}

// List returns active teams with member counts.
func (s *Service) List(ctx context.Context) ([]*entity.Team, error) {
	out, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, apperror.Internal("list teams", err)
	}
	return out, nil
}

// Mine returns the active teams the actor belongs to.
func (s *Service) Mine(ctx context.Context, actor *userentity.User) ([]*entity.Team, error) {
	out, err := s.repo.ListForUser(ctx, actor.ID)
	if err != nil {
		return nil, apperror.Internal("list teams", err)
	}
	return out, nil
}

// Get returns an active team and its members.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Detail, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.Members(ctx, id)
	if err != nil {
		return nil, apperror.Internal("load members", err)
	}
	return &entity.Detail{Team: *t, Members: members}, nil
}

func (s *Service) load(ctx context.Context, id int64) (*entity.Team, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("Team not found")
		}
		return nil, apperror.Internal("load team", err)
	}
	if !t.IsActive {
		return nil, apperror.NotFound("Team not found")
	}
	return t, nil
}

// loadForUpdate loads an active team the actor may modify.
func (s *Service) loadForUpdate(ctx context.Context, actor *userentity.User, id int64) (*entity.Team, error) {
	t, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, t.CreatedByID, "team"); err != nil {
		return nil, err
	}
	return t, nil
}

// Input is the create/update payload. Nil fields are left unchanged on update.
type Input struct {
	Name        *string
	Description *string
}

// Create adds a team owned by actor.
func (s *Service) Create(ctx context.Context, actor *userentity.User, in Input) (*entity.Team, error) {
	if in.Name == nil {
		return nil, apperror.Validation("Team name is required")
	}
	name, err := cleanName(*in.Name)
	if err != nil {
		return nil, err
	}
	if err := s.checkName(ctx, name, 0); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t := &entity.Team{
		ID:          utilities.NewID(),
		Name:        name,
		CreatedByID: actor.ID,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Description != nil {
		t.Description = strings.TrimSpace(*in.Description)
	}
	if err := s.repo.Create(ctx, t); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperror.Conflict("A team with this name already exists", name)
		}
		return nil, apperror.Internal("create team", err)
	}
	s.logger.Infow("team created", "team_id", t.ID, "created_by", actor.ID)
	return t, nil
}

// Update renames a team or changes its description.
func (s *Service) Update(ctx context.Context, actor *userentity.User, id int64, in Input) (*entity.Team, error) {
	t, err := s.loadForUpdate(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	name, desc := t.Name, t.Description
	if in.Name != nil {
		if name, err = cleanName(*in.Name); err != nil {
			return nil, err
		}
		if name != t.Name {
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
			return nil, apperror.Conflict("A team with this name already exists", name)
		}
		return nil, apperror.Internal("update team", err)
	}
	return s.load(ctx, id)
}

// Delete soft-deletes a team. Teams that still have members are kept.
func (s *Service) Delete(ctx context.Context, actor *userentity.User, id int64) error {
	t, err := s.loadForUpdate(ctx, actor, id)
	if err != nil {
		return err
	}
	if t.UserCount > 0 {
		return apperror.Validationf("Cannot delete team with %d member(s). Remove all members first.", t.UserCount)
	}
	ok, err := s.repo.SoftDeleteIfEmpty(ctx, id)
	if err != nil {
		return apperror.Internal("delete team", err)
	}
	if !ok {
		return apperror.Validation("Cannot delete team with members. Remove all members first.")
	}
	s.logger.Infow("team deleted", "team_id", id, "actor", actor.ID)
	return nil
}

// AddMember puts one user into a team.
func (s *Service) AddMember(ctx context.Context, actor *userentity.User, teamID, userID int64) error {
	if _, err := s.loadForUpdate(ctx, actor, teamID); err != nil {
		return err
	}
	if err := s.requireUsers(ctx, []int64{userID}); err != nil {
		return err
	}
	added, err := teamrepo.AddMembers(ctx, s.db, teamID, []int64{userID})
	if err != nil {
		return apperror.Internal("add member", err)
	}
	if added == 0 {
		return apperror.Validation("User is already a member of this team")
	}
	return nil
}

// RemoveMember takes one user out of a team.
func (s *Service) RemoveMember(ctx context.Context, actor *userentity.User, teamID, userID int64) error {
	if _, err := s.loadForUpdate(ctx, actor, teamID); err != nil {
		return err
	}
	n, err := teamrepo.RemoveMembers(ctx, s.db, teamID, []int64{userID})
	if err != nil {
		return apperror.Internal("remove member", err)
	}
	if n == 0 {
		return apperror.NotFound("User is not a member of this team")
	}
	return nil
}

// BatchAddMembers adds several users in one transaction and reports how many
// were new. Users already in the team are skipped.
func (s *Service) BatchAddMembers(ctx context.Context, actor *userentity.User, teamID int64, userIDs []int64) (int, error) {
	if len(userIDs) == 0 {
		return 0, apperror.Validation("userIds must be a non-empty array")
	}
	if _, err := s.loadForUpdate(ctx, actor, teamID); err != nil {
		return 0, err
	}
	ids := dedupe(userIDs)
	if err := s.requireUsers(ctx, ids); err != nil {
		return 0, err
	}
	var added int
	err := database.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		added, err = teamrepo.AddMembers(ctx, tx, teamID, ids)
		return err
	})
	if err != nil {
		return 0, apperror.Internal("add members", err)
	}
	return added, nil
}

// BatchRemoveMembers removes several users in one transaction and reports
// how many memberships went away.
func (s *Service) BatchRemoveMembers(ctx context.Context, actor *userentity.User, teamID int64, userIDs []int64) (int, error) {
	if len(userIDs) == 0 {
		return 0, apperror.Validation("userIds must be a non-empty array")
	}
	if _, err := s.loadForUpdate(ctx, actor, teamID); err != nil {
		return 0, err
	}
	var removed int
	err := database.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		removed, err = teamrepo.RemoveMembers(ctx, tx, teamID, dedupe(userIDs))
		return err
	})
	if err != nil {
		return 0, apperror.Internal("remove members", err)
	}
	return removed, nil
}

// checkName rejects names that collide with another team, exactly or fuzzily.
func (s *Service) checkName(ctx context.Context, name string, excludeID int64) error {
	existing, err := s.repo.Names(ctx)
	if err != nil {
		return apperror.Internal("load team names", err)
	}
	if dup, ok := naming.FindConflict(name, existing, excludeID); ok {
		return apperror.Conflict(fmt.Sprintf("A similar team already exists: %q", dup), dup)
	}
	return nil
}

// requireUsers fails unless every id names a user that is not trashed.
func (s *Service) requireUsers(ctx context.Context, ids []int64) error {
	found, err := s.users.Summaries(ctx, ids)
	if err != nil {
		return apperror.Internal("load users", err)
	}
	ok := map[int64]bool{}
	for _, u := range found {
		ok[u.ID] = u.State != userentity.StateTrashed
	}
	for _, id := range ids {
		if !ok[id] {
			return apperror.NotFound(fmt.Sprintf("User %d not found", id))
		}
	}
	return nil
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.Validation("Team name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", apperror.Validationf("Team name must be at most %d characters", maxNameLength)
	}
	if naming.Normalize(name) == "" {
		return "", apperror.Validation("Team name must contain letters or digits")
	}
	return name, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
