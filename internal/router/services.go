package router

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/access"
	accessrepo "github.com/ovaphlow/pitchfork/service-chromepass/internal/access/repo"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/credential"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/project"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/secret"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/team"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user"
)

// Services is the set of domain services the routes are served by.
type Services struct {
	DB          *sqlx.DB
	Users       *user.Service
	Teams       *team.Service
	Projects    *project.Service
	Credentials *credential.Service
}

// NewServices wires every service onto db.
func NewServices(db *sqlx.DB, box *secret.Box, userOpts user.Options, logger *zap.SugaredLogger) *Services {
	resolver := access.NewResolver(accessrepo.NewStore(db))
	projects := project.NewService(db, resolver, logger)
	return &Services{
		DB:          db,
		Users:       user.NewService(db, logger, userOpts),
		Teams:       team.NewService(db, logger),
		Projects:    projects,
		Credentials: credential.NewService(db, resolver, projects, box, logger),
	}
}

// EnsureTables creates the schema. Order follows the foreign keys.
func (s *Services) EnsureTables(ctx context.Context) error {
	if err := s.Users.EnsureTables(ctx); err != nil {
		return err
	}
	if err := s.Teams.EnsureTables(ctx); err != nil {
		return err
	}
	if err := s.Projects.EnsureTables(ctx); err != nil {
		return err
	}
	return s.Credentials.EnsureTables(ctx)
}
