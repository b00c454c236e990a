// Package testutil opens throwaway SQLite databases with the full schema
// for service and HTTP tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	credentialrepo "github.com/ovaphlow/pitchfork/service-chromepass/internal/credential/repo"
	projectrepo "github.com/ovaphlow/pitchfork/service-chromepass/internal/project/repo"
	teamrepo "github.com/ovaphlow/pitchfork/service-chromepass/internal/team/repo"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-chromepass/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-chromepass/pkg/database"
	"github.com/ovaphlow/pitchfork/service-chromepass/pkg/utilities"
)

// NewDB returns a migrated SQLite database that is closed with the test.
func NewDB(t *testing.T) *sqlx.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chromepass.db")
	db, err := database.Connect(database.Config{
		Driver:      database.DriverSQLite,
		DSN:         path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		MaxConns:    1,
		IdleTimeout: time.Minute,
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, userrepo.NewUserRepo(db).EnsureTable(ctx))
	require.NoError(t, userrepo.NewVerificationRepo(db).EnsureTable(ctx))
	require.NoError(t, teamrepo.NewTeamRepo(db).EnsureTable(ctx))
	require.NoError(t, projectrepo.NewProjectRepo(db).EnsureTable(ctx))
	require.NoError(t, credentialrepo.NewCredentialRepo(db).EnsureTable(ctx))
	return db
}

// Logger is a no-op logger for services under test.
func Logger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

// CreateUser inserts a user row directly. The password hash is not a valid
// bcrypt hash, so these users cannot log in.
func CreateUser(t *testing.T, db *sqlx.DB, email string, role entity.Role, state entity.State) *entity.User {
	t.Helper()
	now := time.Now().UTC()
	u := &entity.User{
		ID:            utilities.NewID(),
		Email:         email,
		PasswordHash:  "x",
		FirstName:     "Test",
		LastName:      "User",
		EmailVerified: true,
		Role:          role,
		State:         state,
		TokenVersion:  1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, userrepo.NewUserRepo(db).Create(context.Background(), u))
	return u
}
