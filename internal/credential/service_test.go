package credential

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/access"
	accessrepo "github.com/ovaphlow/pitchfork/service-chromepass/internal/access/repo"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/credential/entity"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/project"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/secret"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/team"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/testutil"
	userentity "github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

type fixture struct {
	db       *sqlx.DB
	svc      *Service
	projects *project.Service
	teams    *team.Service
	admin    *userentity.User
	alice    *userentity.User
	bob      *userentity.User
}

func newFixture(t *testing.T, box *secret.Box) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	resolver := access.NewResolver(accessrepo.NewStore(db))
	projects := project.NewService(db, resolver, testutil.Logger())
	return &fixture{
		db:       db,
		svc:      NewService(db, resolver, projects, box, testutil.Logger()),
		projects: projects,
		teams:    team.NewService(db, testutil.Logger()),
		admin:    testutil.CreateUser(t, db, "admin@example.com", userentity.RoleAdmin, userentity.StateActive),
		alice:    testutil.CreateUser(t, db, "alice@example.com", userentity.RoleUser, userentity.StateActive),
		bob:      testutil.CreateUser(t, db, "bob@example.com", userentity.RoleUser, userentity.StateActive),
	}
}

func strp(s string) *string { return &s }

func input(label, url, pw string) Input {
	return Input{Label: strp(label), URL: strp(url), Username: strp("ops"), Password: strp(pw)}
}

func TestCreateRequiresFields(t *testing.T) {
	f := newFixture(t, &secret.Box{})
	_, err := f.svc.Create(context.Background(), f.alice, Input{Label: strp("x"), URL: strp("https://x.test")})
	e, ok := apperror.As(err)
	require.True(t, ok)
	require.Equal(t, apperror.KindValidation, e.Kind)
	require.Equal(t, "username is required", e.Message)
}

func TestVisibilityFollowsGrants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &secret.Box{})

	c, err := f.svc.Create(ctx, f.alice, input("Jira", "https://jira.example.com", "pw1"))
	require.NoError(t, err)
	require.Equal(t, "pw1", c.Password)

	list, err := f.svc.List(ctx, f.bob, entity.Filter{})
	require.NoError(t, err)
	require.Empty(t, list)
	_, err = f.svc.Get(ctx, f.bob, c.ID)
	require.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	// bob cannot share what he cannot modify
	err = f.svc.Assign(ctx, f.bob, c.ID, access.SubjectUser, f.bob.ID)
	require.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	qa, err := f.teams.Create(ctx, f.admin, team.Input{Name: strp("QA")})
	require.NoError(t, err)
	require.NoError(t, f.teams.AddMember(ctx, f.admin, qa.ID, f.bob.ID))
	require.NoError(t, f.svc.Assign(ctx, f.alice, c.ID, access.SubjectTeam, qa.ID))

	list, err = f.svc.List(ctx, f.bob, entity.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Empty(t, list[0].Password)

	a, err := f.svc.Assignments(ctx, f.bob, c.ID)
	require.NoError(t, err)
	require.Len(t, a.Teams, 1)
	require.Len(t, a.Users, 1)
	require.Equal(t, access.AssignedTeam, a.Users[0].AssignmentType)
	require.Equal(t, "QA", a.Users[0].TeamName)

	// visible but not modifiable
	_, err = f.svc.Update(ctx, f.bob, c.ID, Input{Label: strp("mine")})
	require.Equal(t, apperror.KindAuthorization, apperror.KindOf(err))
	err = f.svc.Delete(ctx, f.bob, c.ID)
	require.Equal(t, apperror.KindAuthorization, apperror.KindOf(err))

	require.NoError(t, f.svc.Unassign(ctx, f.alice, c.ID, access.SubjectTeam, qa.ID))
	err = f.svc.Unassign(ctx, f.alice, c.ID, access.SubjectTeam, qa.ID)
	require.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	list, err = f.svc.List(ctx, f.bob, entity.Filter{})
	require.NoError(t, err)
	require.Empty(t, list)

	all, err := f.svc.List(ctx, f.admin, entity.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestDeletedCredentialDisappears(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &secret.Box{})

	c, err := f.svc.Create(ctx, f.alice, input("Wiki", "https://wiki.example.com", "pw"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Assign(ctx, f.alice, c.ID, access.SubjectUser, f.bob.ID))
	require.NoError(t, f.svc.Delete(ctx, f.admin, c.ID))

	_, err = f.svc.Get(ctx, f.alice, c.ID)
	require.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
	list, err := f.svc.List(ctx, f.bob, entity.Filter{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestForURLAndUse(t *testing.T) {
	ctx := context.Background()
	box, err := secret.New("passphrase", "salt")
	require.NoError(t, err)
	f := newFixture(t, box)

	c, err := f.svc.Create(ctx, f.alice, Input{
		Label:      strp("Console"),
		URL:        strp("https://console.example.com/login"),
		URLPattern: strp("https://*.example.com/*"),
		Username:   strp("root"),
		Password:   strp("hunter2"),
	})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.alice, input("Other", "https://example.org/login", "pw"))
	require.NoError(t, err)

	var stored string
	require.NoError(t, f.db.GetContext(ctx, &stored, f.db.Rebind(`SELECT password FROM credentials WHERE id = ?`), c.ID))
	require.NotEqual(t, "hunter2", stored)

	got, err := f.svc.ForURL(ctx, f.alice, "https://app.example.com/home")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "hunter2", got[0].Password)

	got, err = f.svc.ForURL(ctx, f.bob, "https://app.example.com/home")
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = f.svc.ForURL(ctx, f.alice, " ")
	require.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	require.NoError(t, f.svc.RecordUse(ctx, f.alice, c.ID))
	require.NoError(t, f.svc.RecordUse(ctx, f.alice, c.ID))
	after, err := f.svc.Get(ctx, f.alice, c.ID)
	require.NoError(t, err)
	require.Equal(t, 2, after.UseCount)
	require.NotNil(t, after.LastUsed)

	// updating other fields keeps the sealed password
	_, err = f.svc.Update(ctx, f.alice, c.ID, Input{Description: strp("prod")})
	require.NoError(t, err)
	after, err = f.svc.Get(ctx, f.alice, c.ID)
	require.NoError(t, err)
	require.Equal(t, "hunter2", after.Password)
	require.Equal(t, "prod", after.Description)
}

func TestProjectFiling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &secret.Box{})

	p, err := f.projects.Create(ctx, f.admin, project.Input{Name: strp("Billing")})
	require.NoError(t, err)

	// alice cannot see the project yet
	in := input("Stripe", "https://dashboard.stripe.com", "pw")
	in.ProjectID = &p.ID
	_, err = f.svc.Create(ctx, f.alice, in)
	require.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	require.NoError(t, f.projects.Assign(ctx, f.admin, p.ID, access.SubjectUser, f.alice.ID))
	c, err := f.svc.Create(ctx, f.alice, in)
	require.NoError(t, err)
	require.NotNil(t, c.ProjectName)
	require.Equal(t, "Billing", *c.ProjectName)

	list, err := f.svc.List(ctx, f.alice, entity.Filter{ProjectID: &p.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)

	zero := int64(0)
	c, err = f.svc.Update(ctx, f.alice, c.ID, Input{ProjectID: &zero})
	require.NoError(t, err)
	require.Nil(t, c.ProjectID)
}
