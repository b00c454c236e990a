package team

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/testutil"
	userentity "github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

func strp(s string) *string { return &s }

func TestDeleteRequiresEmptyTeam(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db, testutil.Logger())
	admin := testutil.CreateUser(t, db, "admin@example.com", userentity.RoleAdmin, userentity.StateActive)
	member := testutil.CreateUser(t, db, "five@example.com", userentity.RoleUser, userentity.StateActive)

	qa, err := svc.Create(ctx, admin, Input{Name: strp("QA")})
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(ctx, admin, qa.ID, member.ID))
	err = svc.AddMember(ctx, admin, qa.ID, member.ID)
	require.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	err = svc.Delete(ctx, admin, qa.ID)
	require.Error(t, err)
	require.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	got, err := svc.Get(ctx, qa.ID)
	require.NoError(t, err)
	require.True(t, got.IsActive)
	require.Equal(t, 1, got.UserCount)
	require.Len(t, got.Members, 1)

	require.NoError(t, svc.RemoveMember(ctx, admin, qa.ID, member.ID))
	require.NoError(t, svc.Delete(ctx, admin, qa.ID))

	_, err = svc.Get(ctx, qa.ID)
	require.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestCreateRejectsSimilarNames(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db, testutil.Logger())
	admin := testutil.CreateUser(t, db, "admin@example.com", userentity.RoleAdmin, userentity.StateActive)

	_, err := svc.Create(ctx, admin, Input{Name: strp("Dev")})
	require.NoError(t, err)

	_, err = svc.Create(ctx, admin, Input{Name: strp("Development")})
	e, ok := apperror.As(err)
	require.True(t, ok)
	require.Equal(t, apperror.KindConflict, e.Kind)
	require.Equal(t, "Dev", e.Duplicate)

	_, err = svc.Create(ctx, admin, Input{Name: strp("  dev ")})
	require.Equal(t, apperror.KindConflict, apperror.KindOf(err))

	_, err = svc.Create(ctx, admin, Input{Name: strp("   ")})
	require.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestUpdateRequiresCreatorOrAdmin(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db, testutil.Logger())
	owner := testutil.CreateUser(t, db, "owner@example.com", userentity.RoleUser, userentity.StateActive)
	other := testutil.CreateUser(t, db, "other@example.com", userentity.RoleUser, userentity.StateActive)
	admin := testutil.CreateUser(t, db, "admin@example.com", userentity.RoleAdmin, userentity.StateActive)

	tm, err := svc.Create(ctx, owner, Input{Name: strp("Support"), Description: strp("first line")})
	require.NoError(t, err)

	_, err = svc.Update(ctx, other, tm.ID, Input{Name: strp("Helpdesk")})
	require.Equal(t, apperror.KindAuthorization, apperror.KindOf(err))

	err = svc.AddMember(ctx, other, tm.ID, other.ID)
	require.Equal(t, apperror.KindAuthorization, apperror.KindOf(err))

	updated, err := svc.Update(ctx, admin, tm.ID, Input{Name: strp("Helpdesk")})
	require.NoError(t, err)
	require.Equal(t, "Helpdesk", updated.Name)
	require.Equal(t, "first line", updated.Description)

	// renaming to a variant of its own name is allowed
	updated, err = svc.Update(ctx, owner, tm.ID, Input{Name: strp("helpdesk")})
	require.NoError(t, err)
	require.Equal(t, "helpdesk", updated.Name)
}

func TestBatchMembers(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db, testutil.Logger())
	admin := testutil.CreateUser(t, db, "admin@example.com", userentity.RoleAdmin, userentity.StateActive)
	a := testutil.CreateUser(t, db, "a@example.com", userentity.RoleUser, userentity.StateActive)
	b := testutil.CreateUser(t, db, "b@example.com", userentity.RoleUser, userentity.StateActive)
	gone := testutil.CreateUser(t, db, "gone@example.com", userentity.RoleUser, userentity.StateTrashed)

	tm, err := svc.Create(ctx, admin, Input{Name: strp("Finance")})
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(ctx, admin, tm.ID, a.ID))

	n, err := svc.BatchAddMembers(ctx, admin, tm.ID, []int64{a.ID, b.ID, b.ID})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// one unknown user fails the whole batch
	_, err = svc.BatchAddMembers(ctx, admin, tm.ID, []int64{gone.ID})
	require.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	_, err = svc.BatchAddMembers(ctx, admin, tm.ID, nil)
	require.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	got, err := svc.Get(ctx, tm.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.UserCount)

	n, err = svc.BatchRemoveMembers(ctx, admin, tm.ID, []int64{a.ID, b.ID, 12345})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	mine, err := svc.Mine(ctx, a)
	require.NoError(t, err)
	require.Empty(t, mine)
}
