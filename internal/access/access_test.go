package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/apperror"
	userentity "github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

type grantKey struct {
	kind     string
	sub      Subject
	resource int64
	subject  int64
}

// memStore keeps grants in maps. Resources are keyed by kind name.
type memStore struct {
	memberships map[int64][]int64 // user -> teams
	teams       map[int64]TeamRef
	users       map[int64]userentity.Summary
	creators    map[string]map[int64]int64 // kind -> resource -> creator
	inactive    map[string]map[int64]bool
	grants      []grantKey
}

func newMemStore() *memStore {
	return &memStore{
		memberships: map[int64][]int64{},
		teams:       map[int64]TeamRef{},
		users:       map[int64]userentity.Summary{},
		creators:    map[string]map[int64]int64{},
		inactive:    map[string]map[int64]bool{},
	}
}

func (m *memStore) addUser(id int64) {
	m.users[id] = userentity.Summary{ID: id, Email: "u@example.com", State: userentity.StateActive}
}

func (m *memStore) addResource(k Kind, id, creator int64, active bool) {
	if m.creators[k.Name] == nil {
		m.creators[k.Name] = map[int64]int64{}
		m.inactive[k.Name] = map[int64]bool{}
	}
	m.creators[k.Name][id] = creator
	m.inactive[k.Name][id] = !active
}

func (m *memStore) TeamIDsForUser(_ context.Context, userID int64) ([]int64, error) {
	return m.memberships[userID], nil
}

func (m *memStore) DirectGrants(_ context.Context, k Kind, userID int64) ([]int64, error) {
	var out []int64
	for _, g := range m.grants {
		if g.kind == k.Name && g.sub == SubjectUser && g.subject == userID {
			out = append(out, g.resource)
		}
	}
	return out, nil
}

func (m *memStore) TeamGrants(_ context.Context, k Kind, teamIDs []int64) ([]int64, error) {
	var out []int64
	for _, g := range m.grants {
		if g.kind != k.Name || g.sub != SubjectTeam {
			continue
		}
		for _, t := range teamIDs {
			if g.subject == t {
				out = append(out, g.resource)
			}
		}
	}
	return out, nil
}

func (m *memStore) CreatedBy(_ context.Context, k Kind, userID int64) ([]int64, error) {
	var out []int64
	for id, c := range m.creators[k.Name] {
		if c == userID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) ActiveOnly(_ context.Context, k Kind, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		if _, ok := m.creators[k.Name][id]; ok && !m.inactive[k.Name][id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) DirectGrantees(_ context.Context, k Kind, resourceID int64) ([]userentity.Summary, error) {
	var out []userentity.Summary
	for _, g := range m.grants {
		if g.kind == k.Name && g.sub == SubjectUser && g.resource == resourceID {
			out = append(out, m.users[g.subject])
		}
	}
	return out, nil
}

func (m *memStore) GrantedTeams(_ context.Context, k Kind, resourceID int64) ([]TeamRef, error) {
	var out []TeamRef
	for _, g := range m.grants {
		if g.kind == k.Name && g.sub == SubjectTeam && g.resource == resourceID {
			out = append(out, m.teams[g.subject])
		}
	}
	return out, nil
}

func (m *memStore) TeamMembers(_ context.Context, teamID int64) ([]userentity.Summary, error) {
	var out []userentity.Summary
	for uid, teams := range m.memberships {
		for _, t := range teams {
			if t == teamID {
				out = append(out, m.users[uid])
			}
		}
	}
	return out, nil
}

func (m *memStore) SubjectExists(_ context.Context, sub Subject, id int64) (bool, error) {
	if sub == SubjectTeam {
		_, ok := m.teams[id]
		return ok, nil
	}
	_, ok := m.users[id]
	return ok, nil
}

func (m *memStore) Grant(_ context.Context, k Kind, sub Subject, resourceID, subjectID, _ int64) (bool, error) {
	key := grantKey{kind: k.Name, sub: sub, resource: resourceID, subject: subjectID}
	for _, g := range m.grants {
		if g == key {
			return false, nil
		}
	}
	m.grants = append(m.grants, key)
	return true, nil
}

func (m *memStore) Revoke(_ context.Context, k Kind, sub Subject, resourceID, subjectID int64) (bool, error) {
	key := grantKey{kind: k.Name, sub: sub, resource: resourceID, subject: subjectID}
	for i, g := range m.grants {
		if g == key {
			m.grants = append(m.grants[:i], m.grants[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func TestResolveAccessibleUnion(t *testing.T) {
	ctx := context.Background()
	m := newMemStore()
	const alice, bob = 1, 2
	m.addUser(alice)
	m.addUser(bob)
	m.teams[10] = TeamRef{ID: 10, Name: "QA"}
	m.memberships[alice] = []int64{10}

	m.addResource(Credentials, 100, alice, true)  // created
	m.addResource(Credentials, 101, bob, true)    // direct grant
	m.addResource(Credentials, 102, bob, true)    // team grant
	m.addResource(Credentials, 103, bob, true)    // unrelated
	m.addResource(Credentials, 104, alice, false) // created but trashed
	m.addResource(Credentials, 105, bob, false)   // granted but trashed

	r := NewResolver(m)
	require.NoError(t, r.Grant(ctx, Credentials, SubjectUser, 101, alice, bob))
	require.NoError(t, r.Grant(ctx, Credentials, SubjectTeam, 102, 10, bob))
	require.NoError(t, r.Grant(ctx, Credentials, SubjectUser, 105, alice, bob))

	ids, err := r.ResolveAccessibleCredentialIDs(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, []int64{100, 101, 102}, ids.Sorted())

	// bob created 101-103 and 105; only the active ones surface
	ids, err = r.ResolveAccessibleCredentialIDs(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, []int64{101, 102, 103}, ids.Sorted())

	// projects are resolved independently
	pids, err := r.ResolveAccessibleProjectIDs(ctx, alice)
	require.NoError(t, err)
	require.Empty(t, pids)
}

func TestListAssignedUsersDirectWins(t *testing.T) {
	ctx := context.Background()
	m := newMemStore()
	for _, id := range []int64{1, 2, 3} {
		m.addUser(id)
	}
	m.teams[10] = TeamRef{ID: 10, Name: "QA"}
	m.teams[11] = TeamRef{ID: 11, Name: "Ops"}
	m.memberships[1] = []int64{10}
	m.memberships[2] = []int64{10, 11}
	m.memberships[3] = []int64{11}
	m.addResource(Credentials, 100, 9, true)

	r := NewResolver(m)
	require.NoError(t, r.Grant(ctx, Credentials, SubjectUser, 100, 1, 9))
	require.NoError(t, r.Grant(ctx, Credentials, SubjectTeam, 100, 10, 9))
	require.NoError(t, r.Grant(ctx, Credentials, SubjectTeam, 100, 11, 9))

	got, err := r.ListCredentialAssignments(ctx, 100)
	require.NoError(t, err)
	require.Len(t, got, 3)

	byUser := map[int64]Assignment{}
	for _, a := range got {
		_, dup := byUser[a.User.ID]
		require.False(t, dup, "user %d listed twice", a.User.ID)
		byUser[a.User.ID] = a
	}
	require.Equal(t, AssignedDirect, byUser[1].AssignmentType)
	require.Empty(t, byUser[1].TeamName)
	require.Equal(t, AssignedTeam, byUser[2].AssignmentType)
	require.Equal(t, "QA", byUser[2].TeamName)
	require.Equal(t, AssignedTeam, byUser[3].AssignmentType)
	require.Equal(t, "Ops", byUser[3].TeamName)
	require.Equal(t, int64(1), got[0].User.ID)
}

func TestGrantAndRevokeErrors(t *testing.T) {
	ctx := context.Background()
	m := newMemStore()
	m.addUser(1)
	m.addResource(Projects, 100, 1, true)
	r := NewResolver(m)

	err := r.Grant(ctx, Projects, SubjectUser, 100, 42, 1)
	require.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	err = r.Grant(ctx, Projects, SubjectTeam, 100, 7, 1)
	require.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	require.NoError(t, r.Grant(ctx, Projects, SubjectUser, 100, 1, 1))
	err = r.Grant(ctx, Projects, SubjectUser, 100, 1, 1)
	require.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	require.NoError(t, r.Revoke(ctx, Projects, SubjectUser, 100, 1))
	err = r.Revoke(ctx, Projects, SubjectUser, 100, 1)
	require.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestAuthorize(t *testing.T) {
	creator := &userentity.User{ID: 1, Role: userentity.RoleUser}
	other := &userentity.User{ID: 2, Role: userentity.RoleUser}
	admin := &userentity.User{ID: 3, Role: userentity.RoleAdmin}

	require.NoError(t, Authorize(creator, 1, "credential"))
	require.NoError(t, Authorize(admin, 1, "credential"))

	err := Authorize(other, 1, "credential")
	require.Error(t, err)
	require.Equal(t, apperror.KindAuthorization, apperror.KindOf(err))

	require.False(t, CanModify(nil, 1))
}
