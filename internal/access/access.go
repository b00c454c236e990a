// Package access decides which credentials and projects a user can reach.
//
// A user reaches a resource when they created it, were granted it directly
// (credential_users / project_users) or belong to a team that was granted it
// (credential_teams / project_teams). Inactive resources never surface,
// whatever the grants say.
//
// The same package carries the mutation policy: only the creator of a
// resource or an admin may change it or its grants.
package access

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/apperror"
	userentity "github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

// Kind names the tables behind a grantable resource type.
type Kind struct {
	Name       string
	Table      string
	UserGrants string
	TeamGrants string
	ForeignKey string
}

var (
	Credentials = Kind{
		Name:       "credential",
		Table:      "credentials",
		UserGrants: "credential_users",
		TeamGrants: "credential_teams",
		ForeignKey: "credential_id",
	}
	Projects = Kind{
		Name:       "project",
		Table:      "projects",
		UserGrants: "project_users",
		TeamGrants: "project_teams",
		ForeignKey: "project_id",
	}
)

// TeamRef identifies a team that holds a grant.
type TeamRef struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Subject is the receiving side of a grant.
type Subject int

const (
	SubjectUser Subject = iota
	SubjectTeam
)

func (s Subject) String() string {
	if s == SubjectTeam {
		return "team"
	}
	return "user"
}

// Store is the join-table surface the resolver needs.
type Store interface {
	TeamIDsForUser(ctx context.Context, userID int64) ([]int64, error)
	DirectGrants(ctx context.Context, k Kind, userID int64) ([]int64, error)
	TeamGrants(ctx context.Context, k Kind, teamIDs []int64) ([]int64, error)
	CreatedBy(ctx context.Context, k Kind, userID int64) ([]int64, error)
	ActiveOnly(ctx context.Context, k Kind, ids []int64) ([]int64, error)
	DirectGrantees(ctx context.Context, k Kind, resourceID int64) ([]userentity.Summary, error)
	GrantedTeams(ctx context.Context, k Kind, resourceID int64) ([]TeamRef, error)
	TeamMembers(ctx context.Context, teamID int64) ([]userentity.Summary, error)

	SubjectExists(ctx context.Context, sub Subject, id int64) (bool, error)
	Grant(ctx context.Context, k Kind, sub Subject, resourceID, subjectID, assignedBy int64) (bool, error)
	Revoke(ctx context.Context, k Kind, sub Subject, resourceID, subjectID int64) (bool, error)
}

// IDSet is a set of row ids.
type IDSet map[int64]struct{}

func (s IDSet) Add(ids ...int64) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s IDSet) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AssignmentType tells how a user came to hold a grant.
type AssignmentType string

const (
	AssignedDirect AssignmentType = "direct"
	AssignedTeam   AssignmentType = "team"
)

// Assignment is one user holding a grant on a resource, with provenance.
type Assignment struct {
	User           userentity.Summary `json:"user"`
	AssignmentType AssignmentType     `json:"assignmentType"`
	TeamID         int64              `json:"teamId,omitempty"`
	TeamName       string             `json:"teamName,omitempty"`
}

// Resolver computes reachable resources from the join tables.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver { return &Resolver{store: store} }

// ResolveAccessible returns the active resources of kind k that userID can
// reach: created ∪ direct grants ∪ grants to any of the user's teams.
func (r *Resolver) ResolveAccessible(ctx context.Context, k Kind, userID int64) (IDSet, error) {
	teamIDs, err := r.store.TeamIDsForUser(ctx, userID)
	if err != nil {
		return nil, apperror.Internal("load team memberships", err)
	}
	direct, err := r.store.DirectGrants(ctx, k, userID)
	if err != nil {
		return nil, apperror.Internal("load direct grants", err)
	}
	candidates := IDSet{}
	candidates.Add(direct...)
	if len(teamIDs) > 0 {
		viaTeam, err := r.store.TeamGrants(ctx, k, teamIDs)
		if err != nil {
			return nil, apperror.Internal("load team grants", err)
		}
		candidates.Add(viaTeam...)
	}
	owned, err := r.store.CreatedBy(ctx, k, userID)
	if err != nil {
		return nil, apperror.Internal("load created "+k.Name+"s", err)
	}
	candidates.Add(owned...)

	out := IDSet{}
	if len(candidates) == 0 {
		return out, nil
	}
	active, err := r.store.ActiveOnly(ctx, k, candidates.Sorted())
	if err != nil {
		return nil, apperror.Internal("filter active "+k.Name+"s", err)
	}
	out.Add(active...)
	return out, nil
}

func (r *Resolver) ResolveAccessibleCredentialIDs(ctx context.Context, userID int64) (IDSet, error) {
	return r.ResolveAccessible(ctx, Credentials, userID)
}

func (r *Resolver) ResolveAccessibleProjectIDs(ctx context.Context, userID int64) (IDSet, error) {
	return r.ResolveAccessible(ctx, Projects, userID)
}

// CanAccess reports whether userID reaches resourceID.
func (r *Resolver) CanAccess(ctx context.Context, k Kind, userID, resourceID int64) (bool, error) {
	ids, err := r.ResolveAccessible(ctx, k, userID)
	if err != nil {
		return false, err
	}
	return ids.Has(resourceID), nil
}

// ListAssignedUsers returns every user holding a grant on the resource.
// Direct grants come first; team members follow in team order. A user is
// listed once: a direct grant hides any team provenance, and among teams
// the first one wins.
func (r *Resolver) ListAssignedUsers(ctx context.Context, k Kind, resourceID int64) ([]Assignment, error) {
	direct, err := r.store.DirectGrantees(ctx, k, resourceID)
	if err != nil {
		return nil, apperror.Internal("load direct grantees", err)
	}
	teams, err := r.store.GrantedTeams(ctx, k, resourceID)
	if err != nil {
		return nil, apperror.Internal("load granted teams", err)
	}

	seen := IDSet{}
	out := make([]Assignment, 0, len(direct))
	for _, u := range direct {
		if seen.Has(u.ID) {
			continue
		}
		seen.Add(u.ID)
		out = append(out, Assignment{User: u, AssignmentType: AssignedDirect})
	}
	for _, t := range teams {
		members, err := r.store.TeamMembers(ctx, t.ID)
		if err != nil {
			return nil, apperror.Internal("load team members", err)
		}
		for _, u := range members {
			if seen.Has(u.ID) {
				continue
			}
			seen.Add(u.ID)
			out = append(out, Assignment{User: u, AssignmentType: AssignedTeam, TeamID: t.ID, TeamName: t.Name})
		}
	}
	return out, nil
}

func (r *Resolver) ListCredentialAssignments(ctx context.Context, credentialID int64) ([]Assignment, error) {
	return r.ListAssignedUsers(ctx, Credentials, credentialID)
}

func (r *Resolver) ListProjectAssignments(ctx context.Context, projectID int64) ([]Assignment, error) {
	return r.ListAssignedUsers(ctx, Projects, projectID)
}

// GrantedTeams returns the teams holding a grant on the resource.
func (r *Resolver) GrantedTeams(ctx context.Context, k Kind, resourceID int64) ([]TeamRef, error) {
	teams, err := r.store.GrantedTeams(ctx, k, resourceID)
	if err != nil {
		return nil, apperror.Internal("load granted teams", err)
	}
	return teams, nil
}

// Grant gives a user or team access to a resource. The caller has already
// authorized actorID against the resource.
func (r *Resolver) Grant(ctx context.Context, k Kind, sub Subject, resourceID, subjectID, actorID int64) error {
	ok, err := r.store.SubjectExists(ctx, sub, subjectID)
	if err != nil {
		return apperror.Internal("load "+sub.String(), err)
	}
	if !ok {
		return apperror.NotFound(capitalize(sub.String()) + " not found")
	}
	added, err := r.store.Grant(ctx, k, sub, resourceID, subjectID, actorID)
	if err != nil {
		return apperror.Internal("grant "+k.Name, err)
	}
	if !added {
		return apperror.Validationf("%s is already assigned to this %s", capitalize(sub.String()), k.Name)
	}
	return nil
}

// Revoke removes a grant made by Grant.
func (r *Resolver) Revoke(ctx context.Context, k Kind, sub Subject, resourceID, subjectID int64) error {
	removed, err := r.store.Revoke(ctx, k, sub, resourceID, subjectID)
	if err != nil {
		return apperror.Internal("revoke "+k.Name, err)
	}
	if !removed {
		return apperror.NotFound(fmt.Sprintf("%s is not assigned to this %s", capitalize(sub.String()), k.Name))
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// CanModify is the mutation policy for credentials, projects and teams.
func CanModify(actor *userentity.User, createdByID int64) bool {
	return actor != nil && (actor.ID == createdByID || actor.IsAdmin())
}

// Authorize returns an authorization error when actor may not modify a
// resource created by createdByID.
func Authorize(actor *userentity.User, createdByID int64, what string) error {
	if CanModify(actor, createdByID) {
		return nil
	}
	return apperror.Authorization("Only the creator or an admin can modify this " + what)
}
