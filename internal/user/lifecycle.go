package user

import (
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

// transitions lists the admin-driven state changes an account may go through.
var transitions = map[entity.State][]entity.State{
	entity.StatePending: {entity.StateActive, entity.StateTrashed},
	entity.StateActive:  {entity.StateBlocked, entity.StateTrashed},
	entity.StateBlocked: {entity.StateActive, entity.StateTrashed},
	entity.StateTrashed: {entity.StateActive},
}

// CheckTransition validates moving an account from one state to another.
func CheckTransition(from, to entity.State) error {
	if !to.Valid() {
		return apperror.Validationf("invalid state %d", int(to))
	}
	if from == to {
		return apperror.Validationf("user is already %s", to)
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return apperror.Validationf("cannot change user state from %s to %s", from, to)
}

// losesAdmin reports whether applying role/state to u would take away an
// active admin.
func losesAdmin(u *entity.User, role entity.Role, state entity.State) bool {
	if !u.IsAdmin() || !u.IsActive() {
		return false
	}
	return role != entity.RoleAdmin || state != entity.StateActive
}
