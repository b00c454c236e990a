package auth

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

// UserLoader resolves the token subject to a user row.
type UserLoader interface {
	Lookup(ctx context.Context, id int64) (*entity.User, error)
}

// RequireUser authenticates the bearer token and stores the acting user on
// the context. Stale tokens (password changed since issue) and accounts
// that are no longer active are rejected.
func RequireUser(issuer *Issuer, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c.GetHeader("Authorization"))
		if raw == "" {
			httpx.Fail(c, apperror.Authentication("Access token required"))
			return
		}
		claims, err := issuer.Parse(raw)
		if err != nil {
			httpx.Fail(c, apperror.Authentication("Invalid or expired token"))
			return
		}
		id, err := claims.UserID()
		if err != nil {
			httpx.Fail(c, apperror.Authentication("Invalid or expired token"))
			return
		}
		u, err := users.Lookup(c.Request.Context(), id)
		if err != nil {
			if apperror.Is(err, apperror.KindNotFound) {
				httpx.Fail(c, apperror.Authentication("User not found"))
				return
			}
			httpx.Fail(c, err)
			return
		}
		if u.TokenVersion != claims.TokenVersion {
			httpx.Fail(c, apperror.Authentication("Token has been revoked"))
			return
		}
		switch u.State {
		case entity.StateActive:
		case entity.StateTrashed:
			httpx.Fail(c, apperror.Authentication("User not found"))
			return
		default:
			httpx.Fail(c, apperror.Authorization("Account is not active"))
			return
		}
		httpx.SetCurrentUser(c, u)
		c.Next()
	}
}

// RequireAdmin must run after RequireUser.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := httpx.CurrentUser(c)
		if u == nil || !u.IsAdmin() {
			httpx.Fail(c, apperror.Authorization("Admin access required"))
			return
		}
		c.Next()
	}
}

func bearer(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
