package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

func TestIssueAndParse(t *testing.T) {
	iss := NewIssuer("secret", time.Hour, 30*24*time.Hour)
	u := &entity.User{ID: 42, Role: entity.RoleAdmin, TokenVersion: 3}

	raw, exp, err := iss.Issue(u, AudienceWeb)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := iss.Parse(raw)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.Equal(t, entity.RoleAdmin, claims.Role)
	require.Equal(t, int64(3), claims.TokenVersion)
	require.Equal(t, []string{"web"}, []string(claims.Audience))

	_, extExp, err := iss.Issue(u, AudienceExtension)
	require.NoError(t, err)
	require.True(t, extExp.After(exp.Add(24*time.Hour)))
}

func TestParseRejects(t *testing.T) {
	iss := NewIssuer("secret", time.Hour, time.Hour)
	u := &entity.User{ID: 1}

	raw, _, err := iss.Issue(u, AudienceWeb)
	require.NoError(t, err)

	_, err = NewIssuer("other", time.Hour, time.Hour).Parse(raw)
	require.True(t, errors.Is(err, ErrInvalidToken))

	expired := NewIssuer("secret", -time.Minute, time.Hour)
	old, _, err := expired.Issue(u, AudienceWeb)
	require.NoError(t, err)
	_, err = iss.Parse(old)
	require.True(t, errors.Is(err, ErrInvalidToken))

	_, err = iss.Parse("garbage")
	require.Error(t, err)
}

func TestBearer(t *testing.T) {
	require.Equal(t, "abc", bearer("Bearer abc"))
	require.Equal(t, "abc", bearer("bearer  abc "))
	require.Empty(t, bearer("Basic abc"))
	require.Empty(t, bearer(""))
}
