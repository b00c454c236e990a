// Package auth issues and checks bearer tokens and serves the /auth
// endpoints.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

const issuerName = "chromepass"

// Audience separates dashboard sessions from the longer-lived extension ones.
type Audience string

const (
	AudienceWeb       Audience = "web"
	AudienceExtension Audience = "extension"
)

// Claims is the token payload. Subject carries the user id.
type Claims struct {
	Role         entity.Role `json:"role"`
	TokenVersion int64       `json:"tv"`
	jwt.RegisteredClaims
}

// UserID parses the subject.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	webTTL time.Duration
	extTTL time.Duration
}

func NewIssuer(secret string, webTTL, extensionTTL time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), webTTL: webTTL, extTTL: extensionTTL}
}

// Issue signs a token for u and returns it with its expiry.
func (i *Issuer) Issue(u *entity.User, aud Audience) (string, time.Time, error) {
	ttl := i.webTTL
	if aud == AudienceExtension {
		ttl = i.extTTL
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Role:         u.Role,
		TokenVersion: u.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   strconv.FormatInt(u.ID, 10),
			Audience:  jwt.ClaimStrings{string(aud)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

var ErrInvalidToken = errors.New("invalid token")

// Parse verifies signature, issuer and expiry.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
