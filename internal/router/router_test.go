package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/config"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/mail"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/secret"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/testutil"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user"
)

type testServer struct {
	t      *testing.T
	db     *sqlx.DB
	engine *gin.Engine
	mail   *mail.Recorder
}

func newTestServer(t *testing.T, tweak func(*config.Config)) *testServer {
	t.Helper()
	db := testutil.NewDB(t)
	box, err := secret.New("test passphrase", "test salt")
	require.NoError(t, err)
	rec := &mail.Recorder{}
	svc := NewServices(db, box, user.Options{
		Hasher:      user.BcryptHasher{Cost: bcrypt.MinCost},
		Mailer:      rec,
		FrontendURL: "http://dashboard.test",
	}, testutil.Logger())

	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.CORSOrigins = nil
	cfg.RateLimit = config.RateLimit{AuthPerMinute: 600, AuthBurst: 100}
	if tweak != nil {
		tweak(&cfg)
	}
	gin.SetMode(gin.TestMode)
	return &testServer{t: t, db: db, engine: New(cfg, svc, testutil.Logger()), mail: rec}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type userBody struct {
	ID    int64 `json:"id"`
	Role  int   `json:"role"`
	State int   `json:"state"`
}

type sessionBody struct {
	Token string   `json:"token"`
	User  userBody `json:"user"`
}

type errorBody struct {
	Message    string `json:"message"`
	Duplicate  string `json:"duplicate"`
	RetryAfter int    `json:"retryAfter"`
}

type credentialBody struct {
	ID       int64  `json:"id"`
	Label    string `json:"label"`
	Password string `json:"password"`
}

func register(s *testServer, email string) sessionBody {
	w := s.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "password": "correct horse", "firstName": "Test", "lastName": "User",
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[sessionBody](s.t, w)
}

func login(s *testServer, email string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "correct horse",
	})
}

func TestOnboardingAndCredentialSharing(t *testing.T) {
	s := newTestServer(t, nil)

	admin := register(s, "admin@example.com")
	require.NotEmpty(t, admin.Token)
	require.Equal(t, 1, admin.User.Role)

	bob := register(s, "bob@example.com")
	require.Empty(t, bob.Token)
	require.Equal(t, 0, bob.User.State)
	require.Len(t, s.mail.Messages, 1)

	w := login(s, "bob@example.com")
	require.Equal(t, http.StatusForbidden, w.Code)

	var token string
	require.NoError(t, s.db.GetContext(context.Background(), &token,
		s.db.Rebind(`SELECT token FROM email_verifications WHERE user_id = ?`), bob.User.ID))
	w = s.do(http.MethodGet, "/api/auth/verify-email/"+token, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// verified but not yet approved
	w = login(s, "bob@example.com")
	require.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPatch, fmt.Sprintf("/api/users/%d/approve", bob.User.ID), admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, s.mail.Messages, 2)

	w = login(s, "bob@example.com")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	bobToken := decode[sessionBody](t, w).Token

	w = s.do(http.MethodGet, "/api/users/pending", bobToken, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/credentials", admin.Token, map[string]string{
		"label":      "Staging admin",
		"url":        "https://app.example.com/login",
		"urlPattern": "https://*.example.com/*",
		"username":   "ops",
		"password":   "s3cret",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	cred := decode[credentialBody](t, w)

	var stored string
	require.NoError(t, s.db.GetContext(context.Background(), &stored,
		s.db.Rebind(`SELECT password FROM credentials WHERE id = ?`), cred.ID))
	require.NotEqual(t, "s3cret", stored)

	forURL := "/api/credentials/for-url?url=https://admin.example.com/dashboard"
	w = s.do(http.MethodGet, forURL, bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, decode[[]credentialBody](t, w))

	w = s.do(http.MethodGet, fmt.Sprintf("/api/credentials/%d", cred.ID), bobToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, fmt.Sprintf("/api/credentials/%d/users", cred.ID), admin.Token, map[string]int64{"userId": bob.User.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodGet, forURL, bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[[]credentialBody](t, w)
	require.Len(t, got, 1)
	require.Equal(t, "s3cret", got[0].Password)

	w = s.do(http.MethodPut, fmt.Sprintf("/api/credentials/%d", cred.ID), bobToken, map[string]string{"label": "mine now"})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "Only the creator or an admin can modify this credential", decode[errorBody](t, w).Message)
}

func TestAuthErrors(t *testing.T) {
	s := newTestServer(t, nil)
	admin := register(s, "admin@example.com")

	w := s.do(http.MethodGet, "/api/credentials", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Access token required", decode[errorBody](t, w).Message)

	w = s.do(http.MethodGet, "/api/credentials", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// changing the password revokes the old token and hands out a new one
	w = s.do(http.MethodPut, "/api/auth/me", admin.Token, map[string]string{
		"currentPassword": "correct horse", "newPassword": "battery staple",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fresh := decode[sessionBody](t, w).Token
	require.NotEmpty(t, fresh)

	w = s.do(http.MethodGet, "/api/auth/me", admin.Token, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(http.MethodGet, "/api/auth/me", fresh, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestTeamDuplicateName(t *testing.T) {
	s := newTestServer(t, nil)
	admin := register(s, "admin@example.com")

	w := s.do(http.MethodPost, "/api/teams", admin.Token, map[string]string{"name": "Dev"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/teams", admin.Token, map[string]string{"name": "Development"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Dev", decode[errorBody](t, w).Duplicate)
}

func TestAuthRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.RateLimit.AuthPerMinute = 1
		c.RateLimit.AuthBurst = 2
	})

	for i := 0; i < 2; i++ {
		w := login(s, "nobody@example.com")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := login(s, "nobody@example.com")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
	require.Positive(t, decode[errorBody](t, w).RetryAfter)
}

func loginFrom(s *testServer, forwardedFor string) *httptest.ResponseRecorder {
	body := bytes.NewBufferString(`{"email":"nobody@example.com","password":"correct horse"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)
	req.RemoteAddr = "192.0.2.10:40000"
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestAuthRateLimitIgnoresUntrustedForwardedFor(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.RateLimit.AuthPerMinute = 1
		c.RateLimit.AuthBurst = 2
	})

	for i := 0; i < 2; i++ {
		w := loginFrom(s, fmt.Sprintf("203.0.113.%d", i+1))
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := loginFrom(s, "203.0.113.99")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAuthRateLimitBehindTrustedProxy(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.RateLimit.AuthPerMinute = 1
		c.RateLimit.AuthBurst = 1
		c.TrustedProxies = []string{"192.0.2.10"}
	})

	// each forwarded client gets its own bucket
	for i := 0; i < 3; i++ {
		w := loginFrom(s, fmt.Sprintf("203.0.113.%d", i+1))
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := loginFrom(s, "203.0.113.1")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestHealthAndRequestID(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = s.do(http.MethodGet, "/api/nope", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
