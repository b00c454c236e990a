package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/mail"
	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-chromepass/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-chromepass/pkg/database"
	"github.com/ovaphlow/pitchfork/service-chromepass/pkg/utilities"
)

// MinPasswordLength applies to registration and password changes.
const MinPasswordLength = 8

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Options configures a Service.
type Options struct {
	Hasher          PasswordHasher
	Mailer          mail.Sender
	FrontendURL     string
	VerificationTTL time.Duration
}

// Service orchestrates registration, authentication and the account lifecycle.
type Service struct {
	db            *sqlx.DB
	repo          *userrepo.UserRepo
	verifications *userrepo.VerificationRepo
	hasher        PasswordHasher
	mailer        mail.Sender
	logger        *zap.SugaredLogger

	frontendURL     string
	verificationTTL time.Duration
}

func NewService(db *sqlx.DB, logger *zap.SugaredLogger, opts Options) *Service {
	if opts.Hasher == nil {
		opts.Hasher = BcryptHasher{Cost: 12}
	}
	if opts.Mailer == nil {
		opts.Mailer = &mail.Recorder{Err: mail.ErrNotConfigured}
	}
	if opts.VerificationTTL == 0 {
		opts.VerificationTTL = 24 * time.Hour
	}
	return &Service{
		db:              db,
		repo:            userrepo.NewUserRepo(db),
		verifications:   userrepo.NewVerificationRepo(db),
		hasher:          opts.Hasher,
		mailer:          opts.Mailer,
		logger:          logger,
		frontendURL:     strings.TrimRight(opts.FrontendURL, "/"),
		verificationTTL: opts.VerificationTTL,
	}
}

// EnsureTables creates the users and email_verifications tables.
func (s *Service) EnsureTables(ctx context.Context) error {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return fmt.Errorf("users table: %w", err)
	}
	if err := s.verifications.EnsureTable(ctx); err != nil {
		return fmt.Errorf("email_verifications table: %w", err)
	}
	return nil
}

// RegisterInput carries a self-registration.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates an account. The first account ever created becomes an
// active, verified admin; later ones start pending and unverified and get a
// verification mail.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*entity.User, error) {
	email := normalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperror.Validation("A valid email address is required")
	}
	if err := checkPassword(in.Password); err != nil {
		return nil, err
	}
	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return nil, apperror.Validation("First and last name are required")
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, apperror.Conflict("User with this email already exists", "")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.Internal("lookup email", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperror.Internal("hash password", err)
	}
	n, err := s.repo.Count(ctx)
	if err != nil {
		return nil, apperror.Internal("count users", err)
	}

	now := time.Now().UTC()
	u := &entity.User{
		ID:           utilities.NewID(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    first,
		LastName:     last,
		Role:         entity.RoleUser,
		State:        entity.StatePending,
		TokenVersion: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if n == 0 {
		u.Role = entity.RoleAdmin
		u.State = entity.StateActive
		u.EmailVerified = true
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperror.Conflict("User with this email already exists", "")
		}
		return nil, apperror.Internal("create user", err)
	}
	s.logger.Infow("user registered", "user_id", u.ID, "role", u.Role.String(), "state", u.State.String())

	if !u.EmailVerified {
		if err := s.sendVerification(ctx, u); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// Authenticate checks email and password and applies the account gates.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*entity.User, error) {
	u, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.Authentication("Invalid email or password")
		}
		return nil, apperror.Internal("lookup user", err)
	}
	if u.State == entity.StateTrashed || !s.hasher.Verify(u.PasswordHash, password) {
		return nil, apperror.Authentication("Invalid email or password")
	}
	if err := accountGate(u); err != nil {
		return nil, err
	}
	if err := s.repo.TouchLastLogin(ctx, u.ID); err != nil {
		return nil, apperror.Internal("record login", err)
	}
	t := time.Now().UTC()
	u.LastLogin = &t
	return u, nil
}

// accountGate rejects accounts that may not use the service yet (or anymore).
func accountGate(u *entity.User) error {
	switch u.State {
	case entity.StateActive:
		return nil
	case entity.StateBlocked:
		return apperror.Authorization("Your account has been blocked")
	case entity.StatePending:
		if !u.EmailVerified {
			return apperror.Authorization("Please verify your email address before logging in")
		}
		return apperror.Authorization("Your account is awaiting administrator approval")
	default:
		return apperror.Authentication("Account is not available")
	}
}

// Lookup loads a user by id without an authorization check.
func (s *Service) Lookup(ctx context.Context, id int64) (*entity.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("User not found")
		}
		return nil, apperror.Internal("load user", err)
	}
	return u, nil
}

// Summaries returns the public projection for the given ids.
func (s *Service) Summaries(ctx context.Context, ids []int64) ([]entity.Summary, error) {
	out, err := s.repo.Summaries(ctx, ids)
	if err != nil {
		return nil, apperror.Internal("load users", err)
	}
	return out, nil
}

// VerifyEmail consumes a verification token. The account stays pending
// until an admin approves it.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*entity.User, error) {
	v, err := s.verifications.Get(ctx, strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.Validation("Invalid or expired verification link")
		}
		return nil, apperror.Internal("load verification", err)
	}
	if time.Now().After(v.ExpiresAt) {
		_ = s.verifications.DeleteForUser(ctx, v.UserID)
		return nil, apperror.Validation("Invalid or expired verification link")
	}
	if _, err := s.repo.MarkEmailVerified(ctx, v.UserID); err != nil {
		return nil, apperror.Internal("mark verified", err)
	}
	if err := s.verifications.DeleteForUser(ctx, v.UserID); err != nil {
		return nil, apperror.Internal("consume verification", err)
	}
	return s.Lookup(ctx, v.UserID)
}

// ResendVerification mails a fresh link. Unknown or already verified
// addresses succeed silently so the endpoint cannot be used to enumerate accounts.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	u, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return apperror.Internal("lookup user", err)
	}
	if u.EmailVerified || u.State == entity.StateTrashed {
		return nil
	}
	return s.sendVerification(ctx, u)
}

func (s *Service) sendVerification(ctx context.Context, u *entity.User) error {
	token := uuid.NewString()
	if err := s.verifications.Replace(ctx, token, u.ID, time.Now().Add(s.verificationTTL)); err != nil {
		return apperror.Internal("store verification", err)
	}
	subject, body := mail.VerificationEmail(u.FirstName, s.frontendURL+"/verify-email/"+token)
	if err := s.mailer.Send(u.Email, subject, body); err != nil {
		s.logger.Warnw("verification email not sent", "user_id", u.ID, "err", err)
	}
	return nil
}

// ProfileInput is a self-service update. Nil fields are left unchanged.
// Role and State are accepted only to reject them.
type ProfileInput struct {
	FirstName       *string
	LastName        *string
	Email           *string
	CurrentPassword string
	NewPassword     string
	Role            *entity.Role
	State           *entity.State
}

// UpdateProfile applies a self-service update for actor. Every check runs
// before anything is written, and the writes share one transaction.
func (s *Service) UpdateProfile(ctx context.Context, actor *entity.User, in ProfileInput) (*entity.User, error) {
	if in.Role != nil || in.State != nil {
		return nil, apperror.Authorization("You cannot change your own role or state")
	}
	cur, err := s.Lookup(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	prof, err := s.checkProfile(ctx, cur, in.FirstName, in.LastName, in.Email)
	if err != nil {
		return nil, err
	}
	var hash string
	if in.NewPassword != "" {
		if in.CurrentPassword == "" {
			return nil, apperror.Validation("Current password is required to change password")
		}
		if !s.hasher.Verify(cur.PasswordHash, in.CurrentPassword) {
			return nil, apperror.Validation("Current password is incorrect")
		}
		if err := checkPassword(in.NewPassword); err != nil {
			return nil, err
		}
		if hash, err = s.hasher.Hash(in.NewPassword); err != nil {
			return nil, apperror.Internal("hash password", err)
		}
	}
	err = database.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := writeProfile(ctx, tx, cur.ID, prof); err != nil {
			return err
		}
		if hash != "" {
			if err := userrepo.UpdatePassword(ctx, tx, cur.ID, hash); err != nil {
				return apperror.Internal("update password", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Lookup(ctx, actor.ID)
}

// profile holds validated name and email values; nil means no change.
type profile struct {
	first, last, email string
}

// checkProfile validates a name/email change against cur, including the
// email uniqueness lookup. It writes nothing.
func (s *Service) checkProfile(ctx context.Context, cur *entity.User, firstName, lastName, email *string) (*profile, error) {
	if firstName == nil && lastName == nil && email == nil {
		return nil, nil
	}
	p := &profile{first: cur.FirstName, last: cur.LastName, email: cur.Email}
	if firstName != nil {
		p.first = strings.TrimSpace(*firstName)
	}
	if lastName != nil {
		p.last = strings.TrimSpace(*lastName)
	}
	if p.first == "" || p.last == "" {
		return nil, apperror.Validation("First and last name cannot be empty")
	}
	if email != nil {
		p.email = normalizeEmail(*email)
		if p.email == "" || !strings.Contains(p.email, "@") {
			return nil, apperror.Validation("A valid email address is required")
		}
		if p.email != cur.Email {
			if _, err := s.repo.GetByEmail(ctx, p.email); err == nil {
				return nil, apperror.Conflict("Email already exists", "")
			} else if !errors.Is(err, sql.ErrNoRows) {
				return nil, apperror.Internal("lookup email", err)
			}
		}
	}
	return p, nil
}

func writeProfile(ctx context.Context, q sqlx.ExtContext, id int64, p *profile) error {
	if p == nil {
		return nil
	}
	if err := userrepo.UpdateProfile(ctx, q, id, p.first, p.last, p.email); err != nil {
		if database.IsUniqueViolation(err) {
			return apperror.Conflict("Email already exists", "")
		}
		return apperror.Internal("update profile", err)
	}
	return nil
}

// Get returns a user to an admin or to the user themself.
func (s *Service) Get(ctx context.Context, actor *entity.User, id int64) (*entity.User, error) {
	if !actor.IsAdmin() && actor.ID != id {
		return nil, apperror.Authorization("Access denied")
	}
	return s.Lookup(ctx, id)
}

// List returns users. Non-admins only see active accounts (the directory
// used when assigning credentials and teams).
func (s *Service) List(ctx context.Context, actor *entity.User, f entity.Filter) ([]*entity.User, error) {
	if !actor.IsAdmin() {
		active := entity.StateActive
		f.State = &active
	}
	out, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, apperror.Internal("list users", err)
	}
	return out, nil
}

// Pending lists accounts awaiting approval.
func (s *Service) Pending(ctx context.Context, actor *entity.User) ([]*entity.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	pending := entity.StatePending
	return s.List(ctx, actor, entity.Filter{State: &pending})
}

// Stats returns the admin overview counters.
func (s *Service) Stats(ctx context.Context, actor *entity.User) (*entity.Stats, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	st, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, apperror.Internal("user stats", err)
	}
	return st, nil
}

// AdminUpdateInput is an admin edit. Nil fields are left unchanged.
type AdminUpdateInput struct {
	FirstName *string
	LastName  *string
	Email     *string
	Role      *entity.Role
	State     *entity.State
}

// AdminUpdate edits another user's profile, role and state.
func (s *Service) AdminUpdate(ctx context.Context, actor *entity.User, id int64, in AdminUpdateInput) (*entity.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	target, err := s.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	role, state := target.Role, target.State
	if in.Role != nil {
		role = *in.Role
	}
	if in.State != nil {
		state = *in.State
	}
	if err := s.checkRoleState(ctx, actor, target, role, state); err != nil {
		return nil, err
	}
	prof, err := s.checkProfile(ctx, target, in.FirstName, in.LastName, in.Email)
	if err != nil {
		return nil, err
	}
	err = database.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := writeProfile(ctx, tx, id, prof); err != nil {
			return err
		}
		if role != target.Role {
			if err := userrepo.SetRole(ctx, tx, id, role); err != nil {
				return apperror.Internal("set role", err)
			}
		}
		if state != target.State {
			if err := userrepo.SetState(ctx, tx, id, state); err != nil {
				return apperror.Internal("set state", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Lookup(ctx, id)
}

// checkRoleState enforces the self-change ban, the state machine and the
// last-active-admin rule before a role/state write.
func (s *Service) checkRoleState(ctx context.Context, actor, target *entity.User, role entity.Role, state entity.State) error {
	if role == target.Role && state == target.State {
		return nil
	}
	if actor.ID == target.ID {
		return apperror.Authorization("You cannot change your own role or state")
	}
	if !role.Valid() {
		return apperror.Validationf("invalid role %d", int(role))
	}
	if state != target.State {
		if err := CheckTransition(target.State, state); err != nil {
			return err
		}
		if target.State == entity.StatePending && state == entity.StateActive && !target.EmailVerified {
			return apperror.Validation("User has not verified their email address yet")
		}
	}
	if losesAdmin(target, role, state) {
		n, err := s.repo.CountActiveAdminsExcluding(ctx, target.ID)
		if err != nil {
			return apperror.Internal("count admins", err)
		}
		if n == 0 {
			return apperror.Validation("Cannot remove the last active administrator")
		}
	}
	return nil
}

// SetRole changes a user's role.
func (s *Service) SetRole(ctx context.Context, actor *entity.User, id int64, role entity.Role) (*entity.User, error) {
	return s.AdminUpdate(ctx, actor, id, AdminUpdateInput{Role: &role})
}

// SetState moves a user to any state reachable from the current one.
func (s *Service) SetState(ctx context.Context, actor *entity.User, id int64, state entity.State) (*entity.User, error) {
	return s.AdminUpdate(ctx, actor, id, AdminUpdateInput{State: &state})
}

// Approve activates a pending account whose email is verified and tells
// the user.
func (s *Service) Approve(ctx context.Context, actor *entity.User, id int64) (*entity.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	target, err := s.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if target.State != entity.StatePending {
		return nil, apperror.Validation("User is not pending approval")
	}
	u, err := s.SetState(ctx, actor, id, entity.StateActive)
	if err != nil {
		return nil, err
	}
	subject, body := mail.ApprovalEmail(u.FirstName, s.frontendURL+"/login")
	if err := s.mailer.Send(u.Email, subject, body); err != nil {
		s.logger.Warnw("approval email not sent", "user_id", u.ID, "err", err)
	}
	return u, nil
}

// Activate unblocks or restores an account.
func (s *Service) Activate(ctx context.Context, actor *entity.User, id int64) (*entity.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	target, err := s.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if target.State == entity.StatePending {
		return nil, apperror.Validation("Pending users must be approved")
	}
	return s.SetState(ctx, actor, id, entity.StateActive)
}

// Deactivate blocks an active account.
func (s *Service) Deactivate(ctx context.Context, actor *entity.User, id int64) (*entity.User, error) {
	return s.SetState(ctx, actor, id, entity.StateBlocked)
}

// Trash soft-deletes an account.
func (s *Service) Trash(ctx context.Context, actor *entity.User, id int64) (*entity.User, error) {
	return s.SetState(ctx, actor, id, entity.StateTrashed)
}

func requireAdmin(actor *entity.User) error {
	if actor == nil || !actor.IsAdmin() {
		return apperror.Authorization("Admin access required")
	}
	return nil
}

func checkPassword(pw string) error {
	if utf8.RuneCountInString(pw) < MinPasswordLength {
		return apperror.Validationf("Password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
