package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-chromepass/internal/user/entity"
)

// NOTE: expected table schema:
// CREATE TABLE email_verifications (
//   token VARCHAR(64) PRIMARY KEY,
//   user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
//   expires_at TIMESTAMP NOT NULL
// );

type VerificationRepo struct {
	db *sqlx.DB
}

func NewVerificationRepo(db *sqlx.DB) *VerificationRepo {
	return &VerificationRepo{db: db}
}

func (r *VerificationRepo) EnsureTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS email_verifications (
  token VARCHAR(64) PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  expires_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_email_verifications_user ON email_verifications(user_id)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Replace drops any outstanding tokens for the user and stores a new one.
func (r *VerificationRepo) Replace(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM email_verifications WHERE user_id = ?`), userID); err != nil {
		return err
	}
	q := r.db.Rebind(`INSERT INTO email_verifications (token, user_id, expires_at) VALUES (?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q, token, userID, expiresAt.UTC())
	return err
}

// Get returns the verification for token or sql.ErrNoRows.
func (r *VerificationRepo) Get(ctx context.Context, token string) (*entity.Verification, error) {
	var v entity.Verification
	q := r.db.Rebind(`SELECT token, user_id, expires_at FROM email_verifications WHERE token = ?`)
	if err := r.db.GetContext(ctx, &v, q, token); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VerificationRepo) DeleteForUser(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM email_verifications WHERE user_id = ?`), userID)
	return err
}
