package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// PostgresVerificationTokenRepo はPostgreSQLを使用したメール確認トークンリポジトリ。
type PostgresVerificationTokenRepo struct {
	db *sql.DB
}

// NewPostgresVerificationTokenRepo はPostgresVerificationTokenRepoを生成する。
func NewPostgresVerificationTokenRepo(db *sql.DB) *PostgresVerificationTokenRepo {
	return &PostgresVerificationTokenRepo{db: db}
}

// CreateReplacingPrevious はユーザーの未使用トークンを使用済みにした上で token を作成する。
func (r *PostgresVerificationTokenRepo) CreateReplacingPrevious(ctx context.Context, token *model.EmailVerificationToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE email_verification_tokens SET used = true
		 WHERE user_id = $1 AND used = false`,
		token.UserID,
	); err != nil {
		return fmt.Errorf("failed to invalidate previous tokens: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO email_verification_tokens (token, user_id, created_at, expires_at, used)
		 VALUES ($1, $2, $3, $4, false)`,
		token.Token, token.UserID, token.CreatedAt, token.ExpiresAt,
	); err != nil {
		return fmt.Errorf("failed to insert verification token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Consume はトークンを使用済みにし、ユーザーのemail_verifiedを立てる。
func (r *PostgresVerificationTokenRepo) Consume(ctx context.Context, token string, now time.Time) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	t := &model.EmailVerificationToken{Token: token}
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, created_at, expires_at, used
		 FROM email_verification_tokens
		 WHERE token = $1
		 FOR UPDATE`,
		token,
	).Scan(&t.UserID, &t.CreatedAt, &t.ExpiresAt, &t.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrVerificationTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock verification token: %w", err)
	}

	if t.Used {
		return "", ErrVerificationTokenUsed
	}
	if t.IsExpired(now) {
		return "", ErrVerificationTokenExpired
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE email_verification_tokens SET used = true WHERE token = $1`,
		token,
	); err != nil {
		return "", fmt.Errorf("failed to mark verification token used: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET email_verified = true, updated_at = $2 WHERE id = $1`,
		t.UserID, now,
	); err != nil {
		return "", fmt.Errorf("failed to mark email verified: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return t.UserID, nil
}

// compile-time interface check
var _ VerificationTokenRepository = (*PostgresVerificationTokenRepo)(nil)
