package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// PostgresRefreshTokenRepo はPostgreSQLを使用したリフレッシュトークンリポジトリ。
type PostgresRefreshTokenRepo struct {
	db *sql.DB
}

// NewPostgresRefreshTokenRepo はPostgresRefreshTokenRepoを生成する。
func NewPostgresRefreshTokenRepo(db *sql.DB) *PostgresRefreshTokenRepo {
	return &PostgresRefreshTokenRepo{db: db}
}

// Create はリフレッシュトークンを作成する。
func (r *PostgresRefreshTokenRepo) Create(ctx context.Context, token *model.RefreshToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (key, user_id, previous_key, created_at, expires_at, revoked)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, false)`,
		token.Key, token.UserID, token.PreviousKey, token.CreatedAt, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// Rotate は oldKey の未失効トークンを失効させ、next を1トランザクションで作成する。
// SELECT ... FOR UPDATE で行ロックを取るため、同じキーでの同時呼び出しは
// 後続側がコミット後の revoked = true を読み、ErrRefreshTokenNotFound となる。
func (r *PostgresRefreshTokenRepo) Rotate(ctx context.Context, oldKey string, next *model.RefreshToken, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var userID string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM refresh_tokens
		 WHERE key = $1 AND revoked = false
		 FOR UPDATE`,
		oldKey,
	).Scan(&userID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRefreshTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock refresh token: %w", err)
	}

	if !now.Before(expiresAt) {
		return ErrRefreshTokenExpired
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = true, revoked_at = $2 WHERE key = $1`,
		oldKey, now,
	); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	next.UserID = userID
	next.PreviousKey = oldKey
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (key, user_id, previous_key, created_at, expires_at, revoked)
		 VALUES ($1, $2, $3, $4, $5, false)`,
		next.Key, next.UserID, next.PreviousKey, next.CreatedAt, next.ExpiresAt,
	); err != nil {
		return fmt.Errorf("failed to insert rotated refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// compile-time interface check
var _ RefreshTokenRepository = (*PostgresRefreshTokenRepo)(nil)
