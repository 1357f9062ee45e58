package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/authgate/internal/model"
)

// PostgresAccessTokenRepo はPostgreSQLを使用したアクセストークンリポジトリ。
// access_tokens.user_id の一意制約によりユーザーごとに1件のみ保持する。
type PostgresAccessTokenRepo struct {
	db *sql.DB
}

// NewPostgresAccessTokenRepo はPostgresAccessTokenRepoを生成する。
func NewPostgresAccessTokenRepo(db *sql.DB) *PostgresAccessTokenRepo {
	return &PostgresAccessTokenRepo{db: db}
}

// FindByKey はキーでアクセストークンを取得する。見つからない場合はnilを返す。
func (r *PostgresAccessTokenRepo) FindByKey(ctx context.Context, key string) (*model.AccessToken, error) {
	token := &model.AccessToken{}
	err := r.db.QueryRowContext(ctx,
		`SELECT key, user_id, created_at FROM access_tokens WHERE key = $1`,
		key,
	).Scan(&token.Key, &token.UserID, &token.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find access token: %w", err)
	}
	return token, nil
}

// GetOrCreate は既存トークンがあればそれを返し、なければtokenを保存して返す。
// 1文で挿入と取得を行うため、同時のGetOrCreateやDeleteByUserIDと競合しても
// 必ずその時点で有効な1件が返る。既存行は DO UPDATE で同じ値を書き戻して RETURNING で得る。
func (r *PostgresAccessTokenRepo) GetOrCreate(ctx context.Context, token *model.AccessToken) (*model.AccessToken, error) {
	current := &model.AccessToken{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO access_tokens (key, user_id, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING key, user_id, created_at`,
		token.Key, token.UserID, token.CreatedAt,
	).Scan(&current.Key, &current.UserID, &current.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create access token: %w", err)
	}
	return current, nil
}

// Replace は既存トークンを削除し、tokenを同一トランザクションで作成する。
func (r *PostgresAccessTokenRepo) Replace(ctx context.Context, token *model.AccessToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE user_id = $1`,
		token.UserID,
	); err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO access_tokens (key, user_id, created_at) VALUES ($1, $2, $3)`,
		token.Key, token.UserID, token.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert access token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteByUserID はユーザーのトークンを削除し、削除したかどうかを返す。
func (r *PostgresAccessTokenRepo) DeleteByUserID(ctx context.Context, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete access token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ AccessTokenRepository = (*PostgresAccessTokenRepo)(nil)
