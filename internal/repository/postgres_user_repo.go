package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/authgate/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

const userColumns = `id, email, name, last_name, family_name, password_hash,
	is_active, is_staff, is_superuser, email_verified, ip_addresses, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// rowScanner は *sql.Row と *sql.Rows の共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var ipJSON []byte
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.LastName, &user.FamilyName, &user.PasswordHash,
		&user.IsActive, &user.IsStaff, &user.IsSuperuser, &user.EmailVerified, &ipJSON,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.IPAddresses = make(map[string]time.Time)
	if len(ipJSON) > 0 {
		if err := json.Unmarshal(ipJSON, &user.IPAddresses); err != nil {
			return nil, fmt.Errorf("failed to decode ip_addresses: %w", err)
		}
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。メールアドレス重複時はErrEmailTakenを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	ipJSON, err := encodeIPAddresses(user.IPAddresses)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		user.ID, user.Email, user.Name, user.LastName, user.FamilyName, user.PasswordHash,
		user.IsActive, user.IsStaff, user.IsSuperuser, user.EmailVerified, ipJSON,
		user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetOrCreateByEmail はメールアドレスでユーザーを取得し、存在しなければ作成する。
// ON CONFLICT DO NOTHING により同時作成でも重複しない。既存ユーザーの氏名は上書きしない。
func (r *PostgresUserRepo) GetOrCreateByEmail(ctx context.Context, defaults *model.User) (*model.User, bool, error) {
	ipJSON, err := encodeIPAddresses(defaults.IPAddresses)
	if err != nil {
		return nil, false, err
	}

	user, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING `+userColumns,
		defaults.ID, defaults.Email, defaults.Name, defaults.LastName, defaults.FamilyName, defaults.PasswordHash,
		defaults.IsActive, defaults.IsStaff, defaults.IsSuperuser, defaults.EmailVerified, ipJSON,
		defaults.CreatedAt, defaults.UpdatedAt,
	))
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert user: %w", err)
	}

	existing, err := r.FindByEmail(ctx, defaults.Email)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("user disappeared after conflict: %s", defaults.Email)
	}
	return existing, false, nil
}

// AddIPAddress はIPアドレスが未記録の場合のみ記録時刻とともに追加する。
// 既に記録済みの場合は時刻を更新しない。
func (r *PostgresUserRepo) AddIPAddress(ctx context.Context, userID, ip string, seenAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET ip_addresses = ip_addresses || jsonb_build_object($2::text, $3::timestamptz),
		     updated_at = $3
		 WHERE id = $1 AND NOT jsonb_exists(ip_addresses, $2::text)`,
		userID, ip, seenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add ip address: %w", err)
	}
	return nil
}

// RemoveIPAddress はIPアドレスを記録から除去する。
func (r *PostgresUserRepo) RemoveIPAddress(ctx context.Context, userID, ip string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET ip_addresses = ip_addresses - $2::text, updated_at = now()
		 WHERE id = $1 AND jsonb_exists(ip_addresses, $2::text)`,
		userID, ip,
	)
	if err != nil {
		return fmt.Errorf("failed to remove ip address: %w", err)
	}
	return nil
}

func encodeIPAddresses(ips map[string]time.Time) ([]byte, error) {
	if ips == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(ips)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ip_addresses: %w", err)
	}
	return b, nil
}

// isUniqueViolation はエラーが一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
