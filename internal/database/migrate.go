// Package database はPostgreSQLへの接続と埋め込みスキーマの適用を提供する。
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationResult はスキーマ適用の前後のバージョン。
// 未適用のデータベースは From = 0 となる。
type MigrationResult struct {
	From uint
	To   uint
}

// Changed は1件以上のマイグレーションが適用されたかを返す。
func (r MigrationResult) Changed() bool {
	return r.From != r.To
}

// slogMigrateLogger はgolang-migrateの進捗をslogへ流す。
type slogMigrateLogger struct {
	logger *slog.Logger
}

func (l slogMigrateLogger) Printf(format string, v ...any) {
	l.logger.Info("migrate: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l slogMigrateLogger) Verbose() bool {
	return l.logger.Enabled(context.Background(), slog.LevelDebug)
}

// newMigrator は埋め込みのSQLをソースとするmigrateインスタンスを生成する。
func newMigrator(databaseURL string, logger *slog.Logger) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	if logger != nil {
		m.Log = slogMigrateLogger{logger: logger}
	}
	return m, nil
}

// currentVersion は適用済みバージョンを返す。dirtyな状態はエラーとする。
func currentVersion(m *migrate.Migrate) (uint, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema is dirty at version %d, fix it manually and force the version", version)
	}
	return version, nil
}

// Migrate は未適用のマイグレーションをすべて適用する。
// 最新の状態で呼んでもエラーにはならず、From と To が同じ値になる。
// logger が nil の場合、golang-migrateの進捗は出力しない。
func Migrate(databaseURL string, logger *slog.Logger) (MigrationResult, error) {
	m, err := newMigrator(databaseURL, logger)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	from, err := currentVersion(m)
	if err != nil {
		return MigrationResult{}, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationResult{From: from}, fmt.Errorf("failed to apply migrations: %w", err)
	}

	to, err := currentVersion(m)
	if err != nil {
		return MigrationResult{From: from}, err
	}
	return MigrationResult{From: from, To: to}, nil
}
