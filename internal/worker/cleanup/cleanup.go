// Package cleanup は使用済み・期限切れのメール確認トークンを削除するジョブを提供する。
// リフレッシュトークンは失効フラグで管理し、削除対象にしない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetention は削除対象とするトークンの経過期間のデフォルト値。
const DefaultRetention = 7 * 24 * time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PurgeRecorder は削除件数を記録するインターフェース。
type PurgeRecorder interface {
	RecordTokensPurged(count int64)
}

// Job は保持期間を超過したメール確認トークンの削除ジョブ。
// 冪等であり、何度実行しても結果は変わらない。
type Job struct {
	db        Executor
	logger    *slog.Logger
	recorder  PurgeRecorder
	now       func() time.Time
	Retention time.Duration // 作成からこの期間を過ぎたトークンが対象（デフォルト: 7日）
}

// Option はJobの設定を変更する。
type Option func(*Job)

// WithRecorder は削除件数の記録先を設定する。
func WithRecorder(r PurgeRecorder) Option {
	return func(j *Job) { j.recorder = r }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// NewJob は新しいJobを生成する。retention が0以下の場合はDefaultRetentionを使う。
func NewJob(db Executor, logger *slog.Logger, retention time.Duration, opts ...Option) *Job {
	if retention <= 0 {
		retention = DefaultRetention
	}
	j := &Job{
		db:        db,
		logger:    logger,
		now:       time.Now,
		Retention: retention,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// purgeQuery は使用済みまたは期限切れで、かつ作成から保持期間を過ぎたトークンを削除する。
// 未使用で有効期限内のトークンは保持期間に関わらず残す。
const purgeQuery = `DELETE FROM email_verification_tokens
 WHERE created_at < $1
   AND (used = true OR expires_at <= $2)`

// Run は削除を1回実行し、削除件数を返す。
func (j *Job) Run(ctx context.Context) (int64, error) {
	start := j.now()
	cutoff := start.Add(-j.Retention)

	result, err := j.db.ExecContext(ctx, purgeQuery, cutoff, start)
	if err != nil {
		j.logger.Error("failed to purge verification tokens",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return 0, fmt.Errorf("failed to purge verification tokens: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to get purged count",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordTokensPurged(deleted)
	}

	j.logger.Info("verification token cleanup completed",
		slog.Int64("deleted_count", deleted),
		slog.Duration("retention", j.Retention),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

// Start は interval 間隔で Run を繰り返す。起動直後に1回実行する。
// コンテキストがキャンセルされるまで戻らない。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("cleanup worker started",
		slog.Duration("interval", interval),
		slog.Duration("retention", j.Retention),
	)

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

// runLogged はRunのエラーをログに記録して握りつぶす。Run側で既にログ済み。
func (j *Job) runLogged(ctx context.Context) {
	_, _ = j.Run(ctx)
}
