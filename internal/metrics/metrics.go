// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー層、外部IdPクライアント、ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(method, outcome string)
	RecordRefresh(outcome string)
	RecordRegistration(outcome string, emailSent bool)
	RecordEmailVerification(outcome string)
	RecordUpstreamFetch(kind string, elapsed time.Duration, err error)
	RecordHTTPStatus(statusCode int)
	RecordTokensPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins        *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	registrations *prometheus.CounterVec
	verifications *prometheus.CounterVec
	upstreamFail  *prometheus.CounterVec
	upstreamTime  *prometheus.HistogramVec
	httpStatus    *prometheus.CounterVec
	tokensPurged  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_logins_total",
			Help: "ログイン試行の合計数（方式・結果別）",
		}, []string{"method", "outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_token_refreshes_total",
			Help: "リフレッシュトークンのローテーション試行の合計数",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_registrations_total",
			Help: "ユーザー登録の合計数",
		}, []string{"outcome", "email_sent"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_email_verifications_total",
			Help: "メールアドレス確認の合計数",
		}, []string{"outcome"}),
		upstreamFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_upstream_fetch_fail_total",
			Help: "外部IdPエンドポイント取得失敗の合計数",
		}, []string{"kind"}),
		upstreamTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_upstream_fetch_latency_seconds",
			Help:    "外部IdPエンドポイント取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		tokensPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_verification_tokens_purged_total",
			Help: "クリーンアップで削除された確認トークンの合計数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.refreshes,
		c.registrations,
		c.verifications,
		c.upstreamFail,
		c.upstreamTime,
		c.httpStatus,
		c.tokensPurged,
	)

	return c
}

// RecordLogin はログイン試行を記録する。method は "external" または "local"。
func (c *Collector) RecordLogin(method, outcome string) {
	c.logins.WithLabelValues(method, outcome).Inc()
}

// RecordRefresh はリフレッシュ試行を記録する。
func (c *Collector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

// RecordRegistration はユーザー登録を記録する。
func (c *Collector) RecordRegistration(outcome string, emailSent bool) {
	c.registrations.WithLabelValues(outcome, strconv.FormatBool(emailSent)).Inc()
}

// RecordEmailVerification はメールアドレス確認を記録する。
func (c *Collector) RecordEmailVerification(outcome string) {
	c.verifications.WithLabelValues(outcome).Inc()
}

// RecordUpstreamFetch は外部IdPへのリクエストのレイテンシと失敗を記録する。
func (c *Collector) RecordUpstreamFetch(kind string, elapsed time.Duration, err error) {
	c.upstreamTime.WithLabelValues(kind).Observe(elapsed.Seconds())
	if err != nil {
		c.upstreamFail.WithLabelValues(kind).Inc()
	}
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordTokensPurged はクリーンアップで削除した確認トークン数を記録する。
func (c *Collector) RecordTokensPurged(count int64) {
	c.tokensPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
