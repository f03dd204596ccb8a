// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/shaft/internal/model"
)

// ログイン結果のラベル値。
const (
	LoginExisting     = "existing"
	LoginCreated      = "created"
	LoginNotOrgMember = "not_org_member"
	LoginError        = "error"
)

// Collector はPrometheusメトリクスを収集する実装。
// ledger.Observer、session.Observer、repository.OperationObserverを満たす。
type Collector struct {
	appended        prometheus.Counter
	appendFailures  *prometheus.CounterVec
	sessionsCreated prometheus.Counter
	sessionsRevoked prometheus.Counter
	logins          *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shaft_transactions_appended_total",
			Help: "追記された取引の合計数",
		}),
		appendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shaft_append_failures_total",
			Help: "取引追記の失敗数（理由別）",
		}, []string{"reason"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shaft_sessions_created_total",
			Help: "発行したトークンの合計数",
		}),
		sessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shaft_sessions_revoked_total",
			Help: "失効させたトークンの合計数",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shaft_logins_total",
			Help: "ログイン試行数（結果別）",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shaft_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shaft_store_operation_duration_seconds",
			Help:    "ストア操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "result"}),
	}

	reg.MustRegister(
		c.appended,
		c.appendFailures,
		c.sessionsCreated,
		c.sessionsRevoked,
		c.logins,
		c.httpStatus,
		c.storeLatency,
	)

	return c
}

// ErrorReason はエラーをメトリクスのラベル値に分類する。
func ErrorReason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case model.IsUnknownUser(err):
		return "unknown_user"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, model.ErrResourceUnavailable):
		return "unavailable"
	case errors.Is(err, model.ErrCorrupt):
		return "corrupt"
	case errors.Is(err, model.ErrAmountOutOfRange):
		return "invalid_amount"
	default:
		return "other"
	}
}

// ObserveAppend は取引追記の結果を記録する。
func (c *Collector) ObserveAppend(err error) {
	if err == nil {
		c.appended.Inc()
		return
	}
	c.appendFailures.WithLabelValues(ErrorReason(err)).Inc()
}

// ObserveSessionCreated はトークン発行を記録する。
func (c *Collector) ObserveSessionCreated() {
	c.sessionsCreated.Inc()
}

// ObserveSessionRevoked はトークン失効を記録する。
func (c *Collector) ObserveSessionRevoked() {
	c.sessionsRevoked.Inc()
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// ObserveStoreOperation はストア操作のレイテンシを記録する。
func (c *Collector) ObserveStoreOperation(op string, duration time.Duration, err error) {
	c.storeLatency.WithLabelValues(op, ErrorReason(err)).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
