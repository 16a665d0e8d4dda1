// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ページ読み込み結果の取得元ラベル。
const (
	SourceRemote = "remote"
	SourceCache  = "cache"
	SourceError  = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// リモートクライアントやサービス層から利用する。
type MetricsCollector interface {
	RecordPageLoad(source string)
	RecordRemoteStatus(statusCode int)
	RecordRemoteLatency(duration time.Duration)
	RecordPostsMerged(inserted, updated int)
	RecordFavoriteToggle(result string)
	RecordRefresh(result string)
	RecordCacheEvicted(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	pageLoads       *prometheus.CounterVec
	remoteStatus    *prometheus.CounterVec
	remoteLatency   prometheus.Histogram
	postsMerged     *prometheus.CounterVec
	favoriteToggles *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	cacheEvicted    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pageLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postcache_page_loads_total",
			Help: "取得元別のページ読み込み数",
		}, []string{"source"}),
		remoteStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postcache_remote_status_total",
			Help: "リモートAPIのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		remoteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "postcache_remote_fetch_latency_seconds",
			Help:    "リモート取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		postsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postcache_posts_merged_total",
			Help: "キャッシュにマージされた投稿数",
		}, []string{"result"}),
		favoriteToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postcache_favorite_toggles_total",
			Help: "結果別のお気に入り切り替え数",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postcache_refresh_total",
			Help: "結果別の手動リフレッシュ数",
		}, []string{"result"}),
		cacheEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "postcache_cache_evicted_total",
			Help: "期限切れで削除されたキャッシュ件数",
		}),
	}

	reg.MustRegister(
		c.pageLoads,
		c.remoteStatus,
		c.remoteLatency,
		c.postsMerged,
		c.favoriteToggles,
		c.refreshes,
		c.cacheEvicted,
	)

	return c
}

// RecordPageLoad はページ読み込みを取得元別に記録する。
func (c *Collector) RecordPageLoad(source string) {
	c.pageLoads.WithLabelValues(source).Inc()
}

// RecordRemoteStatus はリモートAPIのHTTPステータスコードを記録する。
func (c *Collector) RecordRemoteStatus(statusCode int) {
	c.remoteStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRemoteLatency はリモート取得のレイテンシを記録する。
func (c *Collector) RecordRemoteLatency(duration time.Duration) {
	c.remoteLatency.Observe(duration.Seconds())
}

// RecordPostsMerged はマージ結果を記録する。
func (c *Collector) RecordPostsMerged(inserted, updated int) {
	c.postsMerged.WithLabelValues("inserted").Add(float64(inserted))
	c.postsMerged.WithLabelValues("updated").Add(float64(updated))
}

// RecordFavoriteToggle はお気に入り切り替えの結果を記録する。
func (c *Collector) RecordFavoriteToggle(result string) {
	c.favoriteToggles.WithLabelValues(result).Inc()
}

// RecordRefresh は手動リフレッシュの結果を記録する。
func (c *Collector) RecordRefresh(result string) {
	c.refreshes.WithLabelValues(result).Inc()
}

// RecordCacheEvicted は削除されたキャッシュ件数を記録する。
func (c *Collector) RecordCacheEvicted(count int64) {
	c.cacheEvicted.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*Collector)(nil)
