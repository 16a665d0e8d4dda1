// Package cleanup は古くなった投稿キャッシュの自動削除ジョブを提供する。
// 保持期間を超えてマージされていない投稿を定期的に削除する。
// お気に入りの投稿も例外なく削除対象となる。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/postcache/internal/metrics"
)

// DefaultRetention はキャッシュのデフォルト保持期間。
const DefaultRetention = 7 * 24 * time.Hour

// Evictor は指定時刻より古いキャッシュを削除するインターフェース。
// repository.PostCacheRepositoryが満たす。
type Evictor interface {
	DeleteOlderThan(ctx context.Context, timestamp int64) (int64, error)
}

// CleanupJob は保持期間を超過した投稿キャッシュの削除ジョブ。
// 削除はcached_atの比較のみで行うため冪等。
type CleanupJob struct {
	evictor   Evictor
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	Retention time.Duration
	now       func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionが0以下の場合はDefaultRetentionを使う。
func NewCleanupJob(evictor Evictor, retention time.Duration, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &CleanupJob{
		evictor:   evictor,
		metrics:   collector,
		logger:    logger,
		Retention: retention,
		now:       time.Now,
	}
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.logger.Info("キャッシュクリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("retention", j.Retention),
	)

	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("キャッシュクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}

// Run はcached_atがnow-Retentionより古い投稿を削除し、削除件数を返す。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	cutoff := j.now().Add(-j.Retention).UnixMilli()

	deleted, err := j.evictor.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("キャッシュクリーンアップの実行に失敗: %w", err)
	}

	j.metrics.RecordCacheEvicted(deleted)
	j.logger.Info("キャッシュクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int64("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}
