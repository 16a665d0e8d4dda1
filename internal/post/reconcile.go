// Package post は投稿キャッシュの同期・ページング・お気に入り・検索を提供する。
package post

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/postcache/internal/metrics"
	"github.com/hitoshi/postcache/internal/model"
	"github.com/hitoshi/postcache/internal/repository"
	"github.com/hitoshi/postcache/internal/security"
)

// Merger はリモートから取得した投稿をキャッシュへマージするインターフェース。
type Merger interface {
	Merge(ctx context.Context, posts []model.RemotePost) (MergeResult, error)
}

// MergeResult はマージ結果の件数を表す。
type MergeResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Reconciler はリモートの投稿とローカルキャッシュを突き合わせてマージする。
// リモートの内容（title/body/author）で上書きしつつ、ローカル専用の
// お気に入り状態は保持する。マージ済みフィールドを書き込むのはここだけ。
type Reconciler struct {
	repo      repository.PostCacheRepository
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(
	repo repository.PostCacheRepository,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   collector,
		logger:    logger,
		now:       time.Now,
	}
}

// Merge は投稿を1件ずつキャッシュへマージする。
// 既存レコードがあればそのお気に入り状態を引き継ぎ、なければfalseで作成する。
// バッチ内に同一IDが複数ある場合は後勝ちとなり、各レコードは直前の適用結果を
// 読み直した状態に対してマージされる。
// ストレージのエラーは途中でも即座に返す。
func (r *Reconciler) Merge(ctx context.Context, posts []model.RemotePost) (MergeResult, error) {
	var result MergeResult
	if len(posts) == 0 {
		return result, nil
	}

	cachedAt := r.now().UnixMilli()

	for _, p := range posts {
		if p.ID <= 0 {
			r.logger.Warn("不正なIDの投稿をスキップしました", slog.Int64("post_id", p.ID))
			result.Skipped++
			continue
		}

		existing, err := r.repo.FindByID(ctx, p.ID)
		if err != nil {
			r.logger.Error("既存投稿の取得でエラー",
				slog.Int64("post_id", p.ID),
				slog.String("error", err.Error()),
			)
			return result, fmt.Errorf("既存投稿の取得に失敗: %w", err)
		}

		rec := &model.PostRecord{
			ID:       p.ID,
			AuthorID: p.AuthorID,
			Title:    r.sanitizer.Sanitize(p.Title),
			Body:     r.sanitizer.Sanitize(p.Body),
			CachedAt: cachedAt,
		}
		if existing != nil {
			rec.IsFavorite = existing.IsFavorite
		}

		if err := r.repo.UpsertReplace(ctx, []*model.PostRecord{rec}); err != nil {
			r.logger.Error("投稿のマージでエラー",
				slog.Int64("post_id", p.ID),
				slog.String("error", err.Error()),
			)
			return result, fmt.Errorf("投稿のマージに失敗: %w", err)
		}

		if existing != nil {
			result.Updated++
		} else {
			result.Inserted++
		}
	}

	r.metrics.RecordPostsMerged(result.Inserted, result.Updated)
	r.logger.Info("投稿マージ完了",
		slog.Int("inserted", result.Inserted),
		slog.Int("updated", result.Updated),
		slog.Int("skipped", result.Skipped),
	)

	return result, nil
}

var _ Merger = (*Reconciler)(nil)
