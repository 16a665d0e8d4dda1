package post

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/postcache/internal/model"
	"github.com/hitoshi/postcache/internal/repository"
)

// SingleFetcher は投稿1件を取得するリモートクライアントのインターフェース。
type SingleFetcher interface {
	FetchByID(ctx context.Context, id int64) (*model.RemotePost, error)
}

// LookupService は投稿1件をキャッシュ優先で取得する。
// キャッシュにない場合のみリモートから取得し、マージしてから返す。
type LookupService struct {
	remote SingleFetcher
	cache  repository.PostCacheRepository
	merger Merger
	logger *slog.Logger
}

// NewLookupService はLookupServiceの新しいインスタンスを生成する。
func NewLookupService(
	remote SingleFetcher,
	cache repository.PostCacheRepository,
	merger Merger,
	logger *slog.Logger,
) *LookupService {
	return &LookupService{
		remote: remote,
		cache:  cache,
		merger: merger,
		logger: logger,
	}
}

// Get は指定IDの投稿を返す。
// リモートが再試行不可のエラーを返した場合は存在しないものとしてPOST_NOT_FOUNDを返す。
func (s *LookupService) Get(ctx context.Context, id int64) (*model.Post, error) {
	if id <= 0 {
		return nil, model.NewInvalidInputError(fmt.Sprintf("投稿IDは正の整数を指定してください: %d", id))
	}

	rec, err := s.cache.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("投稿%dの取得に失敗: %w", id, err)
	}
	if rec != nil {
		p := rec.ToPost()
		return &p, nil
	}

	remotePost, err := s.remote.FetchByID(ctx, id)
	if err != nil {
		if !model.IsRetryable(err) {
			return nil, model.NewPostNotFoundError(id)
		}
		return nil, err
	}

	if _, err := s.merger.Merge(context.WithoutCancel(ctx), []model.RemotePost{*remotePost}); err != nil {
		return nil, fmt.Errorf("投稿%dのマージに失敗: %w", id, err)
	}

	rec, err = s.cache.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("投稿%dの読み直しに失敗: %w", id, err)
	}
	if rec == nil {
		return nil, model.NewPostNotFoundError(id)
	}

	s.logger.Debug("キャッシュにない投稿をリモートから取得しました", slog.Int64("post_id", id))
	p := rec.ToPost()
	return &p, nil
}
