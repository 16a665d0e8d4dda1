package post

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/hitoshi/postcache/internal/metrics"
	"github.com/hitoshi/postcache/internal/model"
	"github.com/hitoshi/postcache/internal/repository"
)

// RemoteFeed はページ単位で投稿を取得するリモートクライアントのインターフェース。
type RemoteFeed interface {
	FetchPage(ctx context.Context, page, limit int) ([]model.RemotePost, error)
}

// ConnectivityReporter はリモート取得の成否を接続状態として通知する先。
type ConnectivityReporter interface {
	SetOnline(online bool)
}

// PageLoader はページを1件読み込むインターフェース。Pagerから利用される。
type PageLoader interface {
	Load(ctx context.Context, pageNumber, pageSize int) (*Page, error)
}

// Page は1ページ分の読み込み結果。
// PrevKey/NextKeyがnilの場合はそれぞれ先頭・末尾を表す。
type Page struct {
	Number    int          `json:"page"`
	Posts     []model.Post `json:"posts"`
	PrevKey   *int         `json:"prev_key"`
	NextKey   *int         `json:"next_key"`
	FromCache bool         `json:"from_cache"`
}

// PagingStats はページ読み込みの集計値。
type PagingStats struct {
	TotalLoads     int64   `json:"total_loads"`
	RemoteLoads    int64   `json:"remote_loads"`
	CacheFallbacks int64   `json:"cache_fallbacks"`
	Failures       int64   `json:"failures"`
	PostsServed    int64   `json:"posts_served"`
	FallbackRate   float64 `json:"fallback_rate"`
}

// PageSource はリモート取得とキャッシュを組み合わせてページを提供する。
// リモート取得に成功した場合はマージ後のキャッシュを読み直して返し、
// 失敗した場合はキャッシュのみから同じ範囲を返す。
type PageSource struct {
	remote       RemoteFeed
	cache        repository.PostCacheRepository
	merger       Merger
	connectivity ConnectivityReporter
	metrics      metrics.MetricsCollector
	logger       *slog.Logger

	totalLoads     atomic.Int64
	remoteLoads    atomic.Int64
	cacheFallbacks atomic.Int64
	failures       atomic.Int64
	postsServed    atomic.Int64
}

// NewPageSource はPageSourceの新しいインスタンスを生成する。
// connectivityはnilでもよい。
func NewPageSource(
	remote RemoteFeed,
	cache repository.PostCacheRepository,
	merger Merger,
	connectivity ConnectivityReporter,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *PageSource {
	return &PageSource{
		remote:       remote,
		cache:        cache,
		merger:       merger,
		connectivity: connectivity,
		metrics:      collector,
		logger:       logger,
	}
}

// Load は指定ページを読み込む。pageNumberは1始まり。
//
// リモート取得後にコンテキストがキャンセルされていた場合はマージを開始しない。
// マージを開始した後はキャンセルの影響を受けずに最後まで適用する。
// リモート取得に失敗しキャッシュにも該当範囲がない場合はNETWORK_FAILUREを返す。
func (s *PageSource) Load(ctx context.Context, pageNumber, pageSize int) (*Page, error) {
	if pageNumber < 1 {
		return nil, model.NewInvalidInputError(fmt.Sprintf("ページ番号は1以上を指定してください: %d", pageNumber))
	}
	if pageSize < 1 {
		return nil, model.NewInvalidInputError(fmt.Sprintf("ページサイズは1以上を指定してください: %d", pageSize))
	}

	s.totalLoads.Add(1)
	offset := (pageNumber - 1) * pageSize

	remotePosts, err := s.remote.FetchPage(ctx, pageNumber, pageSize)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.reportOnline(false)
		return s.loadFromCache(ctx, pageNumber, pageSize, offset, err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	s.reportOnline(true)

	mergeCtx := context.WithoutCancel(ctx)
	if _, err := s.merger.Merge(mergeCtx, remotePosts); err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("ページ%dのマージに失敗: %w", pageNumber, err)
	}

	records, err := s.cache.ListRange(mergeCtx, pageSize, offset)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("ページ%dの読み直しに失敗: %w", pageNumber, err)
	}

	s.remoteLoads.Add(1)
	s.metrics.RecordPageLoad(metrics.SourceRemote)
	return s.newPage(pageNumber, records, false), nil
}

// loadFromCache はキャッシュのみからページを返す。
// キャッシュも空の場合はデータ末尾と区別するためエラーとする。
func (s *PageSource) loadFromCache(ctx context.Context, pageNumber, pageSize, offset int, remoteErr error) (*Page, error) {
	records, err := s.cache.ListRange(ctx, pageSize, offset)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("キャッシュからのページ%d取得に失敗: %w", pageNumber, err)
	}

	if len(records) == 0 {
		s.recordFailure()
		s.logger.Warn("リモート取得に失敗し、キャッシュにも投稿がありません",
			slog.Int("page", pageNumber),
			slog.Int("page_size", pageSize),
			slog.String("error", remoteErr.Error()),
		)
		return nil, model.NewNetworkFailureError(
			fmt.Sprintf("ページ%dを読み込めませんでした", pageNumber), model.IsRetryable(remoteErr), remoteErr)
	}

	s.logger.Info("リモート取得に失敗したためキャッシュを返します",
		slog.Int("page", pageNumber),
		slog.Int("count", len(records)),
		slog.String("error", remoteErr.Error()),
	)
	s.cacheFallbacks.Add(1)
	s.metrics.RecordPageLoad(metrics.SourceCache)
	return s.newPage(pageNumber, records, true), nil
}

func (s *PageSource) newPage(pageNumber int, records []*model.PostRecord, fromCache bool) *Page {
	posts := model.ToPosts(records)
	s.postsServed.Add(int64(len(posts)))

	page := &Page{
		Number:    pageNumber,
		Posts:     posts,
		FromCache: fromCache,
	}
	if pageNumber > 1 {
		prev := pageNumber - 1
		page.PrevKey = &prev
	}
	if len(posts) > 0 {
		next := pageNumber + 1
		page.NextKey = &next
	}
	return page
}

func (s *PageSource) recordFailure() {
	s.failures.Add(1)
	s.metrics.RecordPageLoad(metrics.SourceError)
}

func (s *PageSource) reportOnline(online bool) {
	if s.connectivity != nil {
		s.connectivity.SetOnline(online)
	}
}

// Stats はページ読み込みの集計値のスナップショットを返す。副作用はない。
func (s *PageSource) Stats() PagingStats {
	stats := PagingStats{
		TotalLoads:     s.totalLoads.Load(),
		RemoteLoads:    s.remoteLoads.Load(),
		CacheFallbacks: s.cacheFallbacks.Load(),
		Failures:       s.failures.Load(),
		PostsServed:    s.postsServed.Load(),
	}
	if stats.TotalLoads > 0 {
		stats.FallbackRate = float64(stats.CacheFallbacks) / float64(stats.TotalLoads)
	}
	return stats
}

// PagingState はコンシューマが読み込み済みのページと最後に表示していた位置。
// Pagesはページ番号の昇順で並んでいること。
type PagingState struct {
	Pages          []*Page
	AnchorPosition *int
}

// ClosestPageToPosition はアンカー位置を含むページを返す。
// 位置が読み込み済み範囲を超える場合は最後のページを返す。
func (st PagingState) ClosestPageToPosition(position int) *Page {
	if len(st.Pages) == 0 {
		return nil
	}
	if position < 0 {
		return st.Pages[0]
	}

	remaining := position
	for _, p := range st.Pages {
		if remaining < len(p.Posts) {
			return p
		}
		remaining -= len(p.Posts)
	}
	return st.Pages[len(st.Pages)-1]
}

// RefreshKey は無効化後に読み込みを再開するページキーを計算する。
// アンカーに最も近いページのPrevKey+1を優先し、なければNextKey-1を返す。
// アンカーがない場合はnilを返す（先頭から再開）。
func RefreshKey(state PagingState) *int {
	if state.AnchorPosition == nil {
		return nil
	}
	page := state.ClosestPageToPosition(*state.AnchorPosition)
	if page == nil {
		return nil
	}
	if page.PrevKey != nil {
		key := *page.PrevKey + 1
		return &key
	}
	if page.NextKey != nil {
		key := *page.NextKey - 1
		return &key
	}
	return nil
}

var _ PageLoader = (*PageSource)(nil)
