package post

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/postcache/internal/metrics"
	"github.com/hitoshi/postcache/internal/model"
	"github.com/hitoshi/postcache/internal/remote"
)

// リフレッシュ結果のメッセージ。
const (
	MessageRefreshed  = "Posts refreshed"
	MessageStillFresh = "Data is still fresh"
)

// FullFetcher は全投稿を取得するリモートクライアントのインターフェース。
type FullFetcher interface {
	FetchAll(ctx context.Context) ([]model.RemotePost, error)
}

// RefreshConfig は手動リフレッシュの設定。
type RefreshConfig struct {
	MinInterval    time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRefreshConfig はデフォルトの設定を返す。
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		MinInterval:    30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// RefreshResult は手動リフレッシュの結果。
type RefreshResult struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message"`
	CacheHit    bool        `json:"cache_hit"`
	Attempts    int         `json:"attempts"`
	Merged      MergeResult `json:"merged"`
	RefreshedAt time.Time   `json:"refreshed_at"`
}

// RefreshAnalytics は手動リフレッシュの集計値。
type RefreshAnalytics struct {
	TotalRefreshes int64      `json:"total_refreshes"`
	Successful     int64      `json:"successful"`
	Failed         int64      `json:"failed"`
	SuccessRate    float64    `json:"success_rate"`
	LastRefresh    *time.Time `json:"last_refresh"`
	InProgress     bool       `json:"in_progress"`
}

// RefreshService はユーザー操作による全件の再取得とマージを行う。
// 同時に呼ばれたリフレッシュは1回の実行にまとめられる。
type RefreshService struct {
	remote  FullFetcher
	merger  Merger
	config  RefreshConfig
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time

	group       singleflight.Group
	mu          sync.Mutex
	lastRefresh time.Time
	inProgress  atomic.Bool
	total       atomic.Int64
	succeeded   atomic.Int64
	failed      atomic.Int64
}

// NewRefreshService はRefreshServiceの新しいインスタンスを生成する。
func NewRefreshService(
	remote FullFetcher,
	merger Merger,
	config RefreshConfig,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *RefreshService {
	return &RefreshService{
		remote:  remote,
		merger:  merger,
		config:  config,
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// Refresh は全投稿を再取得してキャッシュへマージする。
// forceがfalseで前回成功からMinInterval以内の場合はリモートへアクセスしない。
// 再試行可能なエラーは指数バックオフでMaxRetries回まで再試行する。
func (s *RefreshService) Refresh(ctx context.Context, force bool) (*RefreshResult, error) {
	if !force {
		if last, fresh := s.isFresh(); fresh {
			s.metrics.RecordRefresh("fresh")
			return &RefreshResult{
				Success:     true,
				Message:     MessageStillFresh,
				CacheHit:    true,
				RefreshedAt: last,
			}, nil
		}
	}

	v, err, _ := s.group.Do("refresh", func() (any, error) {
		return s.execute(ctx)
	})
	if err != nil {
		return nil, err
	}
	result := *v.(*RefreshResult)
	return &result, nil
}

func (s *RefreshService) isFresh() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRefresh.IsZero() {
		return time.Time{}, false
	}
	return s.lastRefresh, s.now().Sub(s.lastRefresh) < s.config.MinInterval
}

func (s *RefreshService) execute(ctx context.Context) (*RefreshResult, error) {
	s.inProgress.Store(true)
	defer s.inProgress.Store(false)
	s.total.Add(1)

	start := time.Now()
	posts, attempts, err := s.fetchWithRetry(ctx)
	if err != nil {
		s.failed.Add(1)
		s.metrics.RecordRefresh("failure")
		s.logger.Error("投稿のリフレッシュに失敗しました",
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	merged, err := s.merger.Merge(context.WithoutCancel(ctx), posts)
	if err != nil {
		s.failed.Add(1)
		s.metrics.RecordRefresh("failure")
		return nil, fmt.Errorf("リフレッシュ結果のマージに失敗: %w", err)
	}

	now := s.now()
	s.mu.Lock()
	s.lastRefresh = now
	s.mu.Unlock()

	s.succeeded.Add(1)
	s.metrics.RecordRefresh("success")
	s.logger.Info("投稿をリフレッシュしました",
		slog.Int("count", len(posts)),
		slog.Int("attempts", attempts),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return &RefreshResult{
		Success:     true,
		Message:     MessageRefreshed,
		Attempts:    attempts,
		Merged:      merged,
		RefreshedAt: now,
	}, nil
}

// fetchWithRetry は全件取得を再試行付きで行う。戻り値の2番目は試行回数。
func (s *RefreshService) fetchWithRetry(ctx context.Context) ([]model.RemotePost, int, error) {
	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		posts, err := s.remote.FetchAll(ctx)
		if err == nil {
			return posts, attempt + 1, nil
		}
		lastErr = err

		if !model.IsRetryable(err) || attempt == s.config.MaxRetries {
			return nil, attempt + 1, lastErr
		}

		delay := remote.CalculateBackoff(attempt, s.config.InitialBackoff, s.config.MaxBackoff)
		s.logger.Warn("リフレッシュを再試行します",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt + 1, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, s.config.MaxRetries + 1, lastErr
}

// Analytics は集計値のスナップショットを返す。副作用はない。
func (s *RefreshService) Analytics() RefreshAnalytics {
	a := RefreshAnalytics{
		TotalRefreshes: s.total.Load(),
		Successful:     s.succeeded.Load(),
		Failed:         s.failed.Load(),
		InProgress:     s.inProgress.Load(),
	}
	if a.TotalRefreshes > 0 {
		a.SuccessRate = float64(a.Successful) / float64(a.TotalRefreshes)
	}

	s.mu.Lock()
	if !s.lastRefresh.IsZero() {
		last := s.lastRefresh
		a.LastRefresh = &last
	}
	s.mu.Unlock()
	return a
}
