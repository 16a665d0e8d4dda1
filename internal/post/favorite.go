package post

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hitoshi/postcache/internal/metrics"
	"github.com/hitoshi/postcache/internal/model"
	"github.com/hitoshi/postcache/internal/ringbuf"
)

// 切り替え結果のメッセージ。
const (
	MessageAdded        = "Added to favorites"
	MessageRemoved      = "Removed from favorites"
	MessageUndone       = "Action undone"
	MessageAlreadyAdded = "Already in favorites"
)

const (
	defaultMaxFavorites    = 100
	defaultFavoriteHistory = 20
)

// FavoriteStore はお気に入り操作に必要なキャッシュ操作。
type FavoriteStore interface {
	FindByID(ctx context.Context, id int64) (*model.PostRecord, error)
	SetFavorite(ctx context.Context, id int64, value bool) error
	CountFavorites(ctx context.Context) (int, error)
	ListFavorites(ctx context.Context) ([]*model.PostRecord, error)
}

// FavoriteConfig はお気に入り操作の設定。
type FavoriteConfig struct {
	// MaxFavorites はお気に入り件数の上限。負の値は無制限、0は追加不可。
	MaxFavorites int
	// HistorySize は取り消し用に保持する操作履歴の件数。
	HistorySize int
}

// DefaultFavoriteConfig はデフォルトの設定を返す。
func DefaultFavoriteConfig() FavoriteConfig {
	return FavoriteConfig{
		MaxFavorites: defaultMaxFavorites,
		HistorySize:  defaultFavoriteHistory,
	}
}

// FavoriteAction はお気に入り操作の履歴1件。
type FavoriteAction struct {
	PostID    int64     `json:"post_id"`
	Favorited bool      `json:"favorited"`
	At        time.Time `json:"at"`
}

// ToggleResult はお気に入り切り替えの結果。
type ToggleResult struct {
	PostID      int64  `json:"post_id"`
	IsFavorited bool   `json:"is_favorited"`
	Message     string `json:"message"`
}

// BatchResult は一括追加の1件分の結果。Errがnilの場合のみResultが有効。
type BatchResult struct {
	PostID int64
	Result *ToggleResult
	Err    error
}

// FavoriteAnalytics はお気に入り操作の集計値。
type FavoriteAnalytics struct {
	TotalAdded    int64            `json:"total_added"`
	TotalRemoved  int64            `json:"total_removed"`
	FavoriteRatio float64          `json:"favorite_ratio"`
	RecentActions []FavoriteAction `json:"recent_actions"`
}

// FavoriteService は投稿1件のお気に入り状態を反転する。
// 同一IDへの同時切り替えはキャッシュのUPDATE文の原子性以上には直列化しない。
type FavoriteService struct {
	store   FavoriteStore
	config  FavoriteConfig
	history *ringbuf.Buffer[FavoriteAction]
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time

	added   atomic.Int64
	removed atomic.Int64
}

// NewFavoriteService はFavoriteServiceの新しいインスタンスを生成する。
func NewFavoriteService(
	store FavoriteStore,
	config FavoriteConfig,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *FavoriteService {
	return &FavoriteService{
		store:   store,
		config:  config,
		history: ringbuf.New[FavoriteAction](config.HistorySize),
		metrics: collector,
		logger:  logger,
		now:     time.Now,
	}
}

// Toggle は投稿のお気に入り状態を反転する。
//  1. IDが正でなければINVALID_INPUT
//  2. 投稿がなければPOST_NOT_FOUND
//  3. 未登録の投稿で上限に達していればFAVORITE_LIMIT_REACHED
//  4. フラグを反転して書き込み
//  5. 読み直して反映を確認し、一致しなければINCONSISTENT_WRITE
func (s *FavoriteService) Toggle(ctx context.Context, postID int64) (*ToggleResult, error) {
	if postID <= 0 {
		s.metrics.RecordFavoriteToggle("invalid")
		return nil, model.NewInvalidInputError(fmt.Sprintf("投稿IDは正の整数を指定してください: %d", postID))
	}

	current, err := s.store.FindByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗: %w", err)
	}
	if current == nil {
		s.metrics.RecordFavoriteToggle("not_found")
		return nil, model.NewPostNotFoundError(postID)
	}

	if !current.IsFavorite {
		if err := s.checkLimit(ctx); err != nil {
			return nil, err
		}
	}

	target := !current.IsFavorite
	if err := s.write(ctx, postID, target); err != nil {
		return nil, err
	}

	s.history.Push(FavoriteAction{PostID: postID, Favorited: target, At: s.now()})
	if target {
		s.added.Add(1)
		s.metrics.RecordFavoriteToggle("added")
	} else {
		s.removed.Add(1)
		s.metrics.RecordFavoriteToggle("removed")
	}

	s.logger.Info("お気に入り状態を切り替えました",
		slog.Int64("post_id", postID),
		slog.Bool("is_favorite", target),
	)

	return newToggleResult(postID, target), nil
}

// AddMultiple は複数の投稿をお気に入りに追加する。
// 既に登録済みの投稿は変更しない。結果は入力順に1件ずつ返す。
func (s *FavoriteService) AddMultiple(ctx context.Context, postIDs []int64) []BatchResult {
	results := make([]BatchResult, 0, len(postIDs))
	for _, id := range postIDs {
		results = append(results, s.addOne(ctx, id))
	}
	return results
}

func (s *FavoriteService) addOne(ctx context.Context, postID int64) BatchResult {
	if postID > 0 {
		current, err := s.store.FindByID(ctx, postID)
		if err != nil {
			return BatchResult{PostID: postID, Err: fmt.Errorf("投稿の取得に失敗: %w", err)}
		}
		if current != nil && current.IsFavorite {
			return BatchResult{PostID: postID, Result: &ToggleResult{
				PostID:      postID,
				IsFavorited: true,
				Message:     MessageAlreadyAdded,
			}}
		}
	}

	result, err := s.Toggle(ctx, postID)
	return BatchResult{PostID: postID, Result: result, Err: err}
}

// UndoLast は直近の操作を逆向きに書き込んで取り消す。
// 取り消しは元の操作とトランザクションを共有しないベストエフォート。
func (s *FavoriteService) UndoLast(ctx context.Context) (*ToggleResult, error) {
	action, ok := s.history.Pop()
	if !ok {
		return nil, model.NewNothingToUndoError()
	}

	target := !action.Favorited
	if err := s.write(ctx, action.PostID, target); err != nil {
		s.logger.Warn("お気に入り操作の取り消しに失敗しました",
			slog.Int64("post_id", action.PostID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.metrics.RecordFavoriteToggle("undone")
	s.logger.Info("お気に入り操作を取り消しました",
		slog.Int64("post_id", action.PostID),
		slog.Bool("is_favorite", target),
	)

	return &ToggleResult{PostID: action.PostID, IsFavorited: target, Message: MessageUndone}, nil
}

// ListFavorites はお気に入り投稿をid降順で返す。
func (s *FavoriteService) ListFavorites(ctx context.Context) ([]model.Post, error) {
	records, err := s.store.ListFavorites(ctx)
	if err != nil {
		return nil, fmt.Errorf("お気に入り一覧の取得に失敗: %w", err)
	}
	return model.ToPosts(records), nil
}

// Analytics は集計値のスナップショットを返す。副作用はない。
func (s *FavoriteService) Analytics() FavoriteAnalytics {
	a := FavoriteAnalytics{
		TotalAdded:    s.added.Load(),
		TotalRemoved:  s.removed.Load(),
		RecentActions: s.history.Items(),
	}
	if total := a.TotalAdded + a.TotalRemoved; total > 0 {
		a.FavoriteRatio = float64(a.TotalAdded) / float64(total)
	}
	return a
}

// checkLimit は追加後に上限を超えないかを確認する。
func (s *FavoriteService) checkLimit(ctx context.Context) error {
	if s.config.MaxFavorites < 0 {
		return nil
	}
	count, err := s.store.CountFavorites(ctx)
	if err != nil {
		return fmt.Errorf("お気に入り件数の取得に失敗: %w", err)
	}
	if count >= s.config.MaxFavorites {
		s.metrics.RecordFavoriteToggle("limit_reached")
		return model.NewFavoriteLimitReachedError(s.config.MaxFavorites)
	}
	return nil
}

// write はフラグを書き込み、読み直して反映を確認する。
func (s *FavoriteService) write(ctx context.Context, postID int64, target bool) error {
	if err := s.store.SetFavorite(ctx, postID, target); err != nil {
		return fmt.Errorf("お気に入り状態の更新に失敗: %w", err)
	}

	after, err := s.store.FindByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("更新後の投稿の取得に失敗: %w", err)
	}
	if after == nil || after.IsFavorite != target {
		s.metrics.RecordFavoriteToggle("inconsistent")
		s.logger.Warn("お気に入り状態の更新を確認できませんでした",
			slog.Int64("post_id", postID),
			slog.Bool("expected", target),
		)
		return model.NewInconsistentWriteError(postID)
	}
	return nil
}

func newToggleResult(postID int64, favorited bool) *ToggleResult {
	msg := MessageRemoved
	if favorited {
		msg = MessageAdded
	}
	return &ToggleResult{PostID: postID, IsFavorited: favorited, Message: msg}
}
