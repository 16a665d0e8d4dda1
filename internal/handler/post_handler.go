package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/postcache/internal/model"
	"github.com/hitoshi/postcache/internal/post"
)

// PageLoaderInterface は投稿一覧ハンドラーが必要とするページ読み込みのインターフェース。
type PageLoaderInterface interface {
	Load(ctx context.Context, pageNumber, pageSize int) (*post.Page, error)
	Stats() post.PagingStats
}

// PostGetter は投稿1件の取得インターフェース。
type PostGetter interface {
	Get(ctx context.Context, id int64) (*model.Post, error)
}

// RefresherInterface は手動リフレッシュのインターフェース。
type RefresherInterface interface {
	Refresh(ctx context.Context, force bool) (*post.RefreshResult, error)
	Analytics() post.RefreshAnalytics
}

// CacheClearer はキャッシュ全削除のインターフェース。
type CacheClearer interface {
	Clear(ctx context.Context) error
}

// PostHandlerConfig は投稿ハンドラーの設定。
type PostHandlerConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// PostHandler は投稿の一覧・取得・リフレッシュのHTTPハンドラー。
type PostHandler struct {
	pages     PageLoaderInterface
	getter    PostGetter
	refresher RefresherInterface
	cache     CacheClearer
	config    PostHandlerConfig
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(
	pages PageLoaderInterface,
	getter PostGetter,
	refresher RefresherInterface,
	cache CacheClearer,
	config PostHandlerConfig,
) *PostHandler {
	return &PostHandler{
		pages:     pages,
		getter:    getter,
		refresher: refresher,
		cache:     cache,
		config:    config,
	}
}

// ListPosts はページ単位で投稿を返す。
// GET /api/posts?page=2&page_size=10
// page_sizeがMaxPageSizeを超える場合はMaxPageSizeに丸める。
func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := 1
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeInvalidRequest(w, "pageは1以上の整数を指定してください")
			return
		}
		page = n
	}

	pageSize := h.config.DefaultPageSize
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeInvalidRequest(w, "page_sizeは1以上の整数を指定してください")
			return
		}
		pageSize = n
	}
	if h.config.MaxPageSize > 0 && pageSize > h.config.MaxPageSize {
		pageSize = h.config.MaxPageSize
	}

	result, err := h.pages.Load(r.Context(), page, pageSize)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetPost は投稿1件を返す。
// GET /api/posts/{id}
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePostID(r)
	if !ok {
		writeInvalidRequest(w, "投稿IDは整数を指定してください")
		return
	}

	p, err := h.getter.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// Refresh は全投稿を再取得してキャッシュへマージする。
// POST /api/posts/refresh?force=true
func (h *PostHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	result, err := h.refresher.Refresh(r.Context(), force)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// PagingAnalytics はページ読み込みの集計値を返す。
// GET /api/analytics/paging
func (h *PostHandler) PagingAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pages.Stats())
}

// RefreshAnalytics は手動リフレッシュの集計値を返す。
// GET /api/analytics/refresh
func (h *PostHandler) RefreshAnalytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.refresher.Analytics())
}

// ClearCache はキャッシュを全削除する。お気に入り状態も失われる。
// DELETE /api/cache
func (h *PostHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Clear(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
