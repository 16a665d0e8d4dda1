package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/postcache/internal/model"
	"github.com/hitoshi/postcache/internal/post"
)

// maxBatchSize は一括追加で受け付けるIDの上限。
const maxBatchSize = 100

// FavoriteServiceInterface はお気に入りハンドラーが必要とするサービスインターフェース。
type FavoriteServiceInterface interface {
	Toggle(ctx context.Context, postID int64) (*post.ToggleResult, error)
	AddMultiple(ctx context.Context, postIDs []int64) []post.BatchResult
	UndoLast(ctx context.Context) (*post.ToggleResult, error)
	ListFavorites(ctx context.Context) ([]model.Post, error)
	Analytics() post.FavoriteAnalytics
}

// FavoriteHandler はお気に入り操作のHTTPハンドラー。
type FavoriteHandler struct {
	service FavoriteServiceInterface
}

// NewFavoriteHandler はFavoriteHandlerを生成する。
func NewFavoriteHandler(service FavoriteServiceInterface) *FavoriteHandler {
	return &FavoriteHandler{service: service}
}

type addFavoritesRequest struct {
	PostIDs []int64 `json:"post_ids"`
}

// batchItemResponse は一括追加の1件分のレスポンス。
type batchItemResponse struct {
	PostID      int64  `json:"post_id"`
	IsFavorited bool   `json:"is_favorited"`
	Message     string `json:"message,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
}

// Toggle は投稿のお気に入り状態を反転する。
// POST /api/posts/{id}/favorite
func (h *FavoriteHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePostID(r)
	if !ok {
		writeInvalidRequest(w, "投稿IDは整数を指定してください")
		return
	}

	result, err := h.service.Toggle(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// AddMultiple は複数の投稿をお気に入りに追加する。IDごとの結果を返す。
// POST /api/favorites
func (h *FavoriteHandler) AddMultiple(w http.ResponseWriter, r *http.Request) {
	var req addFavoritesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました")
		return
	}
	if len(req.PostIDs) == 0 || len(req.PostIDs) > maxBatchSize {
		writeInvalidRequest(w, "post_idsは1件以上100件以下で指定してください")
		return
	}

	results := h.service.AddMultiple(r.Context(), req.PostIDs)
	items := make([]batchItemResponse, 0, len(results))
	for _, res := range results {
		item := batchItemResponse{PostID: res.PostID}
		if res.Err != nil {
			item.ErrorCode = errorCode(res.Err)
		} else {
			item.IsFavorited = res.Result.IsFavorited
			item.Message = res.Result.Message
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

// Undo は直前のお気に入り操作を取り消す。
// POST /api/favorites/undo
func (h *FavoriteHandler) Undo(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.UndoLast(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// List はお気に入り投稿を返す。
// GET /api/favorites
func (h *FavoriteHandler) List(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.ListFavorites(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// Analytics はお気に入り操作の集計値を返す。
// GET /api/favorites/analytics
func (h *FavoriteHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Analytics())
}

// errorCode はエラーのAPIErrorコードを返す。APIErrorでない場合はINTERNAL_ERROR。
func errorCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return "INTERNAL_ERROR"
}
