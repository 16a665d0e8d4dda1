package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/postcache/internal/model"
	"github.com/hitoshi/postcache/internal/post"
)

// SearchServiceInterface は検索ハンドラーが必要とするサービスインターフェース。
type SearchServiceInterface interface {
	Search(ctx context.Context, query string, cfg post.SearchConfig) ([]model.Post, error)
	Suggestions(prefix string) []string
	Analytics() post.SearchAnalytics
}

// SearchHandler はキャッシュ済み投稿の検索のHTTPハンドラー。
type SearchHandler struct {
	service  SearchServiceInterface
	defaults post.SearchConfig
}

// NewSearchHandler はSearchHandlerを生成する。defaultsはクエリで上書きされない設定値。
func NewSearchHandler(service SearchServiceInterface, defaults post.SearchConfig) *SearchHandler {
	return &SearchHandler{service: service, defaults: defaults}
}

// Search は投稿を検索する。
// GET /api/search?q=golang&max_results=20&fuzzy=true&boost=false
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cfg := h.defaults

	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeInvalidRequest(w, "max_resultsは1以上の整数を指定してください")
			return
		}
		if n < cfg.MaxResults {
			cfg.MaxResults = n
		}
	}
	if v := q.Get("fuzzy"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeInvalidRequest(w, "fuzzyはtrueまたはfalseを指定してください")
			return
		}
		cfg.EnableFuzzySearch = b
	}
	if v := q.Get("boost"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeInvalidRequest(w, "boostはtrueまたはfalseを指定してください")
			return
		}
		cfg.BoostFavorites = b
	}

	posts, err := h.service.Search(r.Context(), q.Get("q"), cfg)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// Suggestions は検索履歴から候補を返す。
// GET /api/search/suggestions?prefix=go
func (h *SearchHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": h.service.Suggestions(r.URL.Query().Get("prefix")),
	})
}

// Analytics は検索の集計値を返す。
// GET /api/search/analytics
func (h *SearchHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Analytics())
}
