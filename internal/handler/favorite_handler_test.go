package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/hitoshi/postcache/internal/model"
	"github.com/hitoshi/postcache/internal/post"
)

func TestToggleFavorite(t *testing.T) {
	deps := newTestDeps(t)
	deps.FavoriteService = &mockFavoriteService{toggleFn: func(ctx context.Context, postID int64) (*post.ToggleResult, error) {
		if postID != 5 {
			return nil, model.NewPostNotFoundError(postID)
		}
		return &post.ToggleResult{PostID: 5, IsFavorited: true, Message: post.MessageAdded}, nil
	}}

	w := serve(deps, withSession(httptest.NewRequest(http.MethodPost, "/api/posts/5/favorite", nil)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var result post.ToggleResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !result.IsFavorited || result.Message != post.MessageAdded {
		t.Errorf("result = %+v", result)
	}

	w = serve(deps, withSession(httptest.NewRequest(http.MethodPost, "/api/posts/999/favorite", nil)))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown post: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestToggleFavorite_LimitReached_Returns409(t *testing.T) {
	deps := newTestDeps(t)
	deps.FavoriteService = &mockFavoriteService{toggleFn: func(ctx context.Context, postID int64) (*post.ToggleResult, error) {
		return nil, model.NewFavoriteLimitReachedError(100)
	}}

	w := serve(deps, withSession(httptest.NewRequest(http.MethodPost, "/api/posts/1/favorite", nil)))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeFavoriteLimitReached {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeFavoriteLimitReached)
	}
}

func TestAddMultipleFavorites_ReportsPerIDResults(t *testing.T) {
	var gotIDs []int64
	deps := newTestDeps(t)
	deps.FavoriteService = &mockFavoriteService{addMultipleFn: func(ctx context.Context, postIDs []int64) []post.BatchResult {
		gotIDs = postIDs
		return []post.BatchResult{
			{PostID: 1, Result: &post.ToggleResult{PostID: 1, IsFavorited: true, Message: post.MessageAdded}},
			{PostID: 999, Err: model.NewPostNotFoundError(999)},
		}
	}}

	req := withSession(httptest.NewRequest(http.MethodPost, "/api/favorites", strings.NewReader(`{"post_ids":[1,999]}`)))
	w := serve(deps, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !reflect.DeepEqual(gotIDs, []int64{1, 999}) {
		t.Errorf("ids = %v, want [1 999]", gotIDs)
	}

	var body struct {
		Results []batchItemResponse `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(body.Results))
	}
	if !body.Results[0].IsFavorited || body.Results[0].ErrorCode != "" {
		t.Errorf("results[0] = %+v", body.Results[0])
	}
	if body.Results[1].ErrorCode != model.ErrCodePostNotFound {
		t.Errorf("results[1].error_code = %q, want %q", body.Results[1].ErrorCode, model.ErrCodePostNotFound)
	}
}

func TestAddMultipleFavorites_InvalidBody_Returns400(t *testing.T) {
	for _, body := range []string{`not json`, `{"post_ids":[]}`} {
		req := withSession(httptest.NewRequest(http.MethodPost, "/api/favorites", strings.NewReader(body)))
		w := serve(newTestDeps(t), req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%q: status = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
	}
}

func TestUndoFavorite_NothingToUndo_Returns409(t *testing.T) {
	deps := newTestDeps(t)
	deps.FavoriteService = &mockFavoriteService{undoFn: func(ctx context.Context) (*post.ToggleResult, error) {
		return nil, model.NewNothingToUndoError()
	}}

	w := serve(deps, withSession(httptest.NewRequest(http.MethodPost, "/api/favorites/undo", nil)))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestListFavoritesAndAnalytics(t *testing.T) {
	deps := newTestDeps(t)
	deps.FavoriteService = &mockFavoriteService{
		listFn: func(ctx context.Context) ([]model.Post, error) {
			return []model.Post{{ID: 4, IsFavorite: true}, {ID: 2, IsFavorite: true}}, nil
		},
		analytics: post.FavoriteAnalytics{TotalAdded: 3, TotalRemoved: 1, FavoriteRatio: 0.75},
	}

	w := serve(deps, withSession(httptest.NewRequest(http.MethodGet, "/api/favorites", nil)))
	var list struct {
		Posts []model.Post `json:"posts"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(list.Posts) != 2 || list.Posts[0].ID != 4 {
		t.Errorf("posts = %+v", list.Posts)
	}

	w = serve(deps, withSession(httptest.NewRequest(http.MethodGet, "/api/favorites/analytics", nil)))
	var analytics post.FavoriteAnalytics
	if err := json.NewDecoder(w.Body).Decode(&analytics); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if analytics.TotalAdded != 3 || analytics.FavoriteRatio != 0.75 {
		t.Errorf("analytics = %+v", analytics)
	}
}
