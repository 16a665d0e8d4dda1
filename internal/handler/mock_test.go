package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/postcache/internal/connectivity"
	"github.com/hitoshi/postcache/internal/middleware"
	"github.com/hitoshi/postcache/internal/model"
	"github.com/hitoshi/postcache/internal/post"
)

const testSessionID = "session-123"

// --- モック定義 ---

type mockSessionFinder struct{}

func (mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if id == testSessionID {
		return &model.Session{ID: id, UserID: "user-123", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	return nil, nil
}

type mockHealthChecker struct {
	err error
}

func (m mockHealthChecker) PingContext(ctx context.Context) error { return m.err }

type mockAuthService struct {
	registerFn       func(ctx context.Context, email, password, confirm string) (*model.User, error)
	loginFn          func(ctx context.Context, email, password string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, email, password, confirm string) (*model.User, error) {
	return m.registerFn(ctx, email, password, confirm)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.Session, error) {
	return m.loginFn(ctx, email, password)
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	return m.getCurrentUserFn(ctx, sessionID)
}

type mockPageLoader struct {
	loadFn func(ctx context.Context, pageNumber, pageSize int) (*post.Page, error)
	stats  post.PagingStats
}

func (m *mockPageLoader) Load(ctx context.Context, pageNumber, pageSize int) (*post.Page, error) {
	return m.loadFn(ctx, pageNumber, pageSize)
}

func (m *mockPageLoader) Stats() post.PagingStats { return m.stats }

type mockPostGetter struct {
	getFn func(ctx context.Context, id int64) (*model.Post, error)
}

func (m *mockPostGetter) Get(ctx context.Context, id int64) (*model.Post, error) {
	return m.getFn(ctx, id)
}

type mockRefresher struct {
	refreshFn func(ctx context.Context, force bool) (*post.RefreshResult, error)
	analytics post.RefreshAnalytics
}

func (m *mockRefresher) Refresh(ctx context.Context, force bool) (*post.RefreshResult, error) {
	return m.refreshFn(ctx, force)
}

func (m *mockRefresher) Analytics() post.RefreshAnalytics { return m.analytics }

type mockCacheClearer struct {
	cleared bool
}

func (m *mockCacheClearer) Clear(ctx context.Context) error {
	m.cleared = true
	return nil
}

type mockFavoriteService struct {
	toggleFn      func(ctx context.Context, postID int64) (*post.ToggleResult, error)
	addMultipleFn func(ctx context.Context, postIDs []int64) []post.BatchResult
	undoFn        func(ctx context.Context) (*post.ToggleResult, error)
	listFn        func(ctx context.Context) ([]model.Post, error)
	analytics     post.FavoriteAnalytics
}

func (m *mockFavoriteService) Toggle(ctx context.Context, postID int64) (*post.ToggleResult, error) {
	return m.toggleFn(ctx, postID)
}

func (m *mockFavoriteService) AddMultiple(ctx context.Context, postIDs []int64) []post.BatchResult {
	return m.addMultipleFn(ctx, postIDs)
}

func (m *mockFavoriteService) UndoLast(ctx context.Context) (*post.ToggleResult, error) {
	return m.undoFn(ctx)
}

func (m *mockFavoriteService) ListFavorites(ctx context.Context) ([]model.Post, error) {
	return m.listFn(ctx)
}

func (m *mockFavoriteService) Analytics() post.FavoriteAnalytics { return m.analytics }

type mockSearchService struct {
	searchFn    func(ctx context.Context, query string, cfg post.SearchConfig) ([]model.Post, error)
	suggestions []string
}

func (m *mockSearchService) Search(ctx context.Context, query string, cfg post.SearchConfig) ([]model.Post, error) {
	return m.searchFn(ctx, query, cfg)
}

func (m *mockSearchService) Suggestions(prefix string) []string { return m.suggestions }

func (m *mockSearchService) Analytics() post.SearchAnalytics {
	return post.SearchAnalytics{TotalSearches: int64(len(m.suggestions))}
}

// --- ヘルパー ---

// newTestDeps はすべての依存にモックを設定したRouterDepsを返す。
// 各テストは必要なフィールドだけを差し替える。
func newTestDeps(t *testing.T) *RouterDeps {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return &RouterDeps{
		Logger:        logger,
		HealthChecker: mockHealthChecker{},
		SessionFinder: mockSessionFinder{},
		RateLimiter:   rl,
		AuthService:   &mockAuthService{},
		AuthConfig:    AuthHandlerConfig{SessionMaxAge: 3600},
		Pages: &mockPageLoader{loadFn: func(ctx context.Context, pageNumber, pageSize int) (*post.Page, error) {
			return &post.Page{Number: pageNumber, Posts: []model.Post{}}, nil
		}},
		PostGetter:      &mockPostGetter{},
		Refresher:       &mockRefresher{},
		Cache:           &mockCacheClearer{},
		PostConfig:      PostHandlerConfig{DefaultPageSize: 20, MaxPageSize: 100},
		FavoriteService: &mockFavoriteService{},
		SearchService:   &mockSearchService{},
		SearchDefaults:  post.DefaultSearchConfig(),
		Connectivity:    connectivity.NewMonitor(logger),
	}
}

// serve はリクエストをルーターに送り、レスポンスを返す。
func serve(deps *RouterDeps, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(w, req)
	return w
}

// withSession はリクエストに有効なセッションCookieを付与する。
func withSession(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: testSessionID})
	return req
}
