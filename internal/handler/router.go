package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/postcache/internal/middleware"
	"github.com/hitoshi/postcache/internal/post"
)

// HealthChecker はヘルスチェックでストレージの疎通を確認するインターフェース。
// *sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 共通
	Logger         *slog.Logger
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 投稿
	Pages      PageLoaderInterface
	PostGetter PostGetter
	Refresher  RefresherInterface
	Cache      CacheClearer
	PostConfig PostHandlerConfig

	// お気に入り
	FavoriteService FavoriteServiceInterface

	// 検索
	SearchService  SearchServiceInterface
	SearchDefaults post.SearchConfig

	// 接続状態
	Connectivity ConnectivitySource
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → Logging → SecurityHeaders → CORS → Identify → RateLimit → Session（お気に入り等のみ）
//
// /healthと/metricsはログとレート制限の対象外とする。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(chimw.RequestID)

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	postHandler := NewPostHandler(deps.Pages, deps.PostGetter, deps.Refresher, deps.Cache, deps.PostConfig)
	favHandler := NewFavoriteHandler(deps.FavoriteService)
	searchHandler := NewSearchHandler(deps.SearchService, deps.SearchDefaults)
	connHandler := NewConnectivityHandler(deps.Connectivity, deps.CORSAllowedOrigin)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
		r.Use(middleware.NewIdentifyMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.Middleware())

		// --- 認証不要のルート ---

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})

		r.Get("/api/posts", postHandler.ListPosts)
		r.Post("/api/posts/refresh", postHandler.Refresh)
		r.Get("/api/posts/{id}", postHandler.GetPost)

		r.Route("/api/search", func(r chi.Router) {
			r.Get("/", searchHandler.Search)
			r.Get("/suggestions", searchHandler.Suggestions)
			r.Get("/analytics", searchHandler.Analytics)
		})

		r.Get("/api/analytics/paging", postHandler.PagingAnalytics)
		r.Get("/api/analytics/refresh", postHandler.RefreshAnalytics)

		r.Get("/api/connectivity", connHandler.Get)
		r.Get("/api/connectivity/stream", connHandler.Stream)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))

			r.Post("/api/posts/{id}/favorite", favHandler.Toggle)

			r.Route("/api/favorites", func(r chi.Router) {
				r.Get("/", favHandler.List)
				r.Post("/", favHandler.AddMultiple)
				r.Post("/undo", favHandler.Undo)
				r.Get("/analytics", favHandler.Analytics)
			})

			r.Delete("/api/cache", postHandler.ClearCache)
		})
	})

	return r
}

// healthHandler はストレージに到達できれば200、できなければ503を返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
