// Package app はサブコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hitoshi/postcache/internal/auth"
	"github.com/hitoshi/postcache/internal/config"
	"github.com/hitoshi/postcache/internal/connectivity"
	"github.com/hitoshi/postcache/internal/database"
	"github.com/hitoshi/postcache/internal/handler"
	"github.com/hitoshi/postcache/internal/logger"
	"github.com/hitoshi/postcache/internal/metrics"
	"github.com/hitoshi/postcache/internal/middleware"
	"github.com/hitoshi/postcache/internal/post"
	"github.com/hitoshi/postcache/internal/remote"
	"github.com/hitoshi/postcache/internal/repository"
	"github.com/hitoshi/postcache/internal/security"
	"github.com/hitoshi/postcache/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数と設定ファイルからConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("remote_base_url", cfg.RemoteBaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandPrefetch:
		return runPrefetch(ctx, cfg, args[1:])
	default:
		return runServe(ctx, cfg)
	}
}

// components はサブコマンド間で共有するワイヤリング済みの依存関係。
type components struct {
	db          *sql.DB
	registry    *prometheus.Registry
	collector   *metrics.Collector
	posts       *repository.PostRepo
	users       *repository.UserRepo
	sessions    *repository.SessionRepo
	remote      *remote.Client
	monitor     *connectivity.Monitor
	reconciler  *post.Reconciler
	pageSource  *post.PageSource
	lookup      *post.LookupService
	favorites   *post.FavoriteService
	search      *post.SearchService
	refresh     *post.RefreshService
	authService *auth.Service
}

// build はDB接続を開き、全依存関係をワイヤリングする。
// 呼び出し側はcomponents.db.Closeを呼ぶこと。
func build(ctx context.Context, cfg *config.Config) (*components, error) {
	// 1. DB接続
	db, dialect, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established", slog.String("dialect", string(dialect)))

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. リポジトリの初期化
	c := &components{
		db:        db,
		registry:  registry,
		collector: collector,
		posts:     repository.NewPostRepo(db, dialect),
		users:     repository.NewUserRepo(db, dialect),
		sessions:  repository.NewSessionRepo(db, dialect),
	}

	// 4. リモートクライアントの初期化（SSRF対策付き）
	guard := security.NewOutboundGuard(cfg.RemoteAllowPrivate)
	if err := guard.ValidateURL(cfg.RemoteBaseURL); err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid REMOTE_BASE_URL: %w", err)
	}
	var limiter *rate.Limiter
	if cfg.RemoteRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RemoteRateLimit), 1)
	}
	c.remote = remote.NewClient(
		guard.NewClient(cfg.RemoteTimeout),
		cfg.RemoteBaseURL,
		limiter,
		collector,
		logger.Component(slog.Default(), "remote"),
		cfg.RemoteMaxSize,
	)

	// 5. ドメインサービスの初期化
	postLogger := logger.Component(slog.Default(), "post")
	c.monitor = connectivity.NewMonitor(logger.Component(slog.Default(), "connectivity"))
	c.reconciler = post.NewReconciler(c.posts, security.NewTextSanitizer(), collector, postLogger)
	c.pageSource = post.NewPageSource(c.remote, c.posts, c.reconciler, c.monitor, collector, postLogger)
	c.lookup = post.NewLookupService(c.remote, c.posts, c.reconciler, postLogger)
	c.favorites = post.NewFavoriteService(c.posts, post.FavoriteConfig{
		MaxFavorites: cfg.FavoritesLimit,
		HistorySize:  cfg.UndoHistorySize,
	}, collector, postLogger)
	c.search = post.NewSearchService(c.posts, cfg.SearchHistorySize)

	refreshCfg := post.DefaultRefreshConfig()
	refreshCfg.MinInterval = cfg.RefreshMinInterval
	refreshCfg.MaxRetries = cfg.RefreshMaxRetries
	c.refresh = post.NewRefreshService(c.remote, c.reconciler, refreshCfg, collector, postLogger)

	c.authService = auth.NewService(c.users, c.sessions, auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge})

	return c, nil
}

// runServe はAPIサーバーモードで起動する。
// HTTPサーバーと接続状態の監視を並行して実行し、
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.db.Close()

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         logger.Component(slog.Default(), "http"),
		HealthChecker:  c.db,
		MetricsHandler: metrics.Handler(c.registry),

		SessionFinder:     c.sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		AuthService: c.authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Pages:      c.pageSource,
		PostGetter: c.lookup,
		Refresher:  c.refresh,
		Cache:      c.posts,
		PostConfig: handler.PostHandlerConfig{
			DefaultPageSize: cfg.PageSize,
			MaxPageSize:     cfg.MaxPageSize,
		},

		FavoriteService: c.favorites,
		SearchService:   c.search,
		SearchDefaults:  post.DefaultSearchConfig(),
		Connectivity:    c.monitor,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		c.monitor.Run(gctx, c.remote, cfg.ConnectivityInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// キャッシュの期限切れ削除と接続状態の監視を実行する。
// リモートからの定期的な再取得は行わない。
func runWorker(ctx context.Context, cfg *config.Config) error {
	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.db.Close()

	cleanupJob := cleanup.NewCleanupJob(
		c.posts, cfg.CacheRetention, c.collector,
		logger.Component(slog.Default(), "cleanup"),
	)

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("cache_retention", cfg.CacheRetention),
		slog.Duration("connectivity_interval", cfg.ConnectivityInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cleanupJob.Start(gctx, cfg.CleanupInterval)
		return nil
	})
	g.Go(func() error {
		c.monitor.Run(gctx, c.remote, cfg.ConnectivityInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runPrefetch は先頭ページから順に読み込み、キャッシュを温める。
// 読み込むページ数は-pagesで指定し、省略時はPREFETCH_PAGESを使う。
// 途中のページで失敗した場合はそこで終了してエラーを返す。
func runPrefetch(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("prefetch", flag.ContinueOnError)
	pages := fs.Int("pages", cfg.PrefetchPages, "number of pages to load")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pages < 1 {
		return fmt.Errorf("pages must be positive: %d", *pages)
	}

	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.db.Close()

	pager := post.NewPager(c.pageSource, cfg.PageSize)
	loaded := 0
	for page, err := range pager.All(ctx, 1) {
		if err != nil {
			return fmt.Errorf("prefetch stopped at page %d: %w", loaded+1, err)
		}
		loaded++
		slog.Info("page prefetched",
			slog.Int("page", page.Number),
			slog.Int("count", len(page.Posts)),
			slog.Bool("from_cache", page.FromCache),
		)
		if loaded >= *pages {
			break
		}
	}

	count, err := c.posts.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count cached posts: %w", err)
	}

	stats := c.pageSource.Stats()
	slog.Info("prefetch completed",
		slog.Int("pages", loaded),
		slog.Int("cached_posts", count),
		slog.Int64("cache_fallbacks", stats.CacheFallbacks),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// SQLiteのファイルパスはそのまま返す。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
