// Package remote はリモート投稿APIのクライアントを提供する。
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/postcache/internal/metrics"
	"github.com/hitoshi/postcache/internal/model"
)

const userAgent = "Postcache/1.0"

// Client はリモート投稿APIのクライアント。
// 取得処理は副作用を持たず冪等で、キャッシュの状態を一切参照しない。
type Client struct {
	httpClient  *http.Client
	baseURL     string
	limiter     *rate.Limiter
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	maxBodySize int64
}

// NewClient はClientの新しいインスタンスを生成する。
// limiterがnilの場合はリクエスト間隔を制限しない。
func NewClient(
	httpClient *http.Client,
	baseURL string,
	limiter *rate.Limiter,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxBodySize int64,
) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		limiter:     limiter,
		metrics:     collector,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// FetchPage は指定ページの投稿を取得する。pageは1始まり。
// 失敗時はNETWORK_FAILUREのAPIErrorを返す。
func (c *Client) FetchPage(ctx context.Context, page, limit int) ([]model.RemotePost, error) {
	q := url.Values{}
	q.Set("_page", strconv.Itoa(page))
	q.Set("_limit", strconv.Itoa(limit))

	var posts []model.RemotePost
	if err := c.getJSON(ctx, "/posts?"+q.Encode(), &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// FetchAll は全投稿を取得する。手動リフレッシュで使用する。
func (c *Client) FetchAll(ctx context.Context) ([]model.RemotePost, error) {
	var posts []model.RemotePost
	if err := c.getJSON(ctx, "/posts", &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// FetchByID は指定IDの投稿を取得する。
func (c *Client) FetchByID(ctx context.Context, id int64) (*model.RemotePost, error) {
	var post model.RemotePost
	if err := c.getJSON(ctx, "/posts/"+strconv.FormatInt(id, 10), &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// Ping はリモートAPIへの到達性を確認する。接続状態の監視で使用する。
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/posts/1", nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewNetworkFailureError("接続できません", true, err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return model.NewNetworkFailureError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode), true, nil)
	}
	return nil
}

// getJSON はGETリクエストを送信し、レスポンスをoutにデコードする。
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.NewNetworkFailureError("リクエストが中断されました", false, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordRemoteLatency(time.Since(start))
	if err != nil {
		c.logger.Warn("リモートAPIへのリクエストに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewNetworkFailureError("HTTPリクエスト失敗", ctx.Err() == nil, err)
	}
	defer resp.Body.Close()

	c.metrics.RecordRemoteStatus(resp.StatusCode)

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case StatusOK:
	case StatusStop:
		c.logger.Warn("リモートAPIが再試行不可のステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return model.NewNetworkFailureError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode), false, nil)
	default:
		c.logger.Warn("リモートAPIがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return model.NewNetworkFailureError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode), true, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return model.NewNetworkFailureError("レスポンスボディの読み取りに失敗", true, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("リモートAPIのレスポンスのパースに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewNetworkFailureError("レスポンスJSONのパースに失敗", false, err)
	}

	c.logger.Debug("リモートAPIから取得しました",
		slog.String("path", path),
		slog.Int("http_status", resp.StatusCode),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
