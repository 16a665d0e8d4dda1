package post

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/postcache/internal/metrics"
	"github.com/hitoshi/postcache/internal/model"
	"github.com/hitoshi/postcache/internal/repository"
)

var errStorage = errors.New("storage unavailable")

// mockPostRepo はテスト用のマップベースの投稿キャッシュ。
type mockPostRepo struct {
	mu      sync.Mutex
	records map[int64]model.PostRecord

	findErr   error
	upsertErr error
	listErr   error
	// dropFavoriteWrites がtrueの場合、SetFavoriteは成功を返すが書き込まない
	dropFavoriteWrites bool
	// blindReplace がtrueの場合、UpsertReplaceはis_favoriteも含めて丸ごと置き換える
	blindReplace bool
	upsertCalls  int
}

func newMockPostRepo() *mockPostRepo {
	return &mockPostRepo{records: make(map[int64]model.PostRecord)}
}

func (m *mockPostRepo) put(recs ...model.PostRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.records[r.ID] = r
	}
}

func (m *mockPostRepo) get(id int64) (model.PostRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok
}

func (m *mockPostRepo) FindByID(ctx context.Context, id int64) (*model.PostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *mockPostRepo) sorted(filter func(model.PostRecord) bool) []*model.PostRecord {
	out := []*model.PostRecord{}
	for _, r := range m.records {
		if filter == nil || filter(r) {
			rec := r
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *mockPostRepo) ListRange(ctx context.Context, limit, offset int) ([]*model.PostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	all := m.sorted(nil)
	if offset >= len(all) || limit <= 0 {
		return []*model.PostRecord{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *mockPostRepo) UpsertReplace(ctx context.Context, records []*model.PostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, r := range records {
		rec := *r
		if existing, ok := m.records[r.ID]; ok && !m.blindReplace {
			rec.IsFavorite = existing.IsFavorite
		}
		m.records[r.ID] = rec
	}
	return nil
}

func (m *mockPostRepo) SetFavorite(ctx context.Context, id int64, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropFavoriteWrites {
		return nil
	}
	if r, ok := m.records[id]; ok {
		r.IsFavorite = value
		m.records[id] = r
	}
	return nil
}

func (m *mockPostRepo) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func (m *mockPostRepo) DeleteOlderThan(ctx context.Context, timestamp int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.records {
		if r.CachedAt < timestamp {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *mockPostRepo) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[int64]model.PostRecord)
	return nil
}

func (m *mockPostRepo) CountFavorites(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sorted(func(r model.PostRecord) bool { return r.IsFavorite })), nil
}

func (m *mockPostRepo) ListFavorites(ctx context.Context) ([]*model.PostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(r model.PostRecord) bool { return r.IsFavorite }), nil
}

func (m *mockPostRepo) ListAll(ctx context.Context) ([]*model.PostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(nil), nil
}

func (m *mockPostRepo) SearchText(ctx context.Context, query string) ([]*model.PostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	return m.sorted(func(r model.PostRecord) bool {
		return strings.Contains(strings.ToLower(r.Title), q) || strings.Contains(strings.ToLower(r.Body), q)
	}), nil
}

var _ repository.PostRepository = (*mockPostRepo)(nil)

// mockRemote はテスト用のリモートクライアント。
type mockRemote struct {
	mu      sync.Mutex
	posts   []model.RemotePost // id昇順の全投稿
	err     error
	errs    []error // FetchAllで先頭から順に返すエラー
	calls   int
	onFetch func()
}

func (m *mockRemote) FetchPage(ctx context.Context, page, limit int) ([]model.RemotePost, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	hook := m.onFetch
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	start := (page - 1) * limit
	if start >= len(m.posts) {
		return []model.RemotePost{}, nil
	}
	end := start + limit
	if end > len(m.posts) {
		end = len(m.posts)
	}
	return m.posts[start:end], nil
}

func (m *mockRemote) FetchAll(ctx context.Context) ([]model.RemotePost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.posts, nil
}

func (m *mockRemote) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockConnectivity は接続状態の通知を記録する。
type mockConnectivity struct {
	mu     sync.Mutex
	states []bool
}

func (m *mockConnectivity) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, online)
}

func (m *mockConnectivity) last() (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.states) == 0 {
		return false, false
	}
	return m.states[len(m.states)-1], true
}

// identitySanitizer は入力をそのまま返すサニタイザ。
type identitySanitizer struct{}

func (identitySanitizer) Sanitize(s string) string { return s }

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func newTestCollector() *metrics.Collector {
	return metrics.NewCollector(prometheus.NewRegistry())
}

func newTestReconciler(repo repository.PostCacheRepository) *Reconciler {
	return NewReconciler(repo, identitySanitizer{}, newTestCollector(), newTestLogger())
}

// remotePosts はid 1..nの投稿を生成する。
func remotePosts(n int) []model.RemotePost {
	posts := make([]model.RemotePost, 0, n)
	for i := 1; i <= n; i++ {
		posts = append(posts, model.RemotePost{
			ID:       int64(i),
			AuthorID: int64(i%10 + 1),
			Title:    "title",
			Body:     "body",
		})
	}
	return posts
}

// cachedPosts はid 1..nのキャッシュレコードを生成する。
func cachedPosts(n int) []model.PostRecord {
	recs := make([]model.PostRecord, 0, n)
	for i := 1; i <= n; i++ {
		recs = append(recs, model.PostRecord{ID: int64(i), AuthorID: 1, Title: "cached", Body: "body", CachedAt: 1})
	}
	return recs
}

func ids(posts []model.Post) []int64 {
	out := make([]int64, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}
