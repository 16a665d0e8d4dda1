package post

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/hitoshi/postcache/internal/model"
)

// PaginationStats はPagerが重複除去した結果の集計値。
type PaginationStats struct {
	TotalProcessed     int     `json:"total_processed"`
	DuplicatesFiltered int     `json:"duplicates_filtered"`
	UniquePosts        int     `json:"unique_posts"`
	DuplicateRate      float64 `json:"duplicate_rate"`
}

// Pager はページの遅延読み込みと再開を管理する。
// 失敗はページ単位で記録され、他の読み込み済みページには影響しない。
// リフレッシュでオフセットがずれた場合に備え、別ページで提供済みの投稿は除外する。
type Pager struct {
	loader   PageLoader
	pageSize int

	mu         sync.Mutex
	states     map[int]model.Result[*Page]
	seen       map[int64]int // 投稿ID -> 最初に提供したページ番号
	processed  int
	duplicates int
}

// NewPager はPagerの新しいインスタンスを生成する。
func NewPager(loader PageLoader, pageSize int) *Pager {
	return &Pager{
		loader:   loader,
		pageSize: pageSize,
		states:   make(map[int]model.Result[*Page]),
		seen:     make(map[int64]int),
	}
}

// Load は指定キーのページを読み込み、その状態を記録して返す。
func (p *Pager) Load(ctx context.Context, key int) model.Result[*Page] {
	p.mu.Lock()
	p.states[key] = model.Loading[*Page]()
	p.mu.Unlock()

	page, err := p.loader.Load(ctx, key, p.pageSize)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		result := model.Failure[*Page](err)
		p.states[key] = result
		return result
	}

	page = p.dedupe(key, page)
	result := model.Success(page)
	p.states[key] = result
	return result
}

// Append は読み込み済みの最後のページの次を読み込む。
// まだ何も読み込んでいない場合は1ページ目を読み込む。
// 末尾に達している場合は読み込まずにfalseを返す。
func (p *Pager) Append(ctx context.Context) (model.Result[*Page], bool) {
	p.mu.Lock()
	key := 1
	if pages := p.successPages(); len(pages) > 0 {
		last := pages[len(pages)-1]
		if last.NextKey == nil {
			p.mu.Unlock()
			return model.Success(last), false
		}
		key = *last.NextKey
	}
	p.mu.Unlock()

	return p.Load(ctx, key), true
}

// Retry は失敗したページを再読み込みする。
func (p *Pager) Retry(ctx context.Context, key int) model.Result[*Page] {
	return p.Load(ctx, key)
}

// State は指定キーの状態を返す。未読み込みの場合はfalseを返す。
func (p *Pager) State(key int) (model.Result[*Page], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.states[key]
	return r, ok
}

// Pages は読み込みに成功したページをページ番号順に返す。
func (p *Pager) Pages() []*Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.successPages()
}

func (p *Pager) successPages() []*Page {
	pages := make([]*Page, 0, len(p.states))
	for _, r := range p.states {
		if r.IsSuccess() {
			pages = append(pages, r.Data)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages
}

// Invalidate は読み込み状態を破棄し、アンカー位置付近から再開するキーを返す。
// アンカーがnilの場合や計算できない場合は1を返す。
func (p *Pager) Invalidate(anchor *int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := 1
	if k := RefreshKey(PagingState{Pages: p.successPages(), AnchorPosition: anchor}); k != nil && *k >= 1 {
		key = *k
	}

	p.states = make(map[int]model.Result[*Page])
	p.seen = make(map[int64]int)
	return key
}

// All はstartKeyから末尾まで順にページを読み込むイテレータを返す。
// 読み込みに失敗した場合はそのエラーを返して終了する。
func (p *Pager) All(ctx context.Context, startKey int) iter.Seq2[*Page, error] {
	return func(yield func(*Page, error) bool) {
		key := startKey
		for {
			result := p.Load(ctx, key)
			if result.IsError() {
				yield(nil, result.Err)
				return
			}
			page := result.Data
			if !yield(page, nil) || page.NextKey == nil {
				return
			}
			key = *page.NextKey
		}
	}
}

// Stats は重複除去の集計値のスナップショットを返す。副作用はない。
func (p *Pager) Stats() PaginationStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PaginationStats{
		TotalProcessed:     p.processed,
		DuplicatesFiltered: p.duplicates,
		UniquePosts:        len(p.seen),
	}
	if p.processed > 0 {
		stats.DuplicateRate = float64(p.duplicates) / float64(p.processed)
	}
	return stats
}

// dedupe は他ページで提供済みの投稿を除いたページを返す。p.muを保持して呼ぶこと。
func (p *Pager) dedupe(key int, page *Page) *Page {
	for id, owner := range p.seen {
		if owner == key {
			delete(p.seen, id)
		}
	}

	filtered := make([]model.Post, 0, len(page.Posts))
	for _, post := range page.Posts {
		p.processed++
		if owner, ok := p.seen[post.ID]; ok && owner != key {
			p.duplicates++
			continue
		}
		p.seen[post.ID] = key
		filtered = append(filtered, post)
	}

	out := *page
	out.Posts = filtered
	return &out
}
