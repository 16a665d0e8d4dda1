package post

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/hitoshi/postcache/internal/model"
	"github.com/hitoshi/postcache/internal/ringbuf"
)

const (
	maxSuggestions  = 5
	topQueriesLimit = 5
	minFuzzyTermLen = 4
)

// SearchStore は検索に必要なキャッシュ操作。
type SearchStore interface {
	ListRange(ctx context.Context, limit, offset int) ([]*model.PostRecord, error)
	ListAll(ctx context.Context) ([]*model.PostRecord, error)
	SearchText(ctx context.Context, query string) ([]*model.PostRecord, error)
}

// SearchConfig は検索の設定。
type SearchConfig struct {
	MaxResults        int  `json:"max_results"`
	MinQueryLength    int  `json:"min_query_length"`
	BoostFavorites    bool `json:"boost_favorites"`
	EnableFuzzySearch bool `json:"enable_fuzzy_search"`
}

// DefaultSearchConfig はデフォルトの検索設定を返す。
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MaxResults:     50,
		MinQueryLength: 3,
		BoostFavorites: true,
	}
}

// QueryCount は検索語とその回数。
type QueryCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// SearchAnalytics は検索の集計値。UniqueQueriesとTopQueriesは保持中の履歴から算出する。
type SearchAnalytics struct {
	TotalSearches int64        `json:"total_searches"`
	UniqueQueries int          `json:"unique_queries"`
	TopQueries    []QueryCount `json:"top_queries"`
}

// SearchService はキャッシュ済み投稿の全文検索と検索履歴を提供する。
type SearchService struct {
	store   SearchStore
	history *ringbuf.Buffer[string]
	total   atomic.Int64
}

// NewSearchService はSearchServiceの新しいインスタンスを生成する。
// historySizeは検索履歴の保持件数。
func NewSearchService(store SearchStore, historySize int) *SearchService {
	return &SearchService{
		store:   store,
		history: ringbuf.New[string](historySize),
	}
}

type scoredRecord struct {
	rec   *model.PostRecord
	score int
}

// Search はタイトルと本文から投稿を検索する。
// クエリが空またはMinQueryLength未満の場合は新しい順にMaxResults件を返す。
// BoostFavoritesが有効な場合、一致したお気に入り投稿を先頭に並べる。
func (s *SearchService) Search(ctx context.Context, query string, cfg SearchConfig) ([]model.Post, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q != "" {
		s.total.Add(1)
		s.history.Push(q)
	}

	if len([]rune(q)) < cfg.MinQueryLength {
		records, err := s.store.ListRange(ctx, cfg.MaxResults, 0)
		if err != nil {
			return nil, fmt.Errorf("投稿一覧の取得に失敗: %w", err)
		}
		return model.ToPosts(records), nil
	}

	terms := strings.Fields(q)
	candidates, err := s.candidates(ctx, q, terms, cfg)
	if err != nil {
		return nil, err
	}

	matches := make([]scoredRecord, 0, len(candidates))
	for _, rec := range candidates {
		if score := scoreRecord(rec, q, terms, cfg.EnableFuzzySearch); score > 0 {
			matches = append(matches, scoredRecord{rec: rec, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if cfg.BoostFavorites && a.rec.IsFavorite != b.rec.IsFavorite {
			return a.rec.IsFavorite
		}
		if a.score != b.score {
			return a.score > b.score
		}
		return a.rec.ID > b.rec.ID
	})

	if cfg.MaxResults >= 0 && len(matches) > cfg.MaxResults {
		matches = matches[:cfg.MaxResults]
	}

	posts := make([]model.Post, 0, len(matches))
	for _, m := range matches {
		posts = append(posts, m.rec.ToPost())
	}
	return posts, nil
}

// candidates は採点対象の投稿を返す。
// 単一語かつあいまい検索なしの場合はLIKE検索で絞り込む。
func (s *SearchService) candidates(ctx context.Context, q string, terms []string, cfg SearchConfig) ([]*model.PostRecord, error) {
	var (
		records []*model.PostRecord
		err     error
	)
	if len(terms) == 1 && !cfg.EnableFuzzySearch {
		records, err = s.store.SearchText(ctx, q)
	} else {
		records, err = s.store.ListAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("検索対象の取得に失敗: %w", err)
	}
	return records, nil
}

// Suggestions は検索履歴からprefixで始まるクエリを新しい順に最大5件返す。
func (s *SearchService) Suggestions(prefix string) []string {
	p := strings.ToLower(strings.TrimSpace(prefix))
	if p == "" {
		return []string{}
	}

	items := s.history.Items()
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, maxSuggestions)
	for i := len(items) - 1; i >= 0 && len(out) < maxSuggestions; i-- {
		q := items[i]
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		if strings.HasPrefix(q, p) {
			out = append(out, q)
		}
	}
	return out
}

// Analytics は検索の集計値のスナップショットを返す。副作用はない。
func (s *SearchService) Analytics() SearchAnalytics {
	counts := make(map[string]int)
	for _, q := range s.history.Items() {
		counts[q]++
	}

	top := make([]QueryCount, 0, len(counts))
	for q, c := range counts {
		top = append(top, QueryCount{Query: q, Count: c})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Query < top[j].Query
	})
	if len(top) > topQueriesLimit {
		top = top[:topQueriesLimit]
	}

	return SearchAnalytics{
		TotalSearches: s.total.Load(),
		UniqueQueries: len(counts),
		TopQueries:    top,
	}
}

// scoreRecord は投稿の一致度を採点する。0は不一致。
func scoreRecord(rec *model.PostRecord, q string, terms []string, fuzzy bool) int {
	title := strings.ToLower(rec.Title)
	body := strings.ToLower(rec.Body)

	score := 0
	if strings.Contains(title, q) {
		score += 10
	}
	if strings.Contains(body, q) {
		score += 5
	}

	var titleWords, bodyWords []string
	if fuzzy {
		titleWords = splitWords(title)
		bodyWords = splitWords(body)
	}

	for _, term := range terms {
		switch {
		case strings.Contains(title, term):
			score += 3
		case strings.Contains(body, term):
			score++
		case fuzzy && fuzzyContains(titleWords, term):
			score += 2
		case fuzzy && fuzzyContains(bodyWords, term):
			score++
		}
	}
	return score
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// fuzzyContains はtermと編集距離が閾値以内の単語が含まれるかを返す。
// 4文字未満の語はあいまい一致の対象外。
func fuzzyContains(words []string, term string) bool {
	tr := []rune(term)
	if len(tr) < minFuzzyTermLen {
		return false
	}
	maxDist := 1
	if len(tr) > 5 {
		maxDist = 2
	}
	for _, w := range words {
		wr := []rune(w)
		if abs(len(wr)-len(tr)) > maxDist {
			continue
		}
		if levenshtein(tr, wr) <= maxDist {
			return true
		}
	}
	return false
}

// levenshtein は2つの文字列の編集距離を返す。
func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
