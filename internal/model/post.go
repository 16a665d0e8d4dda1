// Package model はドメインモデルを定義する。
package model

// PostRecord はキャッシュに保存される投稿レコードを表す。
// IsFavorite はローカル専用の状態で、リモートから供給されることはない。
type PostRecord struct {
	ID         int64
	AuthorID   int64
	Title      string
	Body       string
	IsFavorite bool
	CachedAt   int64 // 最終マージ時刻（エポックミリ秒）
}

// ToPost はキャッシュレコードを上位レイヤー向けのビューに変換する。
func (r PostRecord) ToPost() Post {
	return Post{
		ID:         r.ID,
		AuthorID:   r.AuthorID,
		Title:      r.Title,
		Body:       r.Body,
		IsFavorite: r.IsFavorite,
	}
}

// ToPosts はキャッシュレコードのスライスをビューのスライスに変換する。
func ToPosts(records []*PostRecord) []Post {
	posts := make([]Post, 0, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		posts = append(posts, r.ToPost())
	}
	return posts
}

// Post は投稿の読み取り専用ビュー。CachedAtを持たない。
type Post struct {
	ID         int64  `json:"id"`
	AuthorID   int64  `json:"author_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	IsFavorite bool   `json:"is_favorite"`
}

// RemotePost はリモートフィードAPIが返す投稿の形。
type RemotePost struct {
	ID       int64  `json:"id"`
	AuthorID int64  `json:"userId"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}
