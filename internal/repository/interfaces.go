// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/postcache/internal/model"
)

// PostCacheRepository は投稿キャッシュの永続化インターフェース。
// 各操作は単一プロセス内での並行アクセスに対して安全であること。
type PostCacheRepository interface {
	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.PostRecord, error)

	// ListRange はid降順でoffsetからlimit件の投稿を返す。
	ListRange(ctx context.Context, limit, offset int) ([]*model.PostRecord, error)

	// UpsertReplace は投稿を挿入する。同一IDが存在する場合は
	// author_id、title、body、cached_atのみを置き換え、is_favoriteは変更しない。
	UpsertReplace(ctx context.Context, records []*model.PostRecord) error

	// SetFavorite はお気に入りフラグのみを更新する。IDが存在しない場合は何もしない。
	SetFavorite(ctx context.Context, id int64, value bool) error

	// Count はキャッシュ件数を返す。
	Count(ctx context.Context) (int, error)

	// DeleteOlderThan はcached_atがtimestamp（エポックミリ秒）より古い投稿を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, timestamp int64) (int64, error)

	// Clear は全投稿を削除する。
	Clear(ctx context.Context) error
}

// PostQueryRepository は検索やお気に入り一覧など補助的な読み取りを提供する。
type PostQueryRepository interface {
	// CountFavorites はお気に入り件数を返す。
	CountFavorites(ctx context.Context) (int, error)

	// ListFavorites はお気に入り投稿をid降順で返す。
	ListFavorites(ctx context.Context) ([]*model.PostRecord, error)

	// ListAll は全投稿をid降順で返す。
	ListAll(ctx context.Context) ([]*model.PostRecord, error)

	// SearchText はタイトルまたは本文に部分一致する投稿をid降順で返す。大文字小文字は区別しない。
	SearchText(ctx context.Context, query string) ([]*model.PostRecord, error)
}

// PostRepository はキャッシュ操作と補助的な読み取りを合わせたインターフェース。
type PostRepository interface {
	PostCacheRepository
	PostQueryRepository
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
