package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/postcache/internal/database"
	"github.com/hitoshi/postcache/internal/model"
)

const postColumns = `id, author_id, title, body, is_favorite, cached_at`

// PostRepo はSQLデータベースを使用した投稿キャッシュリポジトリ。
// PostgreSQLとSQLiteの両方に対応する。
type PostRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewPostRepo はPostRepoを生成する。
func NewPostRepo(db *sql.DB, dialect database.Dialect) *PostRepo {
	return &PostRepo{db: db, dialect: dialect}
}

// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
func (r *PostRepo) FindByID(ctx context.Context, id int64) (*model.PostRecord, error) {
	rec := &model.PostRecord{}
	err := r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT `+postColumns+` FROM posts WHERE id = ?`),
		id,
	).Scan(&rec.ID, &rec.AuthorID, &rec.Title, &rec.Body, &rec.IsFavorite, &rec.CachedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return rec, nil
}

// ListRange はid降順でoffsetからlimit件の投稿を返す。
func (r *PostRepo) ListRange(ctx context.Context, limit, offset int) ([]*model.PostRecord, error) {
	if limit <= 0 {
		return []*model.PostRecord{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	return r.query(ctx, "範囲取得",
		`SELECT `+postColumns+` FROM posts ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
}

// UpsertReplace は投稿を1トランザクションで挿入または置換する。
// 競合時の更新対象にis_favoriteを含めないことで、ローカルのお気に入り状態を保持する。
func (r *PostRepo) UpsertReplace(ctx context.Context, records []*model.PostRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.dialect.Rebind(
		`INSERT INTO posts (`+postColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     author_id = excluded.author_id,
		     title = excluded.title,
		     body = excluded.body,
		     cached_at = excluded.cached_at`,
	))
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec == nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.AuthorID, rec.Title, rec.Body, rec.IsFavorite, rec.CachedAt,
		); err != nil {
			return fmt.Errorf("投稿の保存に失敗しました (id=%d): %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SetFavorite はお気に入りフラグのみを単一のUPDATE文で更新する。
// IDが存在しない場合は何もしない。
func (r *PostRepo) SetFavorite(ctx context.Context, id int64, value bool) error {
	_, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`UPDATE posts SET is_favorite = ? WHERE id = ?`),
		value, id,
	)
	if err != nil {
		return fmt.Errorf("お気に入り状態の更新に失敗しました: %w", err)
	}
	return nil
}

// Count はキャッシュ件数を返す。
func (r *PostRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM posts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return count, nil
}

// DeleteOlderThan はcached_atがtimestampより古い投稿を削除する。
func (r *PostRepo) DeleteOlderThan(ctx context.Context, timestamp int64) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`DELETE FROM posts WHERE cached_at < ?`),
		timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("古いキャッシュの削除に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// Clear は全投稿を削除する。
func (r *PostRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM posts`); err != nil {
		return fmt.Errorf("キャッシュの全削除に失敗しました: %w", err)
	}
	return nil
}

// CountFavorites はお気に入り件数を返す。
func (r *PostRepo) CountFavorites(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT count(*) FROM posts WHERE is_favorite = ?`),
		true,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count favorites: %w", err)
	}
	return count, nil
}

// ListFavorites はお気に入り投稿をid降順で返す。
func (r *PostRepo) ListFavorites(ctx context.Context) ([]*model.PostRecord, error) {
	return r.query(ctx, "お気に入り取得",
		`SELECT `+postColumns+` FROM posts WHERE is_favorite = ? ORDER BY id DESC`,
		true,
	)
}

// ListAll は全投稿をid降順で返す。
func (r *PostRepo) ListAll(ctx context.Context) ([]*model.PostRecord, error) {
	return r.query(ctx, "全件取得", `SELECT `+postColumns+` FROM posts ORDER BY id DESC`)
}

// SearchText はタイトルまたは本文に部分一致する投稿を返す。
// LIKEのワイルドカード文字はエスケープする。
func (r *PostRepo) SearchText(ctx context.Context, query string) ([]*model.PostRecord, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return r.query(ctx, "検索",
		`SELECT `+postColumns+` FROM posts
		 WHERE LOWER(title) LIKE ? ESCAPE '\' OR LOWER(body) LIKE ? ESCAPE '\'
		 ORDER BY id DESC`,
		pattern, pattern,
	)
}

// query は複数行を返すSELECTを実行してPostRecordに詰め替える。
func (r *PostRepo) query(ctx context.Context, op string, q string, args ...any) ([]*model.PostRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("投稿の%sに失敗しました: %w", op, err)
	}
	defer rows.Close()

	records := []*model.PostRecord{}
	for rows.Next() {
		rec := &model.PostRecord{}
		if err := rows.Scan(&rec.ID, &rec.AuthorID, &rec.Title, &rec.Body, &rec.IsFavorite, &rec.CachedAt); err != nil {
			return nil, fmt.Errorf("投稿の読み取りに失敗しました: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿の%sに失敗しました: %w", op, err)
	}
	return records, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// compile-time interface check
var _ PostRepository = (*PostRepo)(nil)
