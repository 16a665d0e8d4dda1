package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/postcache/internal/database"
	"github.com/hitoshi/postcache/internal/model"
)

// SessionRepo はSQLデータベースを使用したセッションリポジトリ。
type SessionRepo struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time
}

// NewSessionRepo はSessionRepoを生成する。
func NewSessionRepo(db *sql.DB, dialect database.Dialect) *SessionRepo {
	return &SessionRepo{db: db, dialect: dialect, now: time.Now}
}

// Create はセッションを作成する。
func (r *SessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`),
		session.ID, session.UserID, session.ExpiresAt.UnixMilli(), session.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *SessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	var expiresAt, createdAt int64
	err := r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT id, user_id, expires_at, created_at
		 FROM sessions
		 WHERE id = ? AND expires_at > ?`),
		id, r.now().UnixMilli(),
	).Scan(&session.ID, &session.UserID, &expiresAt, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session.ExpiresAt = time.UnixMilli(expiresAt)
	session.CreatedAt = time.UnixMilli(createdAt)
	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *SessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM sessions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *SessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM sessions WHERE user_id = ?`), userID)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*SessionRepo)(nil)
