package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/postcache/internal/database"
	"github.com/hitoshi/postcache/internal/model"
)

// UserRepo はSQLデータベースを使用したユーザーリポジトリ。
type UserRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewUserRepo はUserRepoを生成する。
func NewUserRepo(db *sql.DB, dialect database.Dialect) *UserRepo {
	return &UserRepo{db: db, dialect: dialect}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id)
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email)
}

func (r *UserRepo) findOne(ctx context.Context, q string, arg any) (*model.User, error) {
	user := &model.User{}
	var createdAt int64
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(q), arg).
		Scan(&user.ID, &user.Email, &user.PasswordHash, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	user.CreatedAt = time.UnixMilli(createdAt)
	return user, nil
}

// Create はユーザーを作成する。
func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`),
		user.ID, user.Email, user.PasswordHash, user.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*UserRepo)(nil)
