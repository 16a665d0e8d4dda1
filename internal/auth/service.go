// Package auth はメールアドレスとパスワードによる認証、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/postcache/internal/model"
	"github.com/hitoshi/postcache/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// Register は新しいユーザーを登録する。
// 入力の検証に失敗した場合はINVALID_INPUT、登録済みのメールアドレスの場合はDUPLICATE_USERを返す。
func (s *Service) Register(ctx context.Context, email, password, confirmPassword string) (*model.User, error) {
	email = normalizeEmail(email)

	switch {
	case email == "":
		return nil, model.NewInvalidInputError("メールアドレスを入力してください")
	case strings.TrimSpace(password) == "":
		return nil, model.NewInvalidInputError("パスワードを入力してください")
	case confirmPassword == "":
		return nil, model.NewInvalidInputError("確認用パスワードを入力してください")
	case !IsValidEmail(email):
		return nil, model.NewInvalidInputError("メールアドレスの形式が正しくありません")
	case !IsValidPassword(password):
		return nil, model.NewInvalidInputError("パスワードは8文字以上で、大文字・小文字・数字・記号を含めてください")
	case password != confirmPassword:
		return nil, model.NewInvalidInputError("パスワードが一致しません")
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateUserError()
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user registered", slog.String("user_id", user.ID))
	return user, nil
}

// Login はメールアドレスとパスワードを検証し、セッションを発行する。
// 未登録のメールアドレスとパスワード不一致はどちらもINVALID_CREDENTIALSを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, model.NewInvalidInputError("メールアドレスとパスワードを入力してください")
	}
	if !IsValidEmail(email) {
		return nil, model.NewInvalidInputError("メールアドレスの形式が正しくありません")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := VerifyPassword(user.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.Warn("login failed", slog.String("user_id", user.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return model.NewUnauthorizedError()
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
// セッションがない、または期限切れの場合はUNAUTHORIZEDを返す。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	return user, nil
}

// IsLoggedIn はセッションが有効かを返す。
func (s *Service) IsLoggedIn(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to find session: %w", err)
	}
	return session != nil, nil
}

// CurrentUserIdentity はセッションに紐づくユーザーのメールアドレスを返す。
// ログインしていない場合は空文字を返す。
func (s *Service) CurrentUserIdentity(ctx context.Context, sessionID string) (string, error) {
	user, err := s.GetCurrentUser(ctx, sessionID)
	if err != nil {
		if model.HasCode(err, model.ErrCodeUnauthorized) || model.HasCode(err, model.ErrCodeUserNotFound) {
			return "", nil
		}
		return "", err
	}
	return user.Email, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
