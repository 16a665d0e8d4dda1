package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/postcache/internal/model"
	"github.com/hitoshi/postcache/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn    func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	createFn      func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByIDFn       func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)

const validPassword = "Secret#123"

func registeredUser(t *testing.T) *model.User {
	t.Helper()
	hash, err := HashPassword(validPassword)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	return &model.User{ID: "user-id-1", Email: "user@example.com", PasswordHash: hash}
}

// --- テスト ---

func TestRegister_CreatesUserWithHashedPassword(t *testing.T) {
	ctx := context.Background()
	var created *model.User
	userRepo := &mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			created = user
			return nil
		},
	}
	svc := NewService(userRepo, &mockSessionRepo{}, ServiceConfig{SessionMaxAge: 86400})

	user, err := svc.Register(ctx, "  User@Example.com ", validPassword, validPassword)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if created == nil || created != user {
		t.Fatal("expected user to be persisted")
	}
	if user.ID == "" {
		t.Error("expected non-empty user ID")
	}
	if user.Email != "user@example.com" {
		t.Errorf("email = %q, want normalized %q", user.Email, "user@example.com")
	}
	if user.PasswordHash == validPassword {
		t.Error("password must not be stored in plain text")
	}
	if ok, _ := VerifyPassword(user.PasswordHash, validPassword); !ok {
		t.Error("stored hash does not verify")
	}
}

func TestRegister_ValidationErrors(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockSessionRepo{}, ServiceConfig{SessionMaxAge: 86400})

	tests := []struct {
		name            string
		email, password string
		confirm         string
	}{
		{"メール未入力", "", validPassword, validPassword},
		{"パスワード未入力", "a@example.com", "", ""},
		{"確認用未入力", "a@example.com", validPassword, ""},
		{"メール形式不正", "not-an-email", validPassword, validPassword},
		{"弱いパスワード", "a@example.com", "password", "password"},
		{"確認用不一致", "a@example.com", validPassword, "Secret#124"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.email, tt.password, tt.confirm)
			if !model.HasCode(err, model.ErrCodeInvalidInput) {
				t.Errorf("err = %v, want INVALID_INPUT", err)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "existing", Email: email}, nil
		},
		createFn: func(ctx context.Context, user *model.User) error {
			t.Fatal("Create must not be called for a duplicate email")
			return nil
		},
	}
	svc := NewService(userRepo, &mockSessionRepo{}, ServiceConfig{SessionMaxAge: 86400})

	_, err := svc.Register(context.Background(), "user@example.com", validPassword, validPassword)
	if !model.HasCode(err, model.ErrCodeDuplicateUser) {
		t.Fatalf("err = %v, want DUPLICATE_USER", err)
	}
}

func TestLogin_ValidCredentials_CreatesSession(t *testing.T) {
	ctx := context.Background()
	user := registeredUser(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var createdSession *model.Session
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			if email == user.Email {
				return user, nil
			}
			return nil, nil
		},
	}
	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			createdSession = session
			return nil
		},
	}
	svc := NewService(userRepo, sessionRepo, ServiceConfig{SessionMaxAge: 3600})
	svc.now = func() time.Time { return now }

	session, err := svc.Login(ctx, "USER@example.com", validPassword)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if createdSession == nil || createdSession.ID != session.ID {
		t.Fatal("expected session to be persisted")
	}
	if len(session.ID) != 64 {
		t.Errorf("session ID length = %d, want 64", len(session.ID))
	}
	if session.UserID != user.ID {
		t.Errorf("session userID = %q, want %q", session.UserID, user.ID)
	}
	if want := now.Add(time.Hour); !session.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, want)
	}
}

func TestLogin_WrongPassword_ReturnsInvalidCredentials(t *testing.T) {
	user := registeredUser(t)
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return user, nil
		},
	}
	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			t.Fatal("session must not be created")
			return nil
		},
	}
	svc := NewService(userRepo, sessionRepo, ServiceConfig{SessionMaxAge: 86400})

	_, err := svc.Login(context.Background(), user.Email, "Wrong#123")
	if !model.HasCode(err, model.ErrCodeInvalidCredentials) {
		t.Fatalf("err = %v, want INVALID_CREDENTIALS", err)
	}
}

func TestLogin_UnknownEmail_ReturnsInvalidCredentials(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockSessionRepo{}, ServiceConfig{SessionMaxAge: 86400})

	_, err := svc.Login(context.Background(), "nobody@example.com", validPassword)
	if !model.HasCode(err, model.ErrCodeInvalidCredentials) {
		t.Fatalf("err = %v, want INVALID_CREDENTIALS", err)
	}
}

func TestLogin_EmptyInput(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockSessionRepo{}, ServiceConfig{SessionMaxAge: 86400})

	if _, err := svc.Login(context.Background(), "", ""); !model.HasCode(err, model.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

func TestLogin_RepositoryError(t *testing.T) {
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return nil, errors.New("db error")
		},
	}
	svc := NewService(userRepo, &mockSessionRepo{}, ServiceConfig{SessionMaxAge: 86400})

	if _, err := svc.Login(context.Background(), "user@example.com", validPassword); err == nil {
		t.Fatal("expected error from Login")
	}
}

func TestLogout_DeletesSession(t *testing.T) {
	var deletedSessionID string
	sessionRepo := &mockSessionRepo{
		deleteByIDFn: func(ctx context.Context, id string) error {
			deletedSessionID = id
			return nil
		},
	}
	svc := NewService(&mockUserRepo{}, sessionRepo, ServiceConfig{SessionMaxAge: 86400})

	if err := svc.Logout(context.Background(), "session-to-delete"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if deletedSessionID != "session-to-delete" {
		t.Errorf("deleted session ID = %q, want %q", deletedSessionID, "session-to-delete")
	}
}

func TestLogout_EmptySessionID_ReturnsError(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockSessionRepo{}, ServiceConfig{SessionMaxAge: 86400})

	if err := svc.Logout(context.Background(), ""); !model.HasCode(err, model.ErrCodeUnauthorized) {
		t.Fatalf("err = %v, want UNAUTHORIZED", err)
	}
}

func TestGetCurrentUser_ValidSession_ReturnsUser(t *testing.T) {
	userID := "user-id-123"
	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "user@example.com"}, nil
		},
	}
	svc := NewService(userRepo, sessionRepo, ServiceConfig{SessionMaxAge: 86400})

	user, err := svc.GetCurrentUser(context.Background(), "session-valid")
	if err != nil {
		t.Fatalf("GetCurrentUser() error = %v", err)
	}
	if user.ID != userID {
		t.Errorf("user ID = %q, want %q", user.ID, userID)
	}

	identity, err := svc.CurrentUserIdentity(context.Background(), "session-valid")
	if err != nil {
		t.Fatalf("CurrentUserIdentity() error = %v", err)
	}
	if identity != "user@example.com" {
		t.Errorf("identity = %q, want %q", identity, "user@example.com")
	}

	loggedIn, err := svc.IsLoggedIn(context.Background(), "session-valid")
	if err != nil || !loggedIn {
		t.Errorf("IsLoggedIn = %v, %v; want true, nil", loggedIn, err)
	}
}

func TestGetCurrentUser_ExpiredSession_ReturnsUnauthorized(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockSessionRepo{}, ServiceConfig{SessionMaxAge: 86400})

	_, err := svc.GetCurrentUser(context.Background(), "session-expired")
	if !model.HasCode(err, model.ErrCodeUnauthorized) {
		t.Fatalf("err = %v, want UNAUTHORIZED", err)
	}

	identity, err := svc.CurrentUserIdentity(context.Background(), "session-expired")
	if err != nil || identity != "" {
		t.Errorf("CurrentUserIdentity = %q, %v; want empty, nil", identity, err)
	}

	loggedIn, err := svc.IsLoggedIn(context.Background(), "session-expired")
	if err != nil || loggedIn {
		t.Errorf("IsLoggedIn = %v, %v; want false, nil", loggedIn, err)
	}
}

func TestGetCurrentUser_DeletedUser_ReturnsUserNotFound(t *testing.T) {
	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: "gone"}, nil
		},
	}
	svc := NewService(&mockUserRepo{}, sessionRepo, ServiceConfig{SessionMaxAge: 86400})

	_, err := svc.GetCurrentUser(context.Background(), "session-orphan")
	if !model.HasCode(err, model.ErrCodeUserNotFound) {
		t.Fatalf("err = %v, want USER_NOT_FOUND", err)
	}
}

func TestIsLoggedIn_EmptySessionID(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockSessionRepo{}, ServiceConfig{SessionMaxAge: 86400})

	loggedIn, err := svc.IsLoggedIn(context.Background(), "")
	if err != nil || loggedIn {
		t.Errorf("IsLoggedIn = %v, %v; want false, nil", loggedIn, err)
	}
}
