package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"notes-server/internal/domain"
	"notes-server/internal/repository"
	"notes-server/pkg/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type mockUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		users: make(map[string]*domain.User),
	}
}

func (m *mockUserRepo) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return repository.ErrUserExists
		}
	}
	c := *user
	m.users[user.ID] = &c
	return nil
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, exists := m.users[id]; exists {
		c := *u
		return &c, nil
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepo) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := m.FindByUsername(ctx, username)
	return err == nil, nil
}

func newTestAuthService(repo repository.UserRepository) *AuthService {
	return NewAuthService(repo, testSecret, 15*time.Minute, 24*time.Hour)
}

func registerAndLogin(t *testing.T, auth *AuthService, username string) *domain.LoginResponse {
	t.Helper()
	ctx := context.Background()

	_, err := auth.Register(ctx, &domain.RegisterRequest{Username: username, Password: "password123"})
	require.NoError(t, err)

	login, err := auth.Login(ctx, &domain.LoginRequest{Username: username, Password: "password123"})
	require.NoError(t, err)
	return login
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()
	repo := newMockUserRepo()
	auth := newTestAuthService(repo)

	user, err := auth.Register(ctx, &domain.RegisterRequest{Username: "alice", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Empty(t, user.Password)

	stored, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "password123", stored.Password)

	_, err = auth.Register(ctx, &domain.RegisterRequest{Username: "alice", Password: "different123"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()
	auth := newTestAuthService(newMockUserRepo())

	login := registerAndLogin(t, auth, "alice")
	assert.NotEmpty(t, login.AccessToken)
	assert.NotEmpty(t, login.RefreshToken)
	assert.Equal(t, int64(900), login.ExpiresIn)
	assert.Empty(t, login.User.Password)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "wrong password", username: "alice", password: "wrongpass1"},
		{name: "unknown user", username: "bob", password: "password123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Login(ctx, &domain.LoginRequest{Username: tt.username, Password: tt.password})
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestAuthService_ResolveUserID(t *testing.T) {
	auth := newTestAuthService(newMockUserRepo())
	login := registerAndLogin(t, auth, "alice")

	userID, err := auth.ResolveUserID(login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, login.User.ID, userID)

	_, err = auth.ResolveUserID(login.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.ResolveUserID("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewAuthService(newMockUserRepo(), "other-secret", time.Minute, time.Hour)
	_, err = other.ResolveUserID(login.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_RefreshToken(t *testing.T) {
	ctx := context.Background()
	repo := newMockUserRepo()
	auth := newTestAuthService(repo)
	login := registerAndLogin(t, auth, "alice")

	refreshed, err := auth.RefreshToken(ctx, &domain.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)

	userID, err := auth.ResolveUserID(refreshed.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, login.User.ID, userID)

	_, err = auth.RefreshToken(ctx, &domain.RefreshTokenRequest{RefreshToken: login.AccessToken})
	assert.ErrorIs(t, err, ErrInvalidToken)

	orphan, err := jwt.GenerateRefreshToken("deleted-user", time.Hour, testSecret)
	require.NoError(t, err)
	_, err = auth.RefreshToken(ctx, &domain.RefreshTokenRequest{RefreshToken: orphan})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUserService_GetByID(t *testing.T) {
	ctx := context.Background()
	repo := newMockUserRepo()
	auth := newTestAuthService(repo)
	users := NewUserService(repo)

	login := registerAndLogin(t, auth, "alice")

	user, err := users.GetByID(ctx, login.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Empty(t, user.Password)

	_, err = users.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = users.GetByID(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
