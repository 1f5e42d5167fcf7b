package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/session-auth/internal/auth"
	"github.com/spec-kit/session-auth/internal/domain"
	"github.com/spec-kit/session-auth/internal/events"
	apperrors "github.com/spec-kit/session-auth/pkg/util/errorutil"
)

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]*domain.User)}
}

func (r *memoryUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.users[user.ID] = user
	return nil
}

func (r *memoryUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return user, nil
}

func (r *memoryUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memoryUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.users, id)
	return nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *recordingDispatcher) Publish(_ context.Context, event events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func (d *recordingDispatcher) types() []events.EventType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]events.EventType, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestAuthService(repo *memoryUserRepo, dispatcher events.Dispatcher) *AuthService {
	tokens := auth.NewServiceWithCodecs(
		auth.NewCodec("access-secret", time.Minute),
		auth.NewCodec("refresh-secret", time.Hour),
		repo,
	)
	return &AuthService{
		users:      repo,
		hasher:     auth.NewBcryptHasher(4),
		tokens:     tokens,
		dispatcher: dispatcher,
	}
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	de := apperrors.ToDomainError(err)
	require.NotNil(t, de)
	return de.Code
}

func TestRegister(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	svc := newTestAuthService(newMemoryUserRepo(), dispatcher)

	user, pair, err := svc.Register(context.Background(), "Alice", "a@b.com", "555-0100", "secret1")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	require.NotEqual(t, "secret1", user.PasswordHash)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, []events.EventType{events.EventUserRegistered}, dispatcher.types())
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestAuthService(newMemoryUserRepo(), nil)

	_, _, err := svc.Register(context.Background(), "Alice", "a@b.com", "", "secret1")
	require.NoError(t, err)

	_, _, err = svc.Register(context.Background(), "Alice Again", "a@b.com", "", "secret2")
	require.Error(t, err)
	require.Equal(t, apperrors.CodeUserExists, domainCode(t, err))
}

func TestLogin(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	svc := newTestAuthService(newMemoryUserRepo(), dispatcher)

	registered, _, err := svc.Register(context.Background(), "Alice", "a@b.com", "", "secret1")
	require.NoError(t, err)

	user, pair, err := svc.Login(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, registered.ID, user.ID)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
}

func TestLoginBadCredentials(t *testing.T) {
	svc := newTestAuthService(newMemoryUserRepo(), nil)

	_, _, err := svc.Register(context.Background(), "Alice", "a@b.com", "", "secret1")
	require.NoError(t, err)

	// Wrong password and unknown email produce the same code so the caller
	// cannot probe which addresses are registered.
	_, _, err = svc.Login(context.Background(), "a@b.com", "wrong")
	require.Equal(t, apperrors.CodeCredentialInvalid, domainCode(t, err))

	_, _, err = svc.Login(context.Background(), "nobody@b.com", "secret1")
	require.Equal(t, apperrors.CodeCredentialInvalid, domainCode(t, err))
}

func TestProfileUserDeleted(t *testing.T) {
	repo := newMemoryUserRepo()
	svc := newTestAuthService(repo, nil)

	user, _, err := svc.Register(context.Background(), "Alice", "a@b.com", "", "secret1")
	require.NoError(t, err)

	require.NoError(t, repo.Delete(context.Background(), user.ID))

	_, err = svc.Profile(context.Background(), user.ID)
	require.Equal(t, apperrors.CodeNotFound, domainCode(t, err))
}

func TestRefreshIssuesNewAccessToken(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	svc := newTestAuthService(newMemoryUserRepo(), dispatcher)

	user, pair, err := svc.Register(context.Background(), "Alice", "a@b.com", "", "secret1")
	require.NoError(t, err)

	access, expiresAt, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.False(t, expiresAt.IsZero())

	claims, err := svc.Tokens().AccessCodec().Verify(access)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
	require.Contains(t, dispatcher.types(), events.EventTokenRefreshed)
}
