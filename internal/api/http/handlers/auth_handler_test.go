package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/session-auth/internal/api/http"
	"github.com/spec-kit/session-auth/internal/api/http/handlers"
	"github.com/spec-kit/session-auth/internal/auth"
	"github.com/spec-kit/session-auth/internal/config"
	"github.com/spec-kit/session-auth/internal/domain"
	"github.com/spec-kit/session-auth/internal/observability"
	"github.com/spec-kit/session-auth/internal/service"
)

const (
	testAccessSecret  = "access-secret"
	testRefreshSecret = "refresh-secret"
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

func newTestApp(t *testing.T) (*fiber.App, *memoryUserRepo) {
	t.Helper()

	repo := newMemoryUserRepo()
	tokens := auth.NewServiceWithCodecs(
		auth.NewCodec(testAccessSecret, time.Minute),
		auth.NewCodec(testRefreshSecret, time.Hour),
		repo,
	)
	authService := service.NewAuthService(config.Config{}, service.AuthDependencies{
		UserRepo: repo,
		Hasher:   auth.NewBcryptHasher(4),
		Tokens:   tokens,
	})

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, zap.NewNop(), observability.NewMetrics(), 0)
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler("test", "dev", nil, nil),
		Auth:   handlers.NewAuthHandler(authService),
		Guard:  auth.NewGuard(tokens.AccessCodec()),
	})
	return app, repo
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, token string) *http.Response {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func respErrorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := decodeBody(t, resp)
	envelope, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	code, _ := envelope["code"].(string)
	return code
}

func register(t *testing.T, app *fiber.App, email, password string) map[string]any {
	t.Helper()
	resp := doJSON(t, app, http.MethodPost, "/auth/registration", map[string]string{
		"email":     email,
		"password":  password,
		"name":      "Alice",
		"telephone": "555-0100",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody(t, resp)
}

func TestRegistration(t *testing.T) {
	app, _ := newTestApp(t)

	body := register(t, app, "a@b.com", "secret1")
	require.NotEmpty(t, body["accessToken"])
	require.NotEmpty(t, body["refreshToken"])

	newUser, ok := body["newUser"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "a@b.com", newUser["email"])
	require.Equal(t, "555-0100", newUser["telephone"])
	require.NotContains(t, newUser, "password")
	require.NotContains(t, newUser, "passwordHash")
}

func TestRegistrationDuplicateEmail(t *testing.T) {
	app, _ := newTestApp(t)
	register(t, app, "a@b.com", "secret1")

	resp := doJSON(t, app, http.MethodPost, "/auth/registration", map[string]string{
		"email":    "a@b.com",
		"password": "secret2",
		"name":     "Alice Again",
	}, "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "USER_EXISTS", respErrorCode(t, resp))
}

func TestRegistrationValidation(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/auth/registration", map[string]string{
		"email":    "not-an-email",
		"password": "secret1",
		"name":     "Alice",
	}, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "VALIDATION_FAILED", respErrorCode(t, resp))
}

func TestLogin(t *testing.T) {
	app, _ := newTestApp(t)
	register(t, app, "a@b.com", "secret1")

	resp := doJSON(t, app, http.MethodPost, "/auth/login", map[string]string{
		"email":    "a@b.com",
		"password": "secret1",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	require.NotEmpty(t, body["accessToken"])
	require.NotEmpty(t, body["refreshToken"])

	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "a@b.com", user["email"])
}

func TestLoginBadCredentials(t *testing.T) {
	app, _ := newTestApp(t)
	register(t, app, "a@b.com", "secret1")

	resp := doJSON(t, app, http.MethodPost, "/auth/login", map[string]string{
		"email":    "a@b.com",
		"password": "wrong",
	}, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "CREDENTIAL_INVALID", respErrorCode(t, resp))
}

func TestProfile(t *testing.T) {
	app, _ := newTestApp(t)
	body := register(t, app, "a@b.com", "secret1")

	resp := doJSON(t, app, http.MethodGet, "/auth/profile", nil, body["accessToken"].(string))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	profile := decodeBody(t, resp)
	require.Equal(t, "a@b.com", profile["email"])
	require.NotContains(t, profile, "password")
}

func TestProfileMissingToken(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/auth/profile", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "TOKEN_MISSING", respErrorCode(t, resp))
}

func TestProfileUserDeleted(t *testing.T) {
	app, repo := newTestApp(t)
	body := register(t, app, "a@b.com", "secret1")

	newUser := body["newUser"].(map[string]any)
	require.NoError(t, repo.Delete(context.Background(), newUser["id"].(string)))

	resp := doJSON(t, app, http.MethodGet, "/auth/profile", nil, body["accessToken"].(string))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestExpiredAccessRefreshRetry exercises the full recovery path: an expired
// access token is rejected with the expired subtype, the refresh token buys a
// new access token, and the original request succeeds on retry.
func TestExpiredAccessRefreshRetry(t *testing.T) {
	app, _ := newTestApp(t)
	body := register(t, app, "a@b.com", "secret1")

	newUser := body["newUser"].(map[string]any)
	expiredCodec := auth.NewCodec(testAccessSecret, -time.Minute)
	expired, _, err := expiredCodec.Issue(newUser["id"].(string))
	require.NoError(t, err)

	resp := doJSON(t, app, http.MethodGet, "/auth/profile", nil, expired)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "TOKEN_EXPIRED", respErrorCode(t, resp))

	resp = doJSON(t, app, http.MethodPost, "/auth/refresh-token", map[string]string{
		"refreshToken": body["refreshToken"].(string),
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	refreshed := decodeBody(t, resp)
	access, _ := refreshed["accessToken"].(string)
	require.NotEmpty(t, access)

	resp = doJSON(t, app, http.MethodGet, "/auth/profile", nil, access)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRefreshTokenWrongSecret(t *testing.T) {
	app, _ := newTestApp(t)
	body := register(t, app, "a@b.com", "secret1")

	newUser := body["newUser"].(map[string]any)
	forged := auth.NewCodec("wrong-secret", time.Hour)
	token, _, err := forged.Issue(newUser["id"].(string))
	require.NoError(t, err)

	resp := doJSON(t, app, http.MethodPost, "/auth/refresh-token", map[string]string{
		"refreshToken": token,
	}, "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "TOKEN_INVALID", respErrorCode(t, resp))
}

func TestRefreshTokenMissing(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/auth/refresh-token", map[string]string{}, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "TOKEN_MISSING", respErrorCode(t, resp))
}

func TestHealthLive(t *testing.T) {
	app, _ := newTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/health/live", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
