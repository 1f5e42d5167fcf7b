// Package client is the Go API client for the session-auth service. Its
// transport survives mid-flight access-token expiry: authorization failures
// caused by expiry trigger a refresh-token exchange, concurrent failures
// coalesce onto a single in-flight exchange, and each original request is
// retried at most once with the new token.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/spec-kit/session-auth/pkg/util/errorutil"
)

// DefaultRefreshTimeout bounds the refresh-token exchange. A refresh that
// exceeds it counts as a failed refresh and terminates the session.
const DefaultRefreshTimeout = 10 * time.Second

var (
	// ErrLoggedOut is returned for any call on a terminated session.
	ErrLoggedOut = errors.New("session logged out")

	// ErrSessionExpired is returned when the refresh exchange itself fails;
	// the caller must re-authenticate.
	ErrSessionExpired = errors.New("session expired")
)

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// User is the public account view returned by the service.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Telephone string `json:"telephone"`
}

// RegisterParams carries the registration form fields.
type RegisterParams struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	Telephone string `json:"telephone"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type registerResponse struct {
	NewUser      User   `json:"newUser"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type loginResponse struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// Client talks to the session-auth service on behalf of one session.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	logger         *zap.Logger
	refreshTimeout time.Duration
	session        *Session

	// refreshGroup deduplicates concurrent refresh exchanges per token
	// generation.
	refreshGroup singleflight.Group
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRefreshTimeout bounds the refresh exchange.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.refreshTimeout = timeout
	}
}

// WithSession attaches an existing session, e.g. one resumed from storage.
func WithSession(session *Session) Option {
	return func(c *Client) {
		c.session = session
	}
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         zap.NewNop(),
		refreshTimeout: DefaultRefreshTimeout,
		session:        NewSession(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the session this client operates on.
func (c *Client) Session() *Session {
	return c.session
}

// Register creates an account and starts its session.
func (c *Client) Register(ctx context.Context, params RegisterParams) (*User, error) {
	var out registerResponse
	if err := c.send(ctx, http.MethodPost, "/auth/registration", params, "", &out); err != nil {
		return nil, err
	}
	c.session.begin(out.NewUser.ID, out.AccessToken, out.RefreshToken)
	return &out.NewUser, nil
}

// Login authenticates and starts a session.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var out loginResponse
	if err := c.send(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, "", &out); err != nil {
		return nil, err
	}
	c.session.begin(out.User.ID, out.AccessToken, out.RefreshToken)
	return &out.User, nil
}

// Profile fetches the authenticated account.
func (c *Client) Profile(ctx context.Context) (*User, error) {
	var user User
	if err := c.Do(ctx, http.MethodGet, "/auth/profile", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout terminates the session locally. Tokens are stateless server-side,
// so there is nothing to revoke; a refresh in flight finds the session gone
// and abandons its result.
func (c *Client) Logout() {
	c.terminate("logout")
}

// Do performs an authenticated request. When the server rejects the attached
// access token as expired, Do refreshes it and retries the request exactly
// once; a retried request that is rejected again fails without a second
// refresh. Requests that carried no token at all never trigger a refresh.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	if c.session.LoggedOut() {
		return ErrLoggedOut
	}

	token, generation := c.session.accessSnapshot()
	err := c.send(ctx, method, path, body, token, out)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || token == "" || apiErr.StatusCode != http.StatusForbidden {
		return err
	}
	if apiErr.Code != apperrors.CodeTokenExpired {
		return c.rejectOutright(apiErr)
	}

	fresh, err := c.refreshAccess(ctx, generation)
	if err != nil {
		return err
	}
	if c.session.LoggedOut() {
		return ErrLoggedOut
	}

	err = c.send(ctx, method, path, body, fresh, out)
	if err == nil {
		return nil
	}
	// The retry gets the same classification as the first attempt, minus the
	// refresh: a freshly minted token rejected outright ends the session.
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden && apiErr.Code != apperrors.CodeTokenExpired {
		return c.rejectOutright(apiErr)
	}
	return err
}

// rejectOutright handles a 403 whose subtype is anything but expiry. The
// token was present but cannot be trusted, so no refresh can help; the
// session is over.
func (c *Client) rejectOutright(apiErr *APIError) error {
	c.terminate("token rejected")
	return fmt.Errorf("%w: %v", ErrSessionExpired, apiErr)
}

// refreshAccess exchanges the refresh token for a new access token.
// Concurrent callers blocked on the same token generation share one
// exchange; late callers whose generation has already been replaced reuse
// the fresh token without another network call.
func (c *Client) refreshAccess(ctx context.Context, generation uint64) (string, error) {
	v, err, _ := c.refreshGroup.Do(strconv.FormatUint(generation, 10), func() (interface{}, error) {
		if token, current := c.session.accessSnapshot(); current > generation && token != "" {
			return token, nil
		}

		refresh := c.session.refreshCredential()
		if refresh == "" {
			c.terminate("no refresh token")
			return nil, fmt.Errorf("%w: no refresh token", ErrSessionExpired)
		}

		rctx := ctx
		if c.refreshTimeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(ctx, c.refreshTimeout)
			defer cancel()
		}

		var out refreshResponse
		if err := c.send(rctx, http.MethodPost, "/auth/refresh-token", refreshRequest{RefreshToken: refresh}, "", &out); err != nil {
			c.terminate("refresh failed")
			return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}

		if !c.session.installAccess(out.AccessToken) {
			return nil, ErrLoggedOut
		}
		return out.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) terminate(reason string) {
	if c.session.terminate() {
		c.logger.Info("session terminated", zap.String("reason", reason))
	}
}

// send performs one HTTP round trip. Non-2xx responses are decoded from the
// error envelope into *APIError.
func (c *Client) send(ctx context.Context, method, path string, body any, token string, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func decodeAPIError(status int, data []byte) *APIError {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(data, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
