package client

import "sync"

type sessionState int

const (
	sessionAnonymous sessionState = iota
	sessionActive
	sessionLoggedOut
)

// Session holds the token state for one authenticated principal. It is an
// explicit object rather than package state so multiple sessions can coexist
// in one process without cross-contamination.
//
// The generation counter increments every time the access token is replaced.
// Refresh attempts are keyed by the generation they are replacing, which is
// what lets concurrent failures coalesce onto a single exchange.
type Session struct {
	mu           sync.Mutex
	userID       string
	accessToken  string
	refreshToken string
	generation   uint64
	state        sessionState
}

// NewSession returns an empty, anonymous session.
func NewSession() *Session {
	return &Session{}
}

// Resume seeds tokens persisted from a previous run.
func (s *Session) Resume(accessToken, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = accessToken
	s.refreshToken = refreshToken
	s.generation++
	s.state = sessionActive
}

// begin installs a freshly issued pair after login or registration.
func (s *Session) begin(userID, accessToken, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.accessToken = accessToken
	s.refreshToken = refreshToken
	s.generation++
	s.state = sessionActive
}

// accessSnapshot returns the current access token and its generation.
func (s *Session) accessSnapshot() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken, s.generation
}

// refreshCredential returns the stored refresh token, if any.
func (s *Session) refreshCredential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

// installAccess replaces the access token after a successful refresh. It
// reports false when the session ended while the exchange was in flight, in
// which case the new token must not be used.
func (s *Session) installAccess(accessToken string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != sessionActive {
		return false
	}
	s.accessToken = accessToken
	s.generation++
	return true
}

// terminate clears all credentials. It reports true only on the first call
// so terminal-failure side effects run exactly once.
func (s *Session) terminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == sessionLoggedOut {
		return false
	}
	s.userID = ""
	s.accessToken = ""
	s.refreshToken = ""
	s.generation++
	s.state = sessionLoggedOut
	return true
}

// LoggedOut reports whether the session has been terminated.
func (s *Session) LoggedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == sessionLoggedOut
}

// UserID returns the authenticated user id, empty when anonymous.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// AccessToken returns the current access token.
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}
