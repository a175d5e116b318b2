package session

import (
	"maps"
	"sync"
	"time"
)

// User info keys written by the session layer
const (
	KeyPassword            = "password"
	KeyExpirationTimestamp = "expiration_timestamp"
	KeyLoginTime           = "login_time"
	KeyLastVerified        = "last_verified"
)

// State is a point-in-time copy of the session
type State struct {
	IsLoggedIn bool           `json:"is_logged_in"`
	UserInfo   map[string]any `json:"user_info"`
	// MonitorID identifies the attached monitor, empty when none is attached.
	MonitorID string `json:"-"`
}

// Store holds the process session. Every method is a single critical
// section. Nothing blocks while the lock is held.
type Store struct {
	mu       sync.Mutex
	loggedIn bool
	userInfo map[string]any
	handle   *Handle
}

// NewStore creates an empty, logged-out Store
func NewStore() *Store {
	return &Store{}
}

// AuthenticatedUserInfo builds the user info recorded after a successful login
func AuthenticatedUserInfo(key string, expiresAt int64, loginTime time.Time) map[string]any {
	return map[string]any{
		KeyPassword:            key,
		KeyExpirationTimestamp: expiresAt,
		KeyLoginTime:           loginTime.Unix(),
	}
}

// SetAuthenticated marks the session logged in. It does not start a monitor.
func (s *Store) SetAuthenticated(userInfo map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = true
	s.userInfo = maps.Clone(userInfo)
}

// SetStatus overwrites the logged-in flag and user info. An attached monitor
// is left alone; it stops on its next tick once the flag is false.
func (s *Store) SetStatus(loggedIn bool, userInfo map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = loggedIn
	s.userInfo = maps.Clone(userInfo)
}

// AttachMonitor stores h unless a monitor is already attached. It reports
// whether h was attached.
func (s *Store) AttachMonitor(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		return false
	}
	s.handle = h
	return true
}

// ReplaceMonitor attaches h and returns the handle it displaced, if any.
// The caller cancels the displaced handle.
func (s *Store) ReplaceMonitor(h *Handle) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.handle
	s.handle = h
	return old
}

// Detach clears the attached handle if it is still h
func (s *Store) Detach(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == h {
		s.handle = nil
	}
}

// Monitor returns the attached handle or nil
func (s *Store) Monitor() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Logout signals the attached monitor and clears the session in one step.
// It reports whether the session was logged in.
func (s *Store) Logout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		s.handle.Cancel()
	}
	wasLoggedIn := s.loggedIn
	s.loggedIn = false
	s.userInfo = nil
	s.handle = nil
	return wasLoggedIn
}

// IsLoggedIn reports the logged-in flag
func (s *Store) IsLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// Snapshot returns a copy of the session
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := State{
		IsLoggedIn: s.loggedIn,
		UserInfo:   maps.Clone(s.userInfo),
	}
	if s.handle != nil {
		state.MonitorID = s.handle.ID()
	}
	return state
}

// RecordVerification refreshes the expiry after a successful re-verification
// by h. It reports false when h is no longer the attached monitor or the
// session has been logged out, in which case nothing changes.
func (s *Store) RecordVerification(h *Handle, expiresAt int64, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != h || !s.loggedIn {
		return false
	}
	if s.userInfo == nil {
		s.userInfo = make(map[string]any)
	}
	s.userInfo[KeyExpirationTimestamp] = expiresAt
	s.userInfo[KeyLastVerified] = at.Unix()
	return true
}
