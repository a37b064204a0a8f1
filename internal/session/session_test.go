package session

import "testing"

func TestAnonymousSession(t *testing.T) {
	s := NewAnonymous()
	if s.IsAuthenticated() {
		t.Error("anonymous session reports authenticated")
	}
	if s.UserID != "" {
		t.Errorf("anonymous UserID = %q", s.UserID)
	}
}

func TestAuthenticatedSession(t *testing.T) {
	s := NewAuthenticated("user-1", "a@example.com")
	if !s.IsAuthenticated() {
		t.Error("authenticated session reports anonymous")
	}
	if s.UserID != "user-1" || s.Email != "a@example.com" {
		t.Errorf("session = %+v", s)
	}
}

func TestAuthenticatedWithoutUserID(t *testing.T) {
	s := Session{Kind: Authenticated}
	if s.IsAuthenticated() {
		t.Error("session with empty UserID reports authenticated")
	}
}
