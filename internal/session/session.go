// Package session defines the caller identity every component branches on.
//
// A request is either anonymous (single-user device mode, credentials live in
// a local key-value file) or authenticated (credentials and resources are
// scoped to a user row). Collaborators take a Session once instead of
// re-checking auth state at each call site.
package session

// Kind distinguishes the two session variants.
type Kind int

const (
	Anonymous Kind = iota
	Authenticated
)

// Session identifies the caller for credential resolution and resource
// ownership. UserID is set only for authenticated sessions.
type Session struct {
	Kind   Kind
	UserID string
	Email  string
}

// NewAnonymous returns the device-scoped session.
func NewAnonymous() Session {
	return Session{Kind: Anonymous}
}

// NewAuthenticated returns a session bound to a user.
func NewAuthenticated(userID, email string) Session {
	return Session{Kind: Authenticated, UserID: userID, Email: email}
}

// IsAuthenticated reports whether the session carries a user identity.
func (s Session) IsAuthenticated() bool {
	return s.Kind == Authenticated && s.UserID != ""
}
