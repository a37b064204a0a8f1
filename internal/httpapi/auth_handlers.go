package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/minhph/voicestudio/internal/session"
	"github.com/minhph/voicestudio/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// Context key for session data
type contextKey string

const sessionContextKey contextKey = "session"

// JWTClaims represents the claims in the JWT token
type JWTClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Basic email shape check; providers do stricter validation downstream.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func isValidEmail(email string) bool {
	return len(email) <= 254 && emailRegex.MatchString(email)
}

// hashToken creates a SHA256 hash of the token for storage
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(req *http.Request) (string, bool) {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	return parts[1], true
}

// authenticate validates a bearer token and returns the session it carries.
func (r *Router) authenticate(req *http.Request, tokenString string) (session.Session, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(r.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return session.Session{}, errors.New("invalid token")
	}
	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return session.Session{}, errors.New("invalid token claims")
	}

	// Check if session is valid (not revoked)
	valid, err := r.store.IsSessionValid(req.Context(), hashToken(tokenString))
	if err != nil || !valid {
		return session.Session{}, errors.New("session expired or revoked")
	}

	return session.NewAuthenticated(claims.UserID, claims.Email), nil
}

// withAuth is middleware that requires valid JWT authentication
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tokenString, ok := bearerToken(req)
		if !ok {
			http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
			return
		}

		sess, err := r.authenticate(req, tokenString)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error": %q}`, err.Error()), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(req.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// withSession resolves the caller identity once: a valid bearer token yields
// an authenticated session; no token yields the anonymous device session when
// device mode is enabled, and 401 otherwise.
func (r *Router) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tokenString, ok := bearerToken(req)
		if !ok {
			if !r.cfg.DeviceMode {
				http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(req.Context(), sessionContextKey, session.NewAnonymous())
			next.ServeHTTP(w, req.WithContext(ctx))
			return
		}

		sess, err := r.authenticate(req, tokenString)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error": %q}`, err.Error()), http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(req.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// getSession extracts the caller session from context
func getSession(ctx context.Context) session.Session {
	sess, _ := ctx.Value(sessionContextKey).(session.Session)
	return sess
}

// generateJWT creates a new JWT token for a user
func (r *Router) generateJWT(user *store.User) (string, time.Time, error) {
	expiresAt := time.Now().Add(r.cfg.JWTExpiry)

	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: user.ID,
		Email:  user.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// issueSession signs a JWT and records its hash for revocation.
func (r *Router) issueSession(req *http.Request, user *store.User) (map[string]any, error) {
	tokenString, expiresAt, err := r.generateJWT(user)
	if err != nil {
		return nil, err
	}
	if err := r.store.CreateSession(req.Context(), user.ID, hashToken(tokenString), expiresAt); err != nil {
		return nil, err
	}
	return map[string]any{
		"token":      tokenString,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"user":       user,
	}, nil
}

// handleSignup registers a new account and issues a JWT.
func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	body.Email = strings.ToLower(strings.TrimSpace(body.Email))
	if !isValidEmail(body.Email) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid email address"})
		return
	}
	if len(body.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password must be at least 8 characters"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		captureError(req, err, "signup: hash password")
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	user, err := r.store.CreateUser(req.Context(), body.Email, string(hash))
	if err == store.ErrConflict {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
		return
	}
	if err != nil {
		captureError(req, err, "signup: create user")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	r.discord.NotifyNewUser(req.Context(), user.Email)

	resp, err := r.issueSession(req, user)
	if err != nil {
		captureError(req, err, "signup: issue session")
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleLogin verifies credentials and issues a JWT.
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	body.Email = strings.ToLower(strings.TrimSpace(body.Email))
	user, err := r.store.GetUserByEmail(req.Context(), body.Email)
	if err == store.ErrNotFound {
		// Same response as a wrong password; don't leak which emails exist.
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid email or password"})
		return
	}
	if err != nil {
		captureError(req, err, "login: get user")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(body.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid email or password"})
		return
	}

	resp, err := r.issueSession(req, user)
	if err != nil {
		captureError(req, err, "login: issue session")
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefreshToken exchanges a valid token for a fresh one. The old session
// is revoked so a single token never outlives its rotation.
func (r *Router) handleRefreshToken(w http.ResponseWriter, req *http.Request) {
	tokenString, ok := bearerToken(req)
	if !ok {
		http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
		return
	}

	sess, err := r.authenticate(req, tokenString)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error": %q}`, err.Error()), http.StatusUnauthorized)
		return
	}

	user, err := r.store.GetUserByID(req.Context(), sess.UserID)
	if err != nil {
		http.Error(w, `{"error": "user not found"}`, http.StatusUnauthorized)
		return
	}

	if err := r.store.RevokeSession(req.Context(), hashToken(tokenString)); err != nil {
		captureError(req, err, "refresh: revoke old session")
	}

	resp, err := r.issueSession(req, user)
	if err != nil {
		captureError(req, err, "refresh: issue session")
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout revokes the current session.
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	tokenString, _ := bearerToken(req)
	if err := r.store.RevokeSession(req.Context(), hashToken(tokenString)); err != nil {
		captureError(req, err, "logout: revoke session")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleGetMe returns the caller's profile with plan and usage counters.
func (r *Router) handleGetMe(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())
	user, err := r.store.GetUserByID(req.Context(), sess.UserID)
	if err != nil {
		http.Error(w, `{"error": "user not found"}`, http.StatusNotFound)
		return
	}

	cloneCount, err := r.store.CountClones(req.Context(), sess.UserID)
	if err != nil {
		captureError(req, err, "me: count clones")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":              user,
		"voice_clone_count": cloneCount,
	})
}

// handleUpdateMe updates the caller's display name.
func (r *Router) handleUpdateMe(w http.ResponseWriter, req *http.Request) {
	sess := getSession(req.Context())

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" || len(body.Name) > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name must be 1-100 characters"})
		return
	}

	if err := r.store.UpdateUserName(req.Context(), sess.UserID, body.Name); err != nil {
		captureError(req, err, "update me: set name")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	user, err := r.store.GetUserByID(req.Context(), sess.UserID)
	if err != nil {
		http.Error(w, `{"error": "user not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}
