package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const SessionIDKey contextKey = "session_id"

var ErrInvalidSessionToken = errors.New("invalid session token")

// SessionTokens issues and verifies the tokens a client presents to resume a
// session after reconnecting. They identify a conversation, not a user.
type SessionTokens struct {
	Secret []byte
	TTL    time.Duration
}

// NewSessionTokens uses secret, or a random per-process key when it is empty.
func NewSessionTokens(secret string, ttl time.Duration) (*SessionTokens, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		key = []byte(hex.EncodeToString(key))
	}
	return &SessionTokens{Secret: key, TTL: ttl}, nil
}

// Issue creates a token naming sessionID.
func (s *SessionTokens) Issue(sessionID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"session_id": sessionID.String(),
		"iat":        now.Unix(),
		"exp":        now.Add(s.TTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.Secret)
}

// Parse verifies tokenStr and returns the session it names.
func (s *SessionTokens) Parse(tokenStr string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.Secret, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return uuid.Nil, ErrInvalidSessionToken
	}

	idStr, ok := claims["session_id"].(string)
	if !ok {
		return uuid.Nil, ErrInvalidSessionToken
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	return id, nil
}

// Middleware requires a bearer session token and attaches the session id to
// the request context.
func (s *SessionTokens) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing session token", r)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization format", r)
			return
		}

		sessionID, err := s.Parse(parts[1])
		if err != nil {
			if strings.Contains(err.Error(), "expired") {
				writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Session token has expired", r)
			} else {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid session token", r)
			}
			return
		}

		ctx := context.WithValue(r.Context(), SessionIDKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSessionID extracts the session id set by Middleware.
func GetSessionID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(SessionIDKey).(uuid.UUID)
	return id
}
