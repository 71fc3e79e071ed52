// Package auth decides who may open a dashboard session. Requests carry
// either a bearer token (JWT signed with the server secret) or basic
// credentials checked against the static user table.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/starbridge/observatoryd/internal/errs"
)

// Provider authenticates an upgrade request before the WebSocket
// handshake completes.
type Provider interface {
	// Authenticate returns the authenticated subject, or an error that
	// maps to a 401/403 refusal.
	Authenticate(r *http.Request) (string, error)
}

// Open admits everyone. Used when the server runs without credentials
// configured.
type Open struct{}

// Authenticate always succeeds with an anonymous subject.
func (Open) Authenticate(r *http.Request) (string, error) {
	return "anonymous", nil
}

// User is one static account. Hash is a bcrypt hash of the password.
type User struct {
	Name string
	Hash string
}

// JWT validates bearer tokens and issues them against the static user
// table.
type JWT struct {
	secret []byte
	users  map[string]string
	ttl    time.Duration
	logger *zap.Logger
}

// NewJWT builds a token-based provider. users maps names to bcrypt
// hashes.
func NewJWT(secret string, users []User, ttl time.Duration, logger *zap.Logger) *JWT {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	table := make(map[string]string, len(users))
	for _, u := range users {
		table[u.Name] = u.Hash
	}
	return &JWT{
		secret: []byte(secret),
		users:  table,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "auth")),
	}
}

// Login checks credentials and mints a signed token.
func (j *JWT) Login(username, password string) (string, error) {
	hash, ok := j.users[username]
	if !ok {
		return "", errs.New(errs.InvalidArgument, "unknown user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", errs.New(errs.InvalidArgument, "bad credentials")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
	})
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", errs.Wrap(errs.BackendError, err, "signing token")
	}
	j.logger.Info("session token issued", zap.String("user", username))
	return signed, nil
}

// Authenticate validates the Authorization header or the session cookie.
func (j *JWT) Authenticate(r *http.Request) (string, error) {
	raw := bearerToken(r)
	if raw == "" {
		return "", errs.New(errs.InvalidArgument, "missing credentials")
	}
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errs.Wrap(errs.InvalidArgument, err, "invalid token")
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errs.New(errs.InvalidArgument, "token has no subject")
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := r.Cookie("session"); err == nil {
		return cookie.Value
	}
	return ""
}

// HashPassword renders a bcrypt hash for static user provisioning.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

var (
	_ Provider = (*JWT)(nil)
	_ Provider = Open{}
)
