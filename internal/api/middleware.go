/**
 * @description
 * Authentication middleware for the settlement API. Consumers present an HS256 bearer
 * token; internal services sign requests with the shared API signing secret.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: Bearer token validation.
 * - internal/webhook: HMAC request verification shared with webhook ingestion.
 */

package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/settlement-service/internal/webhook"
	"go.uber.org/zap"
)

type contextKey string

const (
	consumerIDKey contextKey = "consumerID"
	internalKey   contextKey = "internalCaller"
)

const maxSignedBodyBytes = 1 << 20

// InternalScheme is the header layout internal callers sign requests with.
var InternalScheme = webhook.Scheme{
	Recipe:          webhook.RecipeTimestampKeyMethodPathBody,
	SignatureHeader: "X-Signature",
	TimestampHeader: "X-Timestamp",
	APIKeyHeader:    "X-Api-Key",
}

type staticSecret []byte

func (s staticSecret) Secret(ctx context.Context, vendor string) ([]byte, error) {
	return s, nil
}

// Auth holds the credentials the API middleware validates against.
type Auth struct {
	JWTSecret     []byte
	APIKey        string
	SigningSecret []byte
	Window        time.Duration
	Log           *zap.Logger
}

func (a Auth) logger() *zap.Logger {
	if a.Log == nil {
		return zap.NewNop()
	}
	return a.Log
}

// consumerID validates the bearer token and returns its subject.
func (a Auth) consumerID(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if authHeader == "" || tokenString == authHeader {
		return "", errors.New("bearer token required")
	}
	if len(a.JWTSecret) == 0 {
		return "", errors.New("consumer authentication is not configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return "", errors.New("token has no subject")
	}
	return subject, nil
}

// verifySigned checks an internal request signature and restores the body for the handler.
func (a Auth) verifySigned(r *http.Request) error {
	if len(a.SigningSecret) == 0 || a.APIKey == "" {
		return errors.New("internal authentication is not configured")
	}
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(InternalScheme.APIKeyHeader)), []byte(a.APIKey)) != 1 {
		return errors.New("invalid api key")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes))
	if err != nil {
		return err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	verifier := webhook.NewVerifier("internal", InternalScheme, staticSecret(a.SigningSecret), a.Window)
	return verifier.Verify(r.Context(), r, body)
}

// ConsumerAuthMiddleware admits requests carrying a valid consumer bearer token.
func (a Auth) ConsumerAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		consumerID, err := a.consumerID(r)
		if err != nil {
			a.logger().Warn("consumer authentication failed", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), consumerIDKey, consumerID)))
	})
}

// SignedRequestMiddleware admits internal requests signed with the API signing secret.
func (a Auth) SignedRequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.verifySigned(r); err != nil {
			a.logger().Warn("internal request rejected", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Invalid request signature")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), internalKey, true)))
	})
}

// ConsumerOrSignedMiddleware accepts either form: a bearer token when an Authorization
// header is present, otherwise an internal signature.
func (a Auth) ConsumerOrSignedMiddleware(next http.Handler) http.Handler {
	consumer := a.ConsumerAuthMiddleware(next)
	signed := a.SignedRequestMiddleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			consumer.ServeHTTP(w, r)
			return
		}
		signed.ServeHTTP(w, r)
	})
}

// ConsumerID returns the authenticated consumer, if the request carried a bearer token.
func ConsumerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(consumerIDKey).(string)
	return id, ok
}

// IsInternal reports whether the request was signed by an internal service.
func IsInternal(ctx context.Context) bool {
	internal, _ := ctx.Value(internalKey).(bool)
	return internal
}
