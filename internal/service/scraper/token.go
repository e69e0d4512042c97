package scraper

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"scrapeflow/internal/pkg/config"
	"scrapeflow/internal/pkg/server"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const subjectContextKey = "subject"

// TokenService issues and validates API tokens
type TokenService struct {
	secret   []byte
	issuer   string
	tokenTTL time.Duration
}

// NewTokenService creates a token service from application configuration
func NewTokenService(cfg *config.Config) *TokenService {
	return &TokenService{
		secret:   []byte(cfg.Auth.JWTSecret),
		issuer:   cfg.Auth.Issuer,
		tokenTTL: cfg.Auth.TokenTTL,
	}
}

// Issue creates a signed token for a subject
func (s *TokenService) Issue(subject string) (string, time.Time, error) {
	expiresAt := time.Now().Add(s.tokenTTL)

	claims := jwt.MapClaims{
		"sub": subject,
		"iss": s.issuer,
		"exp": expiresAt.Unix(),
		"iat": time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses a token and returns its subject
func (s *TokenService) Validate(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}
	subject, _ := claims["sub"].(string)
	if subject == "" {
		return "", errors.New("token has no subject")
	}
	return subject, nil
}

// JWTMiddleware guards routes with bearer token authentication. When auth
// is disabled in configuration the middleware passes everything through.
func JWTMiddleware(tokens *TokenService, cfg *config.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Auth.DisableJWT {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return server.ErrorResponse(c, http.StatusUnauthorized, nil, "Missing authorization header")
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return server.ErrorResponse(c, http.StatusUnauthorized, nil, "Invalid authorization header format")
			}

			subject, err := tokens.Validate(parts[1])
			if err != nil {
				return server.ErrorResponse(c, http.StatusUnauthorized, err.Error(), "Invalid or expired token")
			}

			c.Set(subjectContextKey, subject)
			return next(c)
		}
	}
}
