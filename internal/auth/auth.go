// Package auth resolves bearer credentials to a tenant-scoped identity.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidKey   = errors.New("invalid api key")
)

// Identity is the authenticated caller. Every conversation and tool call is
// scoped by TenantID; UserID is the acting end user within that tenant.
type Identity struct {
	TenantID string
	UserID   string
}

// Config configures authentication helpers.
type Config struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig declares a static API key and the identity it maps to.
type APIKeyConfig struct {
	Key      string `yaml:"key"`
	TenantID string `yaml:"tenant_id"`
	UserID   string `yaml:"user_id"`
}

// Service validates JWTs and API keys.
type Service struct {
	jwt     *JWTService
	apiKeys map[string]Identity
}

// NewService constructs an auth service from static configuration.
func NewService(cfg Config) *Service {
	service := &Service{}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		service.jwt = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	service.apiKeys = buildAPIKeyMap(cfg.APIKeys)
	return service
}

// Enabled reports whether auth checks should run.
func (s *Service) Enabled() bool {
	return s != nil && (s.jwt != nil || len(s.apiKeys) > 0)
}

// Authenticate resolves a bearer credential, trying JWT first and falling
// back to API key lookup.
func (s *Service) Authenticate(credential string) (Identity, error) {
	if !s.Enabled() {
		return Identity{}, ErrAuthDisabled
	}
	if s.jwt != nil {
		if identity, err := s.jwt.Validate(credential); err == nil {
			return identity, nil
		}
	}
	if identity, err := s.validateAPIKey(credential); err == nil {
		return identity, nil
	}
	return Identity{}, ErrInvalidToken
}

// GenerateJWT issues a signed token for the given identity.
func (s *Service) GenerateJWT(identity Identity) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrAuthDisabled
	}
	return s.jwt.Generate(identity)
}

// validateAPIKey matches key against the static key set. Uses constant-time
// comparison to prevent timing attacks that could reveal valid keys.
func (s *Service) validateAPIKey(key string) (Identity, error) {
	if s == nil || len(s.apiKeys) == 0 {
		return Identity{}, ErrAuthDisabled
	}
	inputKey := strings.TrimSpace(key)
	var matched Identity
	found := false
	for storedKey, identity := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(inputKey), []byte(storedKey)) == 1 {
			matched = identity
			found = true
		}
	}
	if !found {
		return Identity{}, ErrInvalidKey
	}
	return matched, nil
}

func buildAPIKeyMap(keys []APIKeyConfig) map[string]Identity {
	out := map[string]Identity{}
	for _, entry := range keys {
		key := strings.TrimSpace(entry.Key)
		if key == "" || strings.TrimSpace(entry.TenantID) == "" {
			continue
		}
		userID := strings.TrimSpace(entry.UserID)
		if userID == "" {
			sum := sha256.Sum256([]byte(key))
			userID = "api_" + hex.EncodeToString(sum[:8])
		}
		out[key] = Identity{
			TenantID: strings.TrimSpace(entry.TenantID),
			UserID:   userID,
		}
	}
	return out
}
