// Package auth authenticates daemon requests with bearer tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// DefaultPublicPaths are reachable without credentials.
var DefaultPublicPaths = []string{"/health", "/.well-known/agent.json"}

// Config configures authentication.
type Config struct {
	// Token is a static shared secret accepted as a bearer token.
	Token string `yaml:"token" json:"token,omitempty"`
	// JWTSecret enables HS256 tokens minted by `agentd token`.
	JWTSecret   string        `yaml:"jwt_secret" json:"jwt_secret,omitempty"`
	TokenExpiry time.Duration `yaml:"token_expiry" json:"token_expiry,omitempty"`
	PublicPaths []string      `yaml:"public_paths" json:"public_paths,omitempty"`
}

// Principal identifies an authenticated caller.
type Principal struct {
	Subject string `json:"subject"`
	Method  string `json:"method"`
}

// Service validates static tokens and JWTs.
type Service struct {
	token  []byte
	jwt    *JWTService
	public map[string]struct{}
}

// NewService constructs an auth service from configuration.
func NewService(cfg Config) *Service {
	s := &Service{public: map[string]struct{}{}}
	if tok := strings.TrimSpace(cfg.Token); tok != "" {
		s.token = []byte(tok)
	}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		s.jwt = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	paths := cfg.PublicPaths
	if len(paths) == 0 {
		paths = DefaultPublicPaths
	}
	for _, p := range paths {
		s.public[strings.TrimSpace(p)] = struct{}{}
	}
	return s
}

// Enabled reports whether auth checks should run.
func (s *Service) Enabled() bool {
	return s != nil && (len(s.token) > 0 || s.jwt != nil)
}

// IsPublic reports whether path is exempt from auth.
func (s *Service) IsPublic(path string) bool {
	if s == nil {
		return true
	}
	_, ok := s.public[path]
	return ok
}

// Authenticate validates an Authorization header value.
func (s *Service) Authenticate(header string) (*Principal, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}
	token := BearerToken(header)
	if token == "" {
		return nil, ErrMissingToken
	}
	if len(s.token) > 0 && subtle.ConstantTimeCompare([]byte(token), s.token) == 1 {
		return &Principal{Subject: "static", Method: "token"}, nil
	}
	if s.jwt != nil && strings.Count(token, ".") == 2 {
		subject, err := s.jwt.Validate(token)
		if err != nil {
			return nil, err
		}
		return &Principal{Subject: subject, Method: "jwt"}, nil
	}
	return nil, ErrInvalidToken
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
