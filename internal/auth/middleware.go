package auth

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

var (
	errNoAuthHeader  = errors.New("authorization header required")
	errInvalidFormat = errors.New("invalid authorization format")
	errInvalidToken  = errors.New("invalid token")
)

// Config holds authentication configuration for the submission endpoint.
type Config struct {
	// Enabled determines if authentication is required
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Token is the expected bearer token
	Token string `mapstructure:"token" yaml:"token"`

	// SkipPaths lists request paths that skip authentication (e.g. health checks)
	SkipPaths []string `mapstructure:"skip_paths" yaml:"skip_paths"`
}

// DefaultConfig returns default auth configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   false,
		SkipPaths: []string{"/healthz"},
	}
}

// Middleware enforces bearer-token authentication on the submission endpoint.
type Middleware struct {
	enabled   bool
	token     string
	skipPaths map[string]bool
}

// NewMiddleware builds a Middleware from cfg.
func NewMiddleware(cfg Config) *Middleware {
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}

	return &Middleware{
		enabled:   cfg.Enabled,
		token:     cfg.Token,
		skipPaths: skip,
	}
}

// Wrap returns next guarded by bearer-token authentication. If auth is
// disabled, next is returned unmodified.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if err := m.validate(r); err != nil {
			log.Warn().Str("path", r.URL.Path).Err(err).Msg("auth failed")
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) validate(r *http.Request) error {
	header := r.Header.Get("Authorization")
	if header == "" {
		return errNoAuthHeader
	}

	token, ok := ParseBearerToken(header)
	if !ok {
		return errInvalidFormat
	}

	if !ValidateToken(token, m.token) {
		return errInvalidToken
	}

	return nil
}
