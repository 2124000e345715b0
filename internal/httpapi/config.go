package httpapi

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	defaultListenAddr     = ":8080"
	defaultAllowedOrigin  = "http://localhost:8000"
	defaultSessionIssuer  = "tauth"
	defaultSessionCookie  = "app_session"
	defaultAdminRole      = "admin"
	defaultRequestTimeout = 5 * time.Second
	defaultShutdownWait   = 5 * time.Second
)

// Config aggregates runtime settings for the HTTP facade.
type Config struct {
	ListenAddr        string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	AdminRole         string
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
}

// Validate fills defaults and ensures the configuration contains sane values.
// Allowed origins are normalized to lower-case scheme://host[:port] form.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = orDefault(cfg.ListenAddr, defaultListenAddr)
	cfg.SessionIssuer = orDefault(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = orDefault(cfg.SessionCookieName, defaultSessionCookie)
	cfg.AdminRole = orDefault(cfg.AdminRole, defaultAdminRole)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownWait
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	origins, err := normalizeOrigins(cfg.AllowedOrigins)
	if err != nil {
		return err
	}
	if len(origins) == 0 {
		origins = []string{defaultAllowedOrigin}
	}
	cfg.AllowedOrigins = origins
	return nil
}

// orDefault returns value without surrounding blanks, or fallback when nothing remains.
func orDefault(value string, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

// ParseAllowedOrigins splits a comma-delimited origin list. Blank entries are
// dropped; Validate checks the remaining ones.
func ParseAllowedOrigins(raw string) []string {
	origins := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func normalizeOrigins(origins []string) ([]string, error) {
	normalized := make([]string, 0, len(origins))
	seen := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		canonical, err := normalizeOrigin(origin)
		if err != nil {
			return nil, err
		}
		if _, duplicate := seen[canonical]; duplicate {
			continue
		}
		seen[canonical] = struct{}{}
		normalized = append(normalized, canonical)
	}
	return normalized, nil
}

func normalizeOrigin(origin string) (string, error) {
	parsed, err := url.Parse(strings.TrimSuffix(origin, "/"))
	if err != nil {
		return "", fmt.Errorf("allowed origin %q: %w", origin, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("allowed origin %q: scheme must be http or https", origin)
	}
	if parsed.Host == "" || parsed.Path != "" || parsed.RawQuery != "" || parsed.Fragment != "" || parsed.User != nil {
		return "", fmt.Errorf("allowed origin %q: expected scheme://host[:port]", origin)
	}
	return scheme + "://" + strings.ToLower(parsed.Host), nil
}
