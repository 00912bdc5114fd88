// Package hardening holds the production preflight checks the gateway runs
// before it starts serving. Outside production-like environments every check
// is a no-op so local development stays friction-free.
package hardening

import (
	"fmt"
	"strings"
)

type SecretRequirement struct {
	Name  string
	Value string
}

type Options struct {
	Service            string
	Environment        string
	StrictProdSecurity string
	DatabaseRequireTLS string
	RedisAddr          string
	RedisRequireTLS    string
	CORSAllowedOrigins string
	RateLimitEnabled   string
	RequiredSecrets    []SecretRequirement
}

// ValidateProduction rejects configurations that would weaken the identity
// boundary in production: missing signing or hashing secrets, wildcard CORS,
// plaintext datastore links, or a disabled rate limiter.
func ValidateProduction(o Options) error {
	if !isProductionLikeEnv(o.Environment) {
		return nil
	}
	if !isTrue(o.StrictProdSecurity, true) {
		return nil
	}
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "service"
	}
	for _, req := range o.RequiredSecrets {
		if strings.TrimSpace(req.Name) == "" {
			continue
		}
		if strings.TrimSpace(req.Value) == "" {
			return fmt.Errorf("%s: production requires %s", service, req.Name)
		}
	}
	if !isTrue(o.DatabaseRequireTLS, false) {
		return fmt.Errorf("%s: production requires DATABASE_REQUIRE_TLS=true", service)
	}
	if strings.TrimSpace(o.RedisAddr) != "" && !isTrue(o.RedisRequireTLS, false) {
		return fmt.Errorf("%s: production requires REDIS_REQUIRE_TLS=true", service)
	}
	if !isTrue(o.RateLimitEnabled, true) {
		return fmt.Errorf("%s: production forbids RATE_LIMIT_ENABLED=false", service)
	}
	return validateCORSOrigins(o.CORSAllowedOrigins, service)
}

func validateCORSOrigins(raw, service string) error {
	validCount := 0
	for _, origin := range strings.Split(raw, ",") {
		o := strings.ToLower(strings.TrimSpace(origin))
		if o == "" {
			continue
		}
		validCount++
		if o == "*" {
			return fmt.Errorf("%s: production forbids CORS wildcard origin", service)
		}
		if strings.HasPrefix(o, "http://localhost") || strings.HasPrefix(o, "https://localhost") ||
			strings.HasPrefix(o, "http://127.0.0.1") || strings.HasPrefix(o, "https://127.0.0.1") {
			return fmt.Errorf("%s: production forbids localhost CORS origin %q", service, o)
		}
		if !strings.HasPrefix(o, "https://") {
			return fmt.Errorf("%s: production requires HTTPS CORS origin, got %q", service, o)
		}
	}
	if validCount == 0 {
		return fmt.Errorf("%s: production requires explicit CORS_ALLOWED_ORIGINS", service)
	}
	return nil
}

func isTrue(raw string, def bool) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	return strings.EqualFold(trimmed, "true")
}

func isProductionLikeEnv(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "live":
		return true
	default:
		return false
	}
}
