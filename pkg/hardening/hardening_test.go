package hardening

import (
	"strings"
	"testing"
)

func baseOptions() Options {
	return Options{
		Service:            "gateway",
		Environment:        "production",
		StrictProdSecurity: "true",
		DatabaseRequireTLS: "true",
		RedisAddr:          "redis:6379",
		RedisRequireTLS:    "true",
		CORSAllowedOrigins: "https://console.example.com",
		RateLimitEnabled:   "true",
		RequiredSecrets: []SecretRequirement{
			{Name: "JWT_SECRET", Value: "secret"},
			{Name: "AUDIT_HASH_SALT", Value: "salt"},
		},
	}
}

func TestValidateProduction(t *testing.T) {
	t.Run("pass", func(t *testing.T) {
		if err := ValidateProduction(baseOptions()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("non production skips checks", func(t *testing.T) {
		o := baseOptions()
		o.Environment = "dev"
		o.CORSAllowedOrigins = "*"
		o.RequiredSecrets = nil
		if err := ValidateProduction(o); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("strict off skips checks", func(t *testing.T) {
		o := baseOptions()
		o.StrictProdSecurity = "false"
		o.CORSAllowedOrigins = "*"
		if err := ValidateProduction(o); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	fail := []struct {
		name   string
		mutate func(*Options)
		want   string
	}{
		{"missing secret", func(o *Options) { o.RequiredSecrets[0].Value = " " }, "requires JWT_SECRET"},
		{"db tls off", func(o *Options) { o.DatabaseRequireTLS = "false" }, "DATABASE_REQUIRE_TLS"},
		{"redis tls off", func(o *Options) { o.RedisRequireTLS = "" }, "REDIS_REQUIRE_TLS"},
		{"rate limit off", func(o *Options) { o.RateLimitEnabled = "false" }, "RATE_LIMIT_ENABLED"},
		{"cors wildcard", func(o *Options) { o.CORSAllowedOrigins = "*" }, "wildcard"},
		{"cors localhost", func(o *Options) { o.CORSAllowedOrigins = "http://localhost:3000" }, "localhost"},
		{"cors plaintext", func(o *Options) { o.CORSAllowedOrigins = "http://bank.example.com" }, "HTTPS"},
		{"cors empty", func(o *Options) { o.CORSAllowedOrigins = " , " }, "explicit CORS_ALLOWED_ORIGINS"},
	}
	for _, tc := range fail {
		t.Run(tc.name, func(t *testing.T) {
			o := baseOptions()
			o.RequiredSecrets = append([]SecretRequirement(nil), o.RequiredSecrets...)
			tc.mutate(&o)
			err := ValidateProduction(o)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}
