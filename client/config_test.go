package client

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/smnsjas/go-negotiate/auth"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v; want 60s", cfg.Timeout)
	}
	if cfg.MaxRounds != auth.DefaultMaxRounds {
		t.Errorf("MaxRounds = %d; want %d", cfg.MaxRounds, auth.DefaultMaxRounds)
	}
	if cfg.MaxBufferedBody != auth.DefaultMaxBufferedBody {
		t.Errorf("MaxBufferedBody = %d; want %d", cfg.MaxBufferedBody, auth.DefaultMaxBufferedBody)
	}
	if cfg.NegotiateEnabled() {
		t.Error("negotiation should be off until credentials are set")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"negative timeout", func(c *Config) { c.Timeout = -1 }, "timeout"},
		{"negative rounds", func(c *Config) { c.MaxRounds = -1 }, "max rounds"},
		{"rate without burst", func(c *Config) { c.RateLimit = 5 }, "rate burst"},
		{"retry attempts", func(c *Config) { c.Retry = &RetryPolicy{} }, "retry"},
		{"breaker threshold", func(c *Config) {
			c.CircuitBreaker = &CircuitBreakerPolicy{Enabled: true}
		}, "circuit breaker"},
		{"missing secret", func(c *Config) { c.EnableNegotiateWithCredentials("alice", "") }, "credentials"},
		{"negative workers", func(c *Config) { c.ProviderWorkers = -2 }, "provider workers"},
		{"bad provider queue", func(c *Config) { c.ProviderQueue = -3 }, "provider queue"},
		{"no provider queue", func(c *Config) { c.ProviderQueue = -1 }, ""},
		{"current user", func(c *Config) { c.EnableNegotiate() }, ""},
		{"explicit", func(c *Config) { c.EnableNegotiateWithCredentials(`CORP\alice`, "pw") }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v; want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ProviderQueue(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, -1}, // unbounded
		{-1, 0}, // no queue
		{8, 8},
	}
	for _, tt := range tests {
		cfg := Config{ProviderQueue: tt.in}
		if got := cfg.providerQueue(); got != tt.want {
			t.Errorf("providerQueue(%d) = %d; want %d", tt.in, got, tt.want)
		}
	}
}

func TestConfig_ZeroValueIsValid(t *testing.T) {
	var cfg Config
	cfg.EnableNegotiateWithCredentials("alice", "pw")
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

// TestConfig_LogRedaction verifies that the secret never reaches log output.
func TestConfig_LogRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	secretPass := "SecretPassword123!"
	cfg := DefaultConfig()
	cfg.EnableNegotiateWithCredentials("testuser", secretPass)

	logger.Info("config loaded", "config", cfg)
	out := buf.String()

	if !strings.Contains(out, "testuser") {
		t.Errorf("log output should contain the principal, got: %s", out)
	}
	if strings.Contains(out, secretPass) {
		t.Errorf("SECURITY FAIL: log output contains plaintext password! Got: %s", out)
	}
	if !strings.Contains(out, "REDACTED") {
		t.Errorf("log output should contain a redaction marker, got: %s", out)
	}
}
