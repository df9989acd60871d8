package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basicServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); ok && u == "alice" && p == "pw" {
			_, _ = io.WriteString(w, "welcome")
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="probe"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var out, errOut bytes.Buffer
	cmd := NewRootCommand(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestProbe_BasicSuccess(t *testing.T) {
	srv := basicServer(t)
	t.Setenv("NEGOTIATE_PASSWORD", "pw")

	out, _, err := runCommand(t, "--url", srv.URL, "--user", "alice", "--count", "3",
		"--concurrency", "2", "--show-body", "--metrics")
	require.NoError(t, err)

	assert.Contains(t, out, "#1 200 OK")
	assert.Contains(t, out, "welcome")
	assert.Contains(t, out, "3/3 succeeded")
	assert.Contains(t, out, `negotiate_sessions_total{outcome="complete",scheme="Basic"} 3`)
	assert.NotContains(t, out, "pw")
}

func TestProbe_Rejected(t *testing.T) {
	srv := basicServer(t)
	t.Setenv("NEGOTIATE_PASSWORD", "wrong")

	out, _, err := runCommand(t, "--url", srv.URL, "--user", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 requests failed")
	assert.Contains(t, out, "#1 401 Unauthorized")
	assert.Contains(t, out, "0/1 succeeded")
}

func TestProbe_ConfigFile(t *testing.T) {
	srv := basicServer(t)
	t.Setenv("NEGOTIATE_PASSWORD", "pw")

	cfgPath := filepath.Join(t.TempDir(), "probe.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("url: "+srv.URL+"\nuser: alice\n"), 0o600))

	out, errOut, err := runCommand(t, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, errOut, "Using config file:")
	assert.Contains(t, out, "1/1 succeeded")
}

func TestProbe_EnvOverrides(t *testing.T) {
	srv := basicServer(t)
	t.Setenv("NEGOTIATE_PASSWORD", "pw")
	t.Setenv("NEGOTIATE_URL", srv.URL)
	t.Setenv("NEGOTIATE_USER", "alice")
	t.Setenv("NEGOTIATE_MAX_ROUNDS", "4")

	out, _, err := runCommand(t)
	require.NoError(t, err)
	assert.Contains(t, out, "1/1 succeeded")
}

func TestProbe_MissingConfigFile(t *testing.T) {
	_, _, err := runCommand(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-01-02")
	t.Cleanup(func() { SetVersionInfo("dev", "none", "unknown") })

	out, _, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "negotiate-probe 1.2.3 (commit abc123, built 2026-01-02)\n", out)
}

func TestOptionsFromViper(t *testing.T) {
	v := viper.New()
	v.Set("url", "https://web.example.com/")
	v.Set("method", "post")
	v.Set("user", `CORP\alice`)
	v.Set("count", 2)
	v.Set("concurrency", 1)
	v.Set("timeout", "5s")

	opts, err := optionsFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "POST", opts.Method)
	assert.Equal(t, `CORP\alice`, opts.User)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.False(t, opts.CurrentUser)
}

func TestProbeOptions_Validate(t *testing.T) {
	valid := func() probeOptions {
		return probeOptions{URL: "https://web/", User: "alice", Count: 1, Concurrency: 1}
	}
	tests := []struct {
		name    string
		modify  func(*probeOptions)
		wantErr string
	}{
		{"valid", func(*probeOptions) {}, ""},
		{"missing url", func(o *probeOptions) { o.URL = "" }, "--url is required"},
		{"zero count", func(o *probeOptions) { o.Count = 0 }, "--count"},
		{"zero concurrency", func(o *probeOptions) { o.Concurrency = 0 }, "--concurrency"},
		{"user and current user", func(o *probeOptions) { o.CurrentUser = true }, "mutually exclusive"},
		{"ccache implies current user", func(o *probeOptions) { o.User = ""; o.CCache = "/tmp/cc" }, ""},
		{"log file limits", func(o *probeOptions) { o.LogFile = "/tmp/p.log"; o.LogMaxSize = 1; o.LogBackups = 2 }, ""},
		{"log file without backups", func(o *probeOptions) { o.LogFile = "/tmp/p.log"; o.LogMaxSize = 1 }, "--log-backups"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid()
			tt.modify(&o)
			err := o.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProbeOptions_ValidateDefaultsToCurrentUser(t *testing.T) {
	o := probeOptions{URL: "https://web/", Count: 1, Concurrency: 1, CCache: "/tmp/cc"}
	require.NoError(t, o.validate())
	assert.True(t, o.CurrentUser)
}

func TestBuildConfig(t *testing.T) {
	o := probeOptions{
		URL: "https://web/", User: "alice", Password: "pw",
		Count: 4, Concurrency: 2, Rate: 5, RetryAttempts: 4,
		BreakerThreshold: 3, BreakerTimeout: time.Second,
		Timeout: time.Minute, MaxRounds: 6, NoCBT: true, Realm: "EXAMPLE.COM",
	}
	cfg := buildConfig(o, nil)

	assert.True(t, cfg.NegotiateEnabled())
	assert.Equal(t, 6, cfg.MaxRounds)
	assert.True(t, cfg.DisableChannelBinding)
	assert.Equal(t, "EXAMPLE.COM", cfg.Kerberos.Realm)
	assert.Equal(t, 2, cfg.MaxConcurrentRequests)
	assert.Equal(t, 5.0, cfg.RateLimit)
	assert.Equal(t, 2, cfg.RateBurst)
	require.NotNil(t, cfg.Retry)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	require.NotNil(t, cfg.CircuitBreaker)
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	assert.NoError(t, cfg.Validate())
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &limitedWriter{w: &buf, n: 5}
	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = w.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "abcde", buf.String())
}

func TestProbe_LogFileFlags(t *testing.T) {
	srv := basicServer(t)
	t.Setenv("NEGOTIATE_PASSWORD", "pw")
	logPath := filepath.Join(t.TempDir(), "probe.log")

	_, _, err := runCommand(t, "--url", srv.URL, "--user", "alice", "--loglevel", "debug",
		"--log-file", logPath, "--log-max-size", "1", "--log-backups", "2")
	require.NoError(t, err)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SecurityEvent")
	assert.NotContains(t, string(data), "cHc=")
}

func TestOptionsFromViper_LogRotationDefaults(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand(&out, &out)
	require.NoError(t, cmd.Flags().Set("url", "https://web/"))
	require.NoError(t, cmd.Flags().Set("user", "alice"))
	require.NoError(t, cmd.Flags().Set("log-file", "/tmp/probe.log"))

	v := viper.New()
	require.NoError(t, v.BindPFlags(cmd.Flags()))
	opts, err := optionsFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, int64(10), opts.LogMaxSize)
	assert.Equal(t, 3, opts.LogBackups)
}
