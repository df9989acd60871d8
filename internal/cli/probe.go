package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/smnsjas/go-negotiate/auth"
	"github.com/smnsjas/go-negotiate/client"
	"github.com/smnsjas/go-negotiate/internal/log"
)

// maxShownBody bounds response bodies printed with --show-body.
const maxShownBody = 4096

// probeOptions is the resolved command line.
type probeOptions struct {
	URL         string
	Method      string
	Data        string
	User        string
	Password    string
	CurrentUser bool
	SPN         string
	MaxRounds   int
	Insecure    bool
	Timeout     time.Duration

	Count            int
	Concurrency      int
	Rate             float64
	RetryAttempts    int
	BreakerThreshold int
	BreakerTimeout   time.Duration

	Realm    string
	Krb5Conf string
	CCache   string
	Keytab   string
	NoCBT    bool

	LogLevel   string
	LogFile    string
	LogMaxSize int64
	LogBackups int
	LogJSON    bool
	Metrics    bool
	ShowBody   bool
}

func optionsFromViper(v *viper.Viper) (probeOptions, error) {
	opts := probeOptions{
		URL:              v.GetString("url"),
		Method:           strings.ToUpper(v.GetString("method")),
		Data:             v.GetString("data"),
		User:             v.GetString("user"),
		Password:         v.GetString("password"),
		CurrentUser:      v.GetBool("current-user"),
		SPN:              v.GetString("spn"),
		MaxRounds:        v.GetInt("max-rounds"),
		Insecure:         v.GetBool("insecure"),
		Timeout:          v.GetDuration("timeout"),
		Count:            v.GetInt("count"),
		Concurrency:      v.GetInt("concurrency"),
		Rate:             v.GetFloat64("rate"),
		RetryAttempts:    v.GetInt("retry-attempts"),
		BreakerThreshold: v.GetInt("breaker-threshold"),
		BreakerTimeout:   v.GetDuration("breaker-timeout"),
		Realm:            v.GetString("realm"),
		Krb5Conf:         v.GetString("krb5conf"),
		CCache:           v.GetString("ccache"),
		Keytab:           v.GetString("keytab"),
		NoCBT:            v.GetBool("no-cbt"),
		LogLevel:         v.GetString("loglevel"),
		LogFile:          v.GetString("log-file"),
		LogMaxSize:       v.GetInt64("log-max-size"),
		LogBackups:       v.GetInt("log-backups"),
		LogJSON:          v.GetBool("log-json"),
		Metrics:          v.GetBool("metrics"),
		ShowBody:         v.GetBool("show-body"),
	}
	return opts, opts.validate()
}

func (o *probeOptions) validate() error {
	if o.URL == "" {
		return errors.New("--url is required")
	}
	if o.Count < 1 {
		return errors.New("--count must be at least 1")
	}
	if o.Concurrency < 1 {
		return errors.New("--concurrency must be at least 1")
	}
	if o.LogFile != "" && (o.LogMaxSize < 1 || o.LogBackups < 1) {
		return errors.New("--log-max-size and --log-backups must be at least 1")
	}
	if o.User != "" && o.CurrentUser {
		return errors.New("--user and --current-user are mutually exclusive")
	}
	// Username is required unless the platform supports SSO or a ticket
	// cache was requested explicitly.
	if o.User == "" && !o.CurrentUser {
		if !auth.SupportsSSO() && o.CCache == "" {
			return errors.New("--user is required (SSO not supported on this platform; use --current-user with a Kerberos ticket cache)")
		}
		o.CurrentUser = true
	}
	return nil
}

// buildConfig maps options to a client configuration.
func buildConfig(o probeOptions, reg prometheus.Registerer) client.Config {
	cfg := client.DefaultConfig()
	cfg.Timeout = o.Timeout
	cfg.InsecureSkipVerify = o.Insecure
	cfg.TargetSPN = o.SPN
	cfg.MaxRounds = o.MaxRounds
	cfg.DisableChannelBinding = o.NoCBT
	cfg.Kerberos = auth.KerberosConfig{
		Realm:        o.Realm,
		Krb5ConfPath: o.Krb5Conf,
		KeytabPath:   o.Keytab,
		CCachePath:   o.CCache,
	}
	cfg.MaxConcurrentRequests = o.Concurrency
	if o.Rate > 0 {
		cfg.RateLimit = o.Rate
		cfg.RateBurst = o.Concurrency
	}
	if o.RetryAttempts > 0 {
		cfg.Retry = client.DefaultRetryPolicy()
		cfg.Retry.MaxAttempts = o.RetryAttempts
	}
	if o.BreakerThreshold > 0 {
		cfg.CircuitBreaker = &client.CircuitBreakerPolicy{
			Enabled:          true,
			FailureThreshold: o.BreakerThreshold,
			ResetTimeout:     o.BreakerTimeout,
		}
	}
	cfg.MetricsRegisterer = reg

	if o.CurrentUser {
		cfg.EnableNegotiate()
	} else {
		cfg.EnableNegotiateWithCredentials(o.User, o.Password)
	}
	return cfg
}

// probeResult is the outcome of one request.
type probeResult struct {
	Status   int
	Bytes    int64
	Duration time.Duration
	Body     string
	Err      error
}

func runProbe(ctx context.Context, o probeOptions, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, closer, err := log.New(log.Options{
		Level:      o.LogLevel,
		JSON:       o.LogJSON,
		File:       o.LogFile,
		MaxSize:    o.LogMaxSize << 20,
		MaxBackups: o.LogBackups,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	if !o.CurrentUser && o.Password == "" {
		o.Password = readPassword(errOut)
	}

	reg := prometheus.NewRegistry()
	cfg := buildConfig(o, reg)
	cfg.Logger = logger

	c, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	results := make([]probeResult, o.Count)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)
	for i := range results {
		g.Go(func() error {
			results[i] = probeOnce(gctx, c, o)
			done.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, r := range results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Fprintf(out, "#%d error after %s: %v\n", i+1, r.Duration.Round(time.Millisecond), r.Err)
		default:
			if r.Status == http.StatusUnauthorized {
				failed++
			}
			fmt.Fprintf(out, "#%d %d %s (%d bytes, %s)\n", i+1, r.Status, http.StatusText(r.Status),
				r.Bytes, r.Duration.Round(time.Millisecond))
			if o.ShowBody && r.Body != "" {
				fmt.Fprintln(out, r.Body)
			}
		}
	}
	fmt.Fprintf(out, "%d/%d succeeded\n", int(done.Load())-failed, o.Count)

	if o.Metrics {
		if err := printMetrics(out, reg); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, o.Count)
	}
	return nil
}

func probeOnce(ctx context.Context, c *client.Client, o probeOptions) probeResult {
	start := time.Now()

	var body io.Reader
	if o.Data != "" {
		body = bytes.NewReader([]byte(o.Data))
	}
	req, err := http.NewRequestWithContext(ctx, o.Method, o.URL, body)
	if err != nil {
		return probeResult{Err: err}
	}

	resp, err := c.Do(req)
	if err != nil {
		return probeResult{Err: err, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	var shown bytes.Buffer
	var w io.Writer = io.Discard
	if o.ShowBody {
		w = &limitedWriter{w: &shown, n: maxShownBody}
	}
	n, err := io.Copy(w, resp.Body)
	return probeResult{
		Status:   resp.StatusCode,
		Bytes:    n,
		Duration: time.Since(start),
		Body:     shown.String(),
		Err:      err,
	}
}

// limitedWriter keeps the first n bytes and discards the rest.
type limitedWriter struct {
	w io.Writer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n > 0 {
		k := min(len(p), l.n)
		if _, err := l.w.Write(p[:k]); err != nil {
			return 0, err
		}
		l.n -= k
	}
	return len(p), nil
}

// printMetrics writes gathered metric samples in a compact text form.
func printMetrics(out io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			sort.Strings(labels)

			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(out, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(out, "%s{%s} count=%d sum=%g\n", mf.GetName(), strings.Join(labels, ","),
					h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}

// readPassword prompts for a password on stderr.
func readPassword(errOut io.Writer) string {
	fmt.Fprint(errOut, "Password: ")

	// Use os.Stdin.Fd() cast to int for cross-platform compatibility
	// (syscall.Stdin is type-specific per OS)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		// Terminal: read password without echo
		passBytes, err := term.ReadPassword(fd)
		fmt.Fprintln(errOut) // newline after password
		if err != nil {
			return ""
		}
		return string(passBytes)
	}

	// Not a terminal (piped input): read line
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}
