// Package cli implements the negotiate-probe command line.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Build information
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersionInfo updates the build information variables
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

// envPrefix prefixes every environment variable, e.g. NEGOTIATE_URL.
const envPrefix = "NEGOTIATE"

// NewRootCommand builds the negotiate-probe command. Each call uses its own
// viper instance so commands can be built independently in tests.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "negotiate-probe",
		Short: "Probe an HTTP endpoint with Negotiate, NTLM and Basic authentication",
		Long: `negotiate-probe sends requests to an HTTP endpoint and answers its
authentication challenges, preferring Negotiate (Kerberos), then NTLM, then Basic.

The password is read from NEGOTIATE_PASSWORD or prompted for. Every flag can
also be set in the config file or as NEGOTIATE_<FLAG> (dashes become underscores).`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cfgFile, errOut)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := optionsFromViper(v)
			if err != nil {
				return err
			}
			return runProbe(cmd.Context(), opts, out, errOut)
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/negotiate/config.yaml)")
	f.String("url", "", "Target URL (required)")
	f.String("method", "GET", "HTTP method")
	f.String("data", "", "Request body")
	f.String("user", "", "Principal (DOMAIN\\user or user@REALM)")
	f.Bool("current-user", false, "Use the current user's identity (SSPI logon session or Kerberos ticket cache)")
	f.String("spn", "", "Service Principal Name (default: HTTP/<host>)")
	f.Int("max-rounds", 10, "Maximum provider token calls per scheme")
	f.Bool("insecure", false, "Skip TLS certificate verification")
	f.Duration("timeout", 60*time.Second, "Request timeout")
	f.Int("count", 1, "Number of requests to send")
	f.Int("concurrency", 1, "Requests in flight at once")
	f.Float64("rate", 0, "Requests per second (0 = unlimited)")
	f.Int("retry-attempts", 0, "Attempts for transient transport errors (0 = disabled)")
	f.Int("breaker-threshold", 0, "Circuit breaker failure threshold (0 = disabled)")
	f.Duration("breaker-timeout", 30*time.Second, "Circuit breaker reset timeout")
	f.String("realm", "", "Kerberos realm (e.g., EXAMPLE.COM)")
	f.String("krb5conf", "", "Path to krb5.conf file")
	f.String("ccache", "", "Path to Kerberos credential cache")
	f.String("keytab", "", "Path to Kerberos keytab")
	f.Bool("no-cbt", false, "Disable TLS channel binding tokens")
	f.String("loglevel", "", "Log level: debug, info, warn, error (empty = no logging)")
	f.String("log-file", "", "Write logs to a rotating file instead of stderr")
	f.Int64("log-max-size", 10, "Rotate the log file after this many megabytes")
	f.Int("log-backups", 3, "Rotated log files to keep")
	f.Bool("log-json", false, "Log in JSON")
	f.Bool("metrics", false, "Print negotiation metrics after the run")
	f.Bool("show-body", false, "Print response bodies")

	_ = v.BindPFlags(f)

	cmd.AddCommand(newVersionCommand(out))
	return cmd
}

func initConfig(v *viper.Viper, cfgFile string, errOut io.Writer) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.config/negotiate")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err == nil {
		fmt.Fprintln(errOut, "Using config file:", v.ConfigFileUsed())
	} else if cfgFile != "" {
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	return nil
}

func newVersionCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(out, "negotiate-probe %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
