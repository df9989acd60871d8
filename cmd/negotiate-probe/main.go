// Command negotiate-probe sends authenticated requests to an HTTP endpoint.
//
// Usage:
//
//	negotiate-probe --url https://server.example.com/ --user 'EXAMPLE\alice'
//	NEGOTIATE_PASSWORD=... negotiate-probe --url https://server/ --user alice@EXAMPLE.COM --count 10 --concurrency 4 --metrics
//	negotiate-probe --url https://server/ --current-user --loglevel debug
package main

import "github.com/smnsjas/go-negotiate/internal/cli"

// Set by the linker.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	cli.Execute()
}
