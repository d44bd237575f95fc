// apreport lists wireless access points whose uplink port negotiated
// 100 Mbps, across one or many Cisco wireless LAN controllers, and writes
// the result as a spreadsheet or another report format. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]); without one, the IP_ADDRESS, USERNAME,
// PASSWORD and DNAC_IP environment variables are used.
//
// Usage:
//
//	apreport wlc                 Report on the configured controller over SSH
//	apreport fleet               Report on every listed controller over SSH
//	apreport dnac                Report on controllers discovered through DNA Center
//	apreport parse <file>...     Report on saved command output
//	apreport version             Print version and build information
//	apreport version -o json     Output version information as JSON
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// main only wires the process environment into [run], which keeps
// os.Exit, os.Stdout and os.Args out of the application logic.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Reports that go to "-" and the version
// output are written to stdout; logs, per-controller errors and the
// summary go to stderr. Partial failures are not an error: the report
// is written with whatever succeeded.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
