// Command simpledhcpd is the entry point of the DHCP daemon.  It owns the
// narrow, non-core collaborators the original specification places out of
// scope for the core (§1): command-line parsing, daemonization, signal
// processing, and log-file setup.  Everything else is delegated to the
// internal/dhcp package.
package main

import (
	"context"
	"os"

	"github.com/simpledhcpd/simpledhcpd/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(context.Background(), os.Args[1:]))
}
