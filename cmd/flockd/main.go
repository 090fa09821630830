// Command flockd is a small host process demonstrating the flock
// library: it bootstraps one or more channels from a topology file,
// joins a configurable number of in-process members to each, and, when
// a Docker socket is given with --docker-socket, wires a leader-only
// health-check/restart actuator onto every member so whichever one wins
// the election can serve it.
//
// It uses a cobra CLI rather than a single flat binary because this
// process is a host for a library that several independent members can
// join, not "the" coordinator itself.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "flockd",
		Short: "flockd hosts flock-coordination members and a leader-only actuator",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())
	return root
}
