package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/actuator"
	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/logging"
)

func newStatusCmd() *cobra.Command {
	var host, port string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "probe a single host:port with the PING/PONG health protocol and report the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			checker := actuator.NewHealthChecker(logging.Nop())
			if checker.IsAlive(host, port) {
				fmt.Printf("%s:%s is alive\n", host, port)
				return nil
			}
			return fmt.Errorf("%s:%s did not respond", host, port)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "target host")
	cmd.Flags().StringVar(&port, "port", "12346", "target port")

	return cmd
}
