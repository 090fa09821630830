package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/actuator"
	iconfig "github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/config"
	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/flock"
	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/logging"
	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/member"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		healthPort string
		dockerSock string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "bootstrap every channel in the topology file and block until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopology(configPath, healthPort, dockerSock, debug)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", getEnv("FLOCKD_CONFIG", "flock.yaml"), "path to the topology YAML file")
	cmd.Flags().StringVar(&healthPort, "health-port", getEnv("FLOCKD_HEALTH_PORT", "12346"), "TCP port this process answers PING/PONG health probes on")
	cmd.Flags().StringVar(&dockerSock, "docker-socket", getEnv("DOCKER_SOCKET", ""), "path to the Docker Engine API Unix socket (empty disables the actuator)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug-level logging")

	return cmd
}

func runTopology(configPath, healthPort, dockerSock string, debug bool) error {
	logger := logging.New(debug)
	defer logger.Sync() //nolint:errcheck

	top, err := iconfig.LoadTopology(configPath)
	if err != nil {
		return fmt.Errorf("flockd: %w", err)
	}

	go serveHealthChecks(healthPort, logger)

	var dockerClient *actuator.DockerClient
	if dockerSock != "" {
		dockerClient, err = actuator.NewDockerClient(dockerSock, logger)
		if err != nil {
			return fmt.Errorf("flockd: %w", err)
		}
		defer dockerClient.Close()
	}

	reg := flock.NewRegistry(nil, logger)
	var members []*member.Member

	for _, ch := range top.Channels {
		ch := ch // pre-1.22 Go reuses the loop variable; the OnLeadershipChange closure below needs its own copy.
		checker := actuator.NewHealthChecker(logger)
		var act *actuator.Actuator
		if dockerClient != nil {
			act = actuator.New(checker, dockerClient, ch.ActuatorTargets(), logger)
		}

		for i := 0; i < top.Members; i++ {
			opts := member.Options{
				ID:                fmt.Sprintf("%s-member-%d", ch.Name, i),
				ChannelName:       ch.Name,
				HeartbeatInterval: ch.HeartbeatInterval,
				HeartbeatTtl:      ch.HeartbeatTtl,
				Debug:             ch.Debug,
				OnLeadershipChange: func(leaderID string) {
					logger.Info("leadership changed", zap.String("channel", ch.Name), zap.String("leaderId", leaderID))
				},
			}
			if act != nil {
				opts.OnRequest = act.OnRequest
			}

			m := member.New(opts, reg, nil, logger)
			members = append(members, m)
		}

		logger.Info("channel bootstrapped", zap.String("channel", ch.Name), zap.Int("members", top.Members))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	reportTicker := time.NewTicker(5 * time.Second)
	defer reportTicker.Stop()

	for {
		select {
		case <-reportTicker.C:
			for _, m := range members {
				if m.IsLeader() {
					logger.Info("heartbeat", zap.String("leader", m.ID()), zap.String("channel", m.ChannelName()))
				}
			}
		case sig := <-sigCh:
			logger.Info("shutting down", zap.String("signal", sig.String()))
			for _, m := range members {
				m.Resign()
			}
			return nil
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
