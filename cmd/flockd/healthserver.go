package main

import (
	"io"
	"net"

	"go.uber.org/zap"
)

// serveHealthChecks answers the PING/PONG liveness protocol actuator.
// HealthChecker speaks, so another flockd instance (or a plain probe)
// can confirm this process is alive.
func serveHealthChecks(port string, logger *zap.Logger) {
	address := "0.0.0.0:" + port
	listener, err := net.Listen("tcp", address)
	if err != nil {
		logger.Error("health server failed to start", zap.String("address", address), zap.Error(err))
		return
	}
	defer listener.Close()

	logger.Info("health server listening", zap.String("address", address))

	for {
		conn, err := listener.Accept()
		if err != nil {
			logger.Warn("health server accept failed", zap.Error(err))
			continue
		}
		go handleHealthCheck(conn, logger)
	}
}

func handleHealthCheck(conn net.Conn, logger *zap.Logger) {
	defer conn.Close()

	buf := make([]byte, 4)
	n, err := conn.Read(buf)
	if err != nil {
		if err != io.EOF {
			logger.Warn("health check read failed", zap.Error(err))
		}
		return
	}

	if string(buf[:n]) == "PING" {
		if _, err := conn.Write([]byte("PONG")); err != nil {
			logger.Warn("health check write failed", zap.Error(err))
		}
	}
}
