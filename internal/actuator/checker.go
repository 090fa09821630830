package actuator

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

const (
	pingMessage = "PING"
	pongMessage = "PONG"
	dialTimeout = 2 * time.Second
	readTimeout = 2 * time.Second
)

// HealthChecker verifies the health of TCP endpoints via a PING/PONG
// probe. It is invoked from a leader's onRequest handler rather than a
// bespoke poll loop.
type HealthChecker struct {
	logger *zap.Logger
}

// NewHealthChecker constructs a HealthChecker. logger may be nil.
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{logger: logger}
}

// IsAlive reports whether host:port responds PONG to a PING within the
// dial/read timeouts.
func (hc *HealthChecker) IsAlive(host, port string) bool {
	address := net.JoinHostPort(host, port)

	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		hc.logger.Debug("health check dial failed", zap.String("address", address), zap.Error(err))
		return false
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		hc.logger.Debug("health check deadline failed", zap.String("address", address), zap.Error(err))
		return false
	}

	if _, err := conn.Write([]byte(pingMessage)); err != nil {
		hc.logger.Debug("health check write failed", zap.String("address", address), zap.Error(err))
		return false
	}

	buf := make([]byte, len(pongMessage))
	n, err := conn.Read(buf)
	if err != nil {
		hc.logger.Debug("health check read failed", zap.String("address", address), zap.Error(err))
		return false
	}

	if string(buf[:n]) != pongMessage {
		hc.logger.Debug("health check unexpected response", zap.String("address", address), zap.String("got", string(buf[:n])))
		return false
	}

	return true
}

// Target names one TCP endpoint to probe and the container that backs
// it.
type Target struct {
	Name          string
	Host          string
	Port          string
	ContainerName string
}

func (t Target) String() string {
	return fmt.Sprintf("%s (%s:%s -> container: %s)", t.Name, t.Host, t.Port, t.ContainerName)
}
