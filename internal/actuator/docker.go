package actuator

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultDockerSocket = "/var/run/docker.sock"
	dockerAPIBase       = "http://localhost"
	dockerAPIVersion    = "v1.40"
	dialConnectTimeout  = 10 * time.Second
)

// DockerClient wraps the Docker Engine API over its Unix socket. The
// leader uses it to restart an unhealthy target's backing container in
// response to a request.
type DockerClient struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewDockerClient dials socketPath (defaulting to /var/run/docker.sock)
// and verifies the daemon responds before returning. This is the one
// fatal construction-time error in the system: a missing Docker socket
// is a genuine setup failure, not a recoverable runtime one.
func NewDockerClient(socketPath string, logger *zap.Logger) (*DockerClient, error) {
	if socketPath == "" {
		socketPath = defaultDockerSocket
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return net.DialTimeout("unix", socketPath, dialConnectTimeout)
			},
		},
		Timeout: dialConnectTimeout,
	}

	resp, err := httpClient.Get(dockerAPIBase + "/" + dockerAPIVersion + "/_ping")
	if err != nil {
		return nil, fmt.Errorf("actuator: connect to docker daemon via %s: %w", socketPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actuator: docker daemon returned status %d", resp.StatusCode)
	}

	logger.Info("connected to docker daemon", zap.String("socket", socketPath))
	return &DockerClient{httpClient: httpClient, logger: logger}, nil
}

// RestartContainer restarts a container by name or ID.
func (c *DockerClient) RestartContainer(containerNameOrID string) error {
	c.logger.Info("restarting container", zap.String("container", containerNameOrID))

	url := fmt.Sprintf("%s/%s/containers/%s/restart", dockerAPIBase, dockerAPIVersion, containerNameOrID)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("actuator: build restart request for %s: %w", containerNameOrID, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("actuator: restart container %s: %w", containerNameOrID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("actuator: docker API returned status %d for container %s", resp.StatusCode, containerNameOrID)
	}

	c.logger.Info("container restarted", zap.String("container", containerNameOrID))
	return nil
}

// Close releases idle connections held by the underlying HTTP client.
func (c *DockerClient) Close() error {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}
