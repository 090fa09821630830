package actuator

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/distribuidos-Coffee-Shop-Analysis/flock-coordination/internal/flock"
)

// RestartRequest is the payload a follower sends the leader to ask it
// to check (and, if needed, restart) one configured target.
type RestartRequest struct {
	Target string `json:"target"`
}

// RestartResponse is the leader's reply.
type RestartResponse struct {
	Target    string `json:"target"`
	WasAlive  bool   `json:"wasAlive"`
	Restarted bool   `json:"restarted"`
	Error     string `json:"error,omitempty"`
}

// Checker is the subset of HealthChecker the Actuator depends on,
// broken out so tests can substitute a fake rather than dialing real
// TCP sockets.
type Checker interface {
	IsAlive(host, port string) bool
}

// Restarter is the subset of DockerClient the Actuator depends on.
type Restarter interface {
	RestartContainer(containerNameOrID string) error
}

// Actuator binds a Checker and Restarter to a fixed set of named
// targets, producing an flock.MemberDescriptor-compatible OnRequest
// handler: the concrete leader-exclusive, non-idempotent work a
// leader-only fabric exists to serialize.
type Actuator struct {
	checker Checker
	docker  Restarter
	targets map[string]Target
	logger  *zap.Logger
}

// New builds an Actuator over targets keyed by Target.Name.
func New(checker Checker, docker Restarter, targets []Target, logger *zap.Logger) *Actuator {
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]Target, len(targets))
	for _, t := range targets {
		byName[t.Name] = t
	}
	return &Actuator{checker: checker, docker: docker, targets: byName, logger: logger}
}

// OnRequest is installed as a leader Member's request handler. It
// checks the requested target's health and restarts its container if
// unhealthy, replying with the outcome either way.
func (a *Actuator) OnRequest(payload json.RawMessage, reply flock.Reply) {
	var req RestartRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		reply(RestartResponse{Error: "malformed request: " + err.Error()})
		return
	}

	target, ok := a.targets[req.Target]
	if !ok {
		reply(RestartResponse{Target: req.Target, Error: "unknown target"})
		return
	}

	alive := a.checker.IsAlive(target.Host, target.Port)
	if alive {
		reply(RestartResponse{Target: target.Name, WasAlive: true})
		return
	}

	if err := a.docker.RestartContainer(target.ContainerName); err != nil {
		a.logger.Warn("restart failed", zap.String("target", target.Name), zap.Error(err))
		reply(RestartResponse{Target: target.Name, WasAlive: false, Error: err.Error()})
		return
	}

	reply(RestartResponse{Target: target.Name, WasAlive: false, Restarted: true})
}
