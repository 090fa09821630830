package actuator

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct{ alive bool }

func (f fakeChecker) IsAlive(string, string) bool { return f.alive }

type fakeRestarter struct {
	err   error
	calls []string
}

func (f *fakeRestarter) RestartContainer(containerNameOrID string) error {
	f.calls = append(f.calls, containerNameOrID)
	return f.err
}

func newPayload(t *testing.T, req RestartRequest) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return b
}

func TestActuatorReportsAliveWithoutRestarting(t *testing.T) {
	restarter := &fakeRestarter{}
	a := New(fakeChecker{alive: true}, restarter, []Target{{Name: "web", Host: "h", Port: "1", ContainerName: "web-1"}}, nil)

	var got RestartResponse
	a.OnRequest(newPayload(t, RestartRequest{Target: "web"}), func(res any) {
		b, _ := json.Marshal(res)
		_ = json.Unmarshal(b, &got)
	})

	assert.True(t, got.WasAlive)
	assert.False(t, got.Restarted)
	assert.Empty(t, restarter.calls)
}

func TestActuatorRestartsWhenUnhealthy(t *testing.T) {
	restarter := &fakeRestarter{}
	a := New(fakeChecker{alive: false}, restarter, []Target{{Name: "web", Host: "h", Port: "1", ContainerName: "web-1"}}, nil)

	var got RestartResponse
	a.OnRequest(newPayload(t, RestartRequest{Target: "web"}), func(res any) {
		b, _ := json.Marshal(res)
		_ = json.Unmarshal(b, &got)
	})

	assert.False(t, got.WasAlive)
	assert.True(t, got.Restarted)
	assert.Equal(t, []string{"web-1"}, restarter.calls)
}

func TestActuatorSurfacesRestartError(t *testing.T) {
	restarter := &fakeRestarter{err: errors.New("docker unreachable")}
	a := New(fakeChecker{alive: false}, restarter, []Target{{Name: "web", Host: "h", Port: "1", ContainerName: "web-1"}}, nil)

	var got RestartResponse
	a.OnRequest(newPayload(t, RestartRequest{Target: "web"}), func(res any) {
		b, _ := json.Marshal(res)
		_ = json.Unmarshal(b, &got)
	})

	assert.False(t, got.Restarted)
	assert.Contains(t, got.Error, "docker unreachable")
}

func TestActuatorUnknownTarget(t *testing.T) {
	a := New(fakeChecker{alive: true}, &fakeRestarter{}, nil, nil)

	var got RestartResponse
	a.OnRequest(newPayload(t, RestartRequest{Target: "missing"}), func(res any) {
		b, _ := json.Marshal(res)
		_ = json.Unmarshal(b, &got)
	})

	assert.Equal(t, "unknown target", got.Error)
}
