package actuator

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckerIsAliveAgainstRealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, len(pingMessage))
		if _, err := conn.Read(buf); err != nil {
			return
		}
		conn.Write([]byte(pongMessage))
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	hc := NewHealthChecker(nil)
	assert.True(t, hc.IsAlive(host, port))
}

func TestHealthCheckerIsDeadWhenNothingListens(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close()) // close before dialing: nobody is listening now

	hc := NewHealthChecker(nil)
	assert.False(t, hc.IsAlive(host, port))
}
