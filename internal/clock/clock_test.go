package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualTimerFiresOnAdvance(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	timer := v.NewTimer(5 * time.Second)

	v.Advance(3 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	v.Advance(2 * time.Second)
	select {
	case fired := <-timer.C():
		assert.Equal(t, v.Now(), fired)
	default:
		t.Fatal("timer did not fire")
	}
}

func TestVirtualTickerFiresRepeatedly(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	ticker := v.NewTicker(time.Second)

	v.Advance(3500 * time.Millisecond)

	count := 0
loop:
	for {
		select {
		case <-ticker.C():
			count++
		default:
			break loop
		}
	}
	require.GreaterOrEqual(t, count, 1)

	// The ticker rescheduled itself: the next period fires it again.
	v.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire again on its next period")
	}
}

func TestVirtualTimerStopPreventsFire(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	timer := v.NewTimer(time.Second)
	require.True(t, timer.Stop())

	v.Advance(5 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestRealClockConstructs(t *testing.T) {
	var c Clock = Real{}
	require.NotZero(t, c.Now())
	timer := c.NewTimer(time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("real timer never fired")
	}
}
