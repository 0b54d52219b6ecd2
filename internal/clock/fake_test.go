package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AfterFuncFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewFake(start)

	fired := 0
	c.AfterFunc(3*time.Second, func() { fired++ })

	c.Advance(2 * time.Second)
	assert.Equal(t, 0, fired)

	c.Advance(time.Second)
	assert.Equal(t, 1, fired)
	assert.Equal(t, start.Add(3*time.Second), c.Now())
	assert.Equal(t, 0, c.Pending())
}

func TestFake_StoppedTimerDoesNotFire(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFake_TickerReschedules(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	c.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("expected a tick")
	}
	assert.Equal(t, 1, c.Pending())
}

func TestSleep_ReturnsFalseWhenDone(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	done := make(chan struct{})
	close(done)
	assert.False(t, Sleep(c, time.Hour, done))
	assert.True(t, Sleep(c, 0, done))
}
