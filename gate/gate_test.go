package gate

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestStartsBuffering(t *testing.T) {
	g := New()
	assert.Equal(t, Buffering, g.Current())
	assert.Check(t, !g.Listening())
}

func TestAcquireRequiresIdle(t *testing.T) {
	g := New()
	assert.Check(t, !g.Acquire(), "a buffering gate must reject acquisition")

	g.Store(Idle)
	assert.Check(t, g.Acquire())
	assert.Equal(t, Buffering, g.Current())
}

func TestOnlyOneAcquireSucceeds(t *testing.T) {
	g := New()
	g.Store(Idle)

	successCh := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			successCh <- g.Acquire()
		}()
	}

	successCount := 0
	for i := 0; i < 10; i++ {
		if <-successCh {
			successCount++
		}
	}
	assert.Equal(t, 1, successCount)
}

func TestSwapReturnsOldState(t *testing.T) {
	g := New()
	old := g.Swap(Idle)
	assert.Equal(t, Buffering, old)
	assert.Check(t, g.Listening())
}
