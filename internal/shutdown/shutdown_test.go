package shutdown

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWaitReturnsTrueWhenPhasesJoinBeforeDeadline(t *testing.T) {
	c := New(silentLogger(), 2*time.Second)
	c.Go(func() { time.Sleep(20 * time.Millisecond) })

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Stop()
	}()

	assert.True(t, c.Wait(), "expected clean join within deadline")
}

func TestWaitReturnsFalseWhenDeadlineElapsesFirst(t *testing.T) {
	c := New(silentLogger(), 30*time.Millisecond)
	blocker := make(chan struct{})
	c.Go(func() { <-blocker })
	defer close(blocker)

	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Stop()
	}()

	assert.False(t, c.Wait(), "expected deadline to elapse before the blocked phase joins")
}
