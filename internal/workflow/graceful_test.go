package workflow

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/imtaco/audio-rooms/internal/log"
)

func TestCleanupRunsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	ok := waitShutdown(ctx, make(chan os.Signal), log.NewTest(t), func(ctx context.Context) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		ran = true
	}, time.Second)

	assert.True(t, ok)
	assert.True(t, ran)
}

func TestCleanupRunsOnSignal(t *testing.T) {
	sigs := make(chan os.Signal, 1)
	sigs <- syscall.SIGTERM

	ok := waitShutdown(context.Background(), sigs, log.NewTest(t), func(context.Context) {}, time.Second)
	assert.True(t, ok)
}

func TestCleanupTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok := waitShutdown(ctx, make(chan os.Signal), log.NewTest(t), func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
	}, 10*time.Millisecond)
	assert.False(t, ok)
}

func TestSecondSignalForcesExit(t *testing.T) {
	sigs := make(chan os.Signal, 2)
	sigs <- os.Interrupt
	sigs <- os.Interrupt

	release := make(chan struct{})
	defer close(release)
	ok := waitShutdown(context.Background(), sigs, log.NewTest(t), func(context.Context) {
		<-release
	}, time.Minute)
	assert.False(t, ok)
}

func TestCleanupPanicIsRecovered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok := waitShutdown(ctx, make(chan os.Signal), log.NewTest(t), func(context.Context) {
		panic("boom")
	}, time.Second)
	assert.True(t, ok)
}
