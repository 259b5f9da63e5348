package pionengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
)

func TestSubmitGivesUpOnFullQueue(t *testing.T) {
	p := newPool(1, log.NewTest(t))
	p.wait = 20 * time.Millisecond
	release := make(chan struct{})
	defer func() {
		close(release)
		_ = p.close()
	}()

	started := make(chan struct{})
	require.NoError(t, p.submit(context.Background(), func() {
		close(started)
		<-release
	}))
	<-started
	for i := 0; i < cap(p.jobs); i++ {
		require.NoError(t, p.submit(context.Background(), func() { <-release }))
	}

	begin := time.Now()
	err := p.submit(context.Background(), func() {})
	assert.True(t, errors.Is(err, errors.ErrTimeout))
	assert.Less(t, time.Since(begin), time.Second)
}

func TestSubmitAfterClose(t *testing.T) {
	p := newPool(2, log.NewTest(t))
	require.NoError(t, p.close())

	err := p.submit(context.Background(), func() {})
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestPanickingJobKeepsWorker(t *testing.T) {
	p := newPool(1, log.NewTest(t))
	defer func() { _ = p.close() }()

	require.NoError(t, p.submit(context.Background(), func() { panic("boom") }))
	ran := make(chan struct{})
	require.NoError(t, p.submit(context.Background(), func() { close(ran) }))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker died with the panicking job")
	}
}
