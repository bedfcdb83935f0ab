package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTasksWaitForRunningWork(t *testing.T) {
	var bg tasks
	var done atomic.Bool
	release := make(chan struct{})

	bg.Go(func() {
		<-release
		done.Store(true)
	})

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bg.Wait(short), context.DeadlineExceeded)
	assert.False(t, done.Load())

	close(release)
	assert.NoError(t, bg.Wait(context.Background()))
	assert.True(t, done.Load())
}

func TestTasksWaitWithNothingRunning(t *testing.T) {
	var bg tasks
	assert.NoError(t, bg.Wait(context.Background()))
}
