package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// blockingReverter segura a varredura até release ser fechado
type blockingReverter struct {
	started   chan struct{}
	release   chan struct{}
	startOnce sync.Once

	mu    sync.Mutex
	calls int
}

func (r *blockingReverter) RevertElapsedOrders(ctx context.Context, maxAge time.Duration) (int, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	r.startOnce.Do(func() { close(r.started) })
	<-r.release
	return 0, nil
}

func (r *blockingReverter) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type countingReverter struct {
	calls  int
	maxAge time.Duration
	err    error
}

func (r *countingReverter) RevertElapsedOrders(ctx context.Context, maxAge time.Duration) (int, error) {
	r.calls++
	r.maxAge = maxAge
	return 1, r.err
}

func TestSweepPassesConfiguredMaxAge(t *testing.T) {
	reverter := &countingReverter{}
	reconciler := NewReconciler(reverter, 5*time.Minute, time.Minute)

	reconciler.Sweep(context.Background())

	assert.Equal(t, 1, reverter.calls)
	assert.Equal(t, 5*time.Minute, reverter.maxAge)
}

func TestSweepSkipsWhileAnotherSweepIsRunning(t *testing.T) {
	reverter := &blockingReverter{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	reconciler := NewReconciler(reverter, 5*time.Minute, time.Minute)

	done := make(chan struct{})
	go func() {
		reconciler.Sweep(context.Background())
		close(done)
	}()
	<-reverter.started

	// segunda varredura chega com a primeira ainda em andamento
	reconciler.Sweep(context.Background())
	assert.Equal(t, 1, reverter.callCount())

	close(reverter.release)
	<-done

	// após a primeira terminar, a próxima varredura roda normalmente
	reconciler.Sweep(context.Background())
	assert.Equal(t, 2, reverter.callCount())
}

func TestSweepFailureDoesNotWedgeTheReconciler(t *testing.T) {
	reverter := &countingReverter{err: errors.New("connection refused")}
	reconciler := NewReconciler(reverter, 5*time.Minute, time.Minute)

	reconciler.Sweep(context.Background())
	reconciler.Sweep(context.Background())

	assert.Equal(t, 2, reverter.calls)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	reverter := &countingReverter{}
	reconciler := NewReconciler(reverter, 5*time.Minute, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reconciler.Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after context cancellation")
	}
	assert.GreaterOrEqual(t, reverter.calls, 1)
}
