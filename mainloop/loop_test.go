package mainloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New()
	go l.Run(context.Background())
	t.Cleanup(func() {
		l.Stop()
		<-l.Done()
	})
	return l
}

func TestSubmit_RunsInOrderOnOneGoroutine(t *testing.T) {
	l := startLoop(t)

	var (
		mu     sync.Mutex
		got    []int
		active int32
	)
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		require.NoError(t, l.Submit(func() {
			defer wg.Done()
			if atomic.AddInt32(&active, 1) != 1 {
				t.Error("tasks overlapped")
			}
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			atomic.AddInt32(&active, -1)
		}))
	}
	wg.Wait()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSubmit_DoesNotBlockWhileTaskRuns(t *testing.T) {
	l := startLoop(t)

	release := make(chan struct{})
	require.NoError(t, l.Submit(func() { <-release }))

	submitted := make(chan struct{})
	go func() {
		for range 10 {
			_ = l.Submit(func() {})
		}
		close(submitted)
	}()

	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked behind a running task")
	}
	close(release)
}

func TestDo_ReturnsTaskError(t *testing.T) {
	l := startLoop(t)

	want := errors.New("boom")
	err := l.Do(context.Background(), func() error { return want })
	assert.ErrorIs(t, err, want)

	assert.NoError(t, l.Do(context.Background(), func() error { return nil }))
}

func TestDo_ContextCanceled(t *testing.T) {
	l := startLoop(t)

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, l.Submit(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ran := false
	err := l.Do(ctx, func() error { ran = true; return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
}

func TestPanickingTaskDoesNotStopLoop(t *testing.T) {
	l := startLoop(t)

	require.NoError(t, l.Submit(func() { panic("bad task") }))
	assert.NoError(t, l.Do(context.Background(), func() error { return nil }))

	err := l.Do(context.Background(), func() error { panic("bad call") })
	assert.EqualError(t, err, "panic: bad call")
}

func TestStop(t *testing.T) {
	l := New()
	go l.Run(context.Background())

	require.NoError(t, l.Do(context.Background(), func() error { return nil }))
	l.Stop()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.ErrorIs(t, l.Submit(func() {}), ErrStopped)
	assert.ErrorIs(t, l.Do(context.Background(), func() error { return nil }), ErrStopped)
}

func TestRun_ContextDone(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.ErrorIs(t, l.Submit(func() {}), ErrStopped)
}

func TestInline(t *testing.T) {
	ran := false
	require.NoError(t, Inline{}.Do(context.Background(), func() error { ran = true; return nil }))
	assert.True(t, ran)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Inline{}.Do(ctx, func() error { return nil }), context.Canceled)
}
