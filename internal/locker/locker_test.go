package locker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWithProjectLock_Serializes(t *testing.T) {
	m := New(time.Minute)

	var inCritical atomic.Int32
	var overlaps atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithProjectLock(context.Background(), "myproj", func(ctx context.Context) error {
				if inCritical.Add(1) > 1 {
					overlaps.Add(1)
				}
				time.Sleep(5 * time.Millisecond)
				inCritical.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("WithProjectLock() err=%v", err)
			}
		}()
	}
	wg.Wait()

	if n := overlaps.Load(); n != 0 {
		t.Fatalf("observed %d overlapping critical sections", n)
	}
}

func TestWithProjectLock_IndependentProjects(t *testing.T) {
	m := New(time.Minute)

	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = m.WithProjectLock(context.Background(), "slow", func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	done := make(chan error, 1)
	go func() {
		done <- m.WithProjectLock(context.Background(), "fast", func(ctx context.Context) error {
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("independent project blocked: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("independent project lock did not proceed")
	}
}

func TestWithProjectLock_BusyTimeout(t *testing.T) {
	m := New(20 * time.Millisecond)

	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = m.WithProjectLock(context.Background(), "myproj", func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	err := m.WithProjectLock(context.Background(), "myproj", func(ctx context.Context) error {
		t.Fatalf("fn must not run when lock is busy")
		return nil
	})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err=%v, want ErrBusy", err)
	}
}

func TestWithProjectLock_CallerCancellation(t *testing.T) {
	m := New(time.Minute)

	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = m.WithProjectLock(context.Background(), "myproj", func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.WithProjectLock(ctx, "myproj", func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}

func TestWithProjectLock_ReleasesOnError(t *testing.T) {
	m := New(time.Minute)

	wantErr := errors.New("boom")
	if err := m.WithProjectLock(context.Background(), "myproj", func(ctx context.Context) error {
		return wantErr
	}); !errors.Is(err, wantErr) {
		t.Fatalf("err=%v, want boom", err)
	}

	// Lock must be free again.
	if err := m.WithProjectLock(context.Background(), "myproj", func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("lock not released after error: %v", err)
	}
}
