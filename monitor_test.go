package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorIdleUntilFirstSubscriber(t *testing.T) {
	var reads int32
	read := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&reads, 1)
		return 1, nil
	}
	m := NewMonitor(read, WatchNever[int](), "idle test")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&reads))

	out, _ := m.Get(context.Background())
	assert.True(t, out.IsActive())
}

func TestMonitorFetchesOnFirstSubscribe(t *testing.T) {
	read := func(ctx context.Context) (string, error) {
		return "hello", nil
	}
	m := NewMonitor(read, WatchNever[string](), "fetch test")

	changed := make(chan struct{}, 1)
	unsub := m.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsub()

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("expected a fetch to complete")
	}

	out, _ := m.Get(context.Background())
	v, ok := out.Value()
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestMonitorReadFailureSetsErrorWithoutKillingWatcher(t *testing.T) {
	m := NewMonitor(func(ctx context.Context) (int, error) {
		return 0, errors.New("read failed")
	}, WatchNever[int](), "err test")

	done := make(chan struct{})
	unsub := m.Subscribe(func() { close(done) })
	defer unsub()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected a fetch notification")
	}

	out, _ := m.Get(context.Background())
	assert.True(t, out.IsError())
}

func TestMonitorRefreshTriggersRefetch(t *testing.T) {
	var value int32 = 1
	read := func(ctx context.Context) (int32, error) {
		return atomic.LoadInt32(&value), nil
	}

	var refreshFn func()
	watch := func(ctx context.Context, refresh func()) error {
		refreshFn = refresh
		<-ctx.Done()
		return ctx.Err()
	}

	m := NewMonitor(read, watch, "refresh test")
	m.RefreshWindow = time.Millisecond

	updates := make(chan int32, 4)
	unsub := m.Subscribe(func() {
		out, _ := m.Get(context.Background())
		v, ok := out.Value()
		if ok {
			select {
			case updates <- v:
			default:
			}
		}
	})
	defer unsub()

	<-updates // initial fetch

	atomic.StoreInt32(&value, 2)
	require.Eventually(t, func() bool { return refreshFn != nil }, time.Second, time.Millisecond)
	refreshFn()

	require.Eventually(t, func() bool {
		out, _ := m.Get(context.Background())
		v, _ := out.Value()
		return v == 2
	}, time.Second, time.Millisecond)
}

func TestMonitorStopsWatchingOnLastUnsubscribe(t *testing.T) {
	watchStarted := make(chan struct{}, 1)
	watchStopped := make(chan struct{}, 1)
	watch := func(ctx context.Context, refresh func()) error {
		select {
		case watchStarted <- struct{}{}:
		default:
		}
		<-ctx.Done()
		select {
		case watchStopped <- struct{}{}:
		default:
		}
		return ctx.Err()
	}

	m := NewMonitor(func(ctx context.Context) (int, error) { return 1, nil }, watch, "stop test")
	unsub := m.Subscribe(func() {})

	select {
	case <-watchStarted:
	case <-time.After(time.Second):
		t.Fatal("expected watch to start")
	}

	unsub()

	select {
	case <-watchStopped:
	case <-time.After(time.Second):
		t.Fatal("expected watch to stop")
	}
}
