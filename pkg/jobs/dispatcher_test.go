package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversQueuedEmail(t *testing.T) {
	delivered := make(chan Email, 1)
	d := NewDispatcher(func(_ context.Context, e Email) error {
		delivered <- e
		return nil
	}, DispatcherConfig{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	require.NoError(t, d.Enqueue(Email{To: "vol@example.org", Subject: "Event approved", Body: "hi"}))

	select {
	case e := <-delivered:
		assert.Equal(t, "vol@example.org", e.To)
		assert.Equal(t, "Event approved", e.Subject)
	case <-time.After(2 * time.Second):
		t.Fatal("email was not delivered")
	}
}

func TestDispatcherRetriesFailedDelivery(t *testing.T) {
	var attempts int32
	delivered := make(chan struct{}, 1)
	d := NewDispatcher(func(_ context.Context, _ Email) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return errors.New("smtp unavailable")
		}
		delivered <- struct{}{}
		return nil
	}, DispatcherConfig{Workers: 1, MaxRetries: 2, RetryDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	require.NoError(t, d.Enqueue(Email{To: "vol@example.org", Subject: "x", Body: "y"}))

	select {
	case <-delivered:
		assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
	case <-time.After(2 * time.Second):
		t.Fatal("failed delivery was not retried")
	}
}

func TestDispatcherDropsAfterMaxRetries(t *testing.T) {
	var attempts int32
	d := NewDispatcher(func(_ context.Context, _ Email) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("smtp unavailable")
	}, DispatcherConfig{Workers: 1, MaxRetries: 2, RetryDelay: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	require.NoError(t, d.Enqueue(Email{To: "vol@example.org", Subject: "x", Body: "y"}))

	// First attempt plus two retries, then the email is dropped.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) == 3
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	d.Stop()
}

func TestDispatcherEnqueueBeforeStart(t *testing.T) {
	d := NewDispatcher(func(_ context.Context, _ Email) error { return nil }, DispatcherConfig{})

	err := d.Enqueue(Email{To: "vol@example.org"})
	require.Error(t, err)
}
