package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
	block  chan struct{}
}

func (r *recordingAlerter) Send(ctx context.Context, a Alert) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recordingAlerter) sent() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

func TestNotifier_DeliversInBackground(t *testing.T) {
	rec := &recordingAlerter{block: make(chan struct{})}
	n := NewNotifier(rec, testLogger())

	start := time.Now()
	n.Notify(context.Background(), testAlert())
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Notify must not block on delivery")

	close(rec.block)
	n.Wait()
	require.Len(t, rec.sent(), 1)
	assert.Equal(t, AlertTypeStuck, rec.sent()[0].Type)
}

func TestNotifier_SurvivesCancelledCaller(t *testing.T) {
	rec := &recordingAlerter{}
	n := NewNotifier(rec, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Notify(ctx, testAlert())
	n.Wait()

	assert.Len(t, rec.sent(), 1)
}

func TestNotifier_SwallowsDeliveryErrors(t *testing.T) {
	rec := &recordingAlerter{err: errors.New("slack down")}
	n := NewNotifier(rec, testLogger())

	assert.NotPanics(t, func() {
		n.Notify(context.Background(), testAlert())
		n.Wait()
	})
}

func TestNotifier_NilAlerterIsNoop(t *testing.T) {
	n := NewNotifier(nil, testLogger())
	n.Notify(context.Background(), testAlert())
	n.Wait()
}
