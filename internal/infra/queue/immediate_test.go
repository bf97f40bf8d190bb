package queue

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestImmediateQueueDeliversAfterCallerCancels(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		mu   sync.Mutex
		got  []string
		errs []error
	)
	q := NewImmediateQueue(nil)
	q.SetHandler(func(ctx context.Context, name string, payload map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, name+":"+payload["patio_id"].(string))
		errs = append(errs, ctx.Err())
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Enqueue(ctx, "recompute_patio", map[string]any{"patio_id": "p1"}))
	q.Close()

	require.Equal(t, []string{"recompute_patio:p1"}, got)
	require.Equal(t, []error{nil}, errs)
}

func TestImmediateQueueWithoutHandlerDropsJobs(t *testing.T) {
	q := NewImmediateQueue(nil)
	require.NoError(t, q.Enqueue(context.Background(), "recompute_patio", "not a map"))
	q.Close()
}

func TestImmediateQueueNormalizesPayload(t *testing.T) {
	var got map[string]any
	q := NewImmediateQueue(func(_ context.Context, _ string, payload map[string]any) {
		got = payload
	})
	require.NoError(t, q.Enqueue(context.Background(), "job", 42))
	q.Close()
	require.NotNil(t, got)
	require.Empty(t, got)
}
