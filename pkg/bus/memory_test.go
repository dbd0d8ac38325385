package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentorproj/sentor/pkg/frame"
)

func testFrame(id string) frame.Frame {
	return frame.NewAlertFrame(id, 1, frame.Alert{ID: "a1", Severity: frame.SeverityHigh, Summary: "test"})
}

func TestMemoryBusPublishSubscribeAck(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	sub, err := b.Subscribe(ctx, "alerts", "orchestrator")
	require.NoError(t, err)

	require.NoError(t, b.Emit(ctx, "alerts", testFrame("inc-1")))

	select {
	case d := <-sub.Deliveries():
		assert.Equal(t, "inc-1", d.Frame.IncidentID)
		require.NoError(t, d.Ack(ctx))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	snap := b.Metrics()
	assert.Equal(t, uint64(1), snap.Published)
	assert.Equal(t, uint64(1), snap.Consumed)
	assert.Equal(t, uint64(1), snap.Acked)
}

// TestMemoryBusDLQAfterMaxDeliver: a handler that
// naks every attempt is dead-lettered exactly once after max_deliver
// failures, with the main "stream" left empty.
func TestMemoryBusDLQAfterMaxDeliver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDeliver = 3
	b := NewMemoryBus(cfg)
	ctx := context.Background()
	require.NoError(t, b.Connect(ctx))

	sub, err := b.Subscribe(ctx, "alerts", "flaky-consumer")
	require.NoError(t, err)

	require.NoError(t, b.Emit(ctx, "alerts", testFrame("inc-dlq")))

	nakCount := 0
	deadline := time.After(2 * time.Second)
	for nakCount < cfg.MaxDeliver {
		select {
		case d := <-sub.Deliveries():
			nakCount++
			require.NoError(t, d.Nak(ctx, 0))
		case <-deadline:
			t.Fatalf("timed out after %d naks", nakCount)
		}
	}

	// Give the final async redeliver/DLQ goroutine a moment to land.
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, cfg.MaxDeliver, nakCount)

	dlq := b.DLQ()
	require.Len(t, dlq, 1)
	assert.Equal(t, cfg.MaxDeliver, dlq[0].NumDelivered)
	assert.Equal(t, "cs.alerts", dlq[0].OriginalSubject)

	snap := b.Metrics()
	assert.Equal(t, uint64(1), snap.DeadLettered)

	// No further deliveries: the main "stream" no longer holds the message.
	select {
	case <-sub.Deliveries():
		t.Fatal("unexpected extra delivery after dead-lettering")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusNotConnected(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	err := b.Emit(context.Background(), "alerts", testFrame("inc-1"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSubjectNaming(t *testing.T) {
	assert.Equal(t, "cs.alerts", Subject("alerts"))
}
