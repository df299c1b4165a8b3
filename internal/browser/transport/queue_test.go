// internal/browser/transport/queue_test.go
package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestEventQueue_PreservesOrderAndNeverBlocksProducer(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewEventQueue()

	// Nobody is reading yet; the producer must still get through every push.
	pushed := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			q.Push(i)
		}
		q.Close(Disconnected{TargetID: "t1"})
		close(pushed)
	}()

	select {
	case <-pushed:
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked on a queue with no consumer")
	}

	var got []int
	var final Event
	for ev := range q.C() {
		if n, ok := ev.(int); ok {
			got = append(got, n)
			continue
		}
		final = ev
	}

	require.Len(t, got, 10000)
	for i, n := range got {
		if n != i {
			t.Fatalf("event %d delivered out of order (got %d)", i, n)
		}
	}
	assert.Equal(t, Disconnected{TargetID: "t1"}, final, "the terminating marker is delivered last")
}

func TestEventQueue_PushAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewEventQueue()
	assert.True(t, q.Push("a"))
	q.Close(Disconnected{})
	assert.False(t, q.Push("b"), "a sealed queue rejects new items")
	q.Close(Disconnected{TargetID: "again"})

	var items []Event
	for ev := range q.C() {
		items = append(items, ev)
	}
	assert.Equal(t, []Event{"a", Disconnected{}}, items)
}

func TestEventQueue_StopReleasesPump(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewEventQueue()
	q.Push(1)
	q.Push(2)
	q.Stop()
	q.Stop()

	// The pump exits and closes the channel without delivering anything further.
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-q.C():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
