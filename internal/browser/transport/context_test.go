// internal/browser/transport/context_test.go
package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineContext(t *testing.T) {
	type ctxKey string
	const key ctxKey = "tab"

	t.Run("InheritsValuesFromPrimary", func(t *testing.T) {
		ctx1 := context.WithValue(context.Background(), key, "s1_initial")
		combinedCtx, cancel := CombineContext(ctx1, context.Background())
		defer cancel()

		assert.Equal(t, "s1_initial", combinedCtx.Value(key))
		assert.Nil(t, combinedCtx.Err())
	})

	t.Run("CancelledByPrimary", func(t *testing.T) {
		ctx1, cancel1 := context.WithCancel(context.Background())
		combinedCtx, cancel := CombineContext(ctx1, context.Background())
		defer cancel()

		cancel1()
		assert.Eventually(t, func() bool { return combinedCtx.Err() != nil }, time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, combinedCtx.Err(), context.Canceled)
	})

	t.Run("CancelledBySecondary", func(t *testing.T) {
		ctx2, cancel2 := context.WithCancel(context.Background())
		combinedCtx, cancel := CombineContext(context.Background(), ctx2)
		defer cancel()

		// The target going away must abort an in-flight command.
		cancel2()
		assert.Eventually(t, func() bool { return combinedCtx.Err() != nil }, time.Second, 5*time.Millisecond)
	})

	t.Run("DeadlineFromPrimary", func(t *testing.T) {
		deadline := time.Now().Add(time.Minute)
		ctx1, cancel1 := context.WithDeadline(context.Background(), deadline)
		defer cancel1()

		combinedCtx, cancel := CombineContext(ctx1, context.Background())
		defer cancel()

		got, ok := combinedCtx.Deadline()
		require.True(t, ok)
		assert.True(t, got.Equal(deadline))
	})
}
