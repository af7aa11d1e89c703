package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(base)
	lm := NewLockManager(clock)

	unlock, err := lm.Acquire(ctx, "flow:0xabc", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "flow:0xabc", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	other, err := lm.Acquire(ctx, "flow:0xdef", time.Minute)
	require.NoError(t, err)
	other()

	unlock()
	again, err := lm.Acquire(ctx, "flow:0xabc", time.Minute)
	require.NoError(t, err)

	// A stale release must not drop the new holder's lock.
	unlock()
	_, err = lm.Acquire(ctx, "flow:0xabc", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	again()
}

func TestLockManagerExpiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(base)
	lm := NewLockManager(clock)

	first, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	second, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	first()
	_, err = lm.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	second()
}

func TestSignalBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewSignalBus()

	exact, err := bus.Subscribe(ctx, domain.ChannelTransactions)
	require.NoError(t, err)
	wild, err := bus.Subscribe(ctx, "flow*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.ChannelTransactions, []byte("tx")))
	require.NoError(t, bus.Publish(ctx, domain.ChannelFlows, []byte("flow")))

	assert.Equal(t, []byte("tx"), <-exact)
	assert.Equal(t, []byte("flow"), <-wild)
	assert.Empty(t, exact)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamTransactions, []byte(p)))
	}
	msgs, err := bus.StreamRead(ctx, domain.StreamTransactions, "1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", string(msgs[0].Payload))

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-exact
		return !open
	}, time.Second, 10*time.Millisecond)
}
