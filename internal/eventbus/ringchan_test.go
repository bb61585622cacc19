package eventbus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/btroute/internal/eventbus"
)

func TestRingChannelDropsOldestWhenFull(t *testing.T) {
	rc := eventbus.NewRingChannel[int](2)

	assert.False(t, rc.Send(1))
	assert.False(t, rc.Send(2))
	assert.True(t, rc.Send(3), "a full buffer drops the oldest element")

	assert.Equal(t, 2, <-rc.C())
	assert.Equal(t, 3, <-rc.C())
	assert.Equal(t, 0, rc.Len())
}

func TestRingChannelTrySend(t *testing.T) {
	rc := eventbus.NewRingChannel[string](1)

	assert.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"), "full buffer rejects instead of dropping")
	assert.Equal(t, "a", <-rc.C())
}

func TestRingChannelClose(t *testing.T) {
	rc := eventbus.NewRingChannel[int](4)
	rc.Send(7)
	rc.Close()

	v, ok := <-rc.C()
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = <-rc.C()
	assert.False(t, ok, "closed channel drains then reports closed")
}

func TestRingChannelRejectsNonPositiveCapacity(t *testing.T) {
	assert.Panics(t, func() { eventbus.NewRingChannel[int](0) })
}
