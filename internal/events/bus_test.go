package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"hivecore/internal/types"
)

func TestPublish_SequenceStrictlyIncreasingNoGaps(t *testing.T) {
	bus := NewBus(time.Second)
	defer bus.Close()

	var mu sync.Mutex
	var seen []uint64
	bus.SubscribeSync(TypeWildcard, func(env types.EventEnvelope) {
		mu.Lock()
		seen = append(seen, env.SequenceNumber)
		mu.Unlock()
	})

	for i := 0; i < 100; i++ {
		bus.Publish(EventAgentStatus, nil)
	}

	require.Len(t, seen, 100)
	for i, seq := range seen {
		assert.Equal(t, uint64(i+1), seq, "gap or reorder at position %d", i)
	}
}

func TestPublish_AssignsSequenceWithoutSubscribers(t *testing.T) {
	bus := NewBus(time.Second)
	defer bus.Close()

	env1 := bus.Publish("no:listeners", nil)
	env2 := bus.Publish("no:listeners", nil)
	assert.Equal(t, uint64(1), env1.SequenceNumber)
	assert.Equal(t, uint64(2), env2.SequenceNumber)
	assert.False(t, env2.Timestamp.Before(env1.Timestamp))
}

func TestSubscribeSync_RegistrationOrder(t *testing.T) {
	bus := NewBus(time.Second)
	defer bus.Close()

	var order []string
	bus.SubscribeSync("x", func(types.EventEnvelope) { order = append(order, "a") })
	bus.SubscribeSync("x", func(types.EventEnvelope) { order = append(order, "b") })
	bus.SubscribeSync("x", func(types.EventEnvelope) { order = append(order, "c") })

	bus.Publish("x", nil)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestSubscribe_AsyncDelivery(t *testing.T) {
	bus := NewBus(time.Second)

	var wg sync.WaitGroup
	wg.Add(3)
	var mu sync.Mutex
	count := 0
	bus.Subscribe("y", func(types.EventEnvelope) {
		mu.Lock()
		count++
		mu.Unlock()
		wg.Done()
	})

	bus.Publish("y", nil)
	bus.Publish("y", nil)
	bus.Publish("y", nil)
	wg.Wait()
	bus.Close()

	assert.Equal(t, 3, count)
}

func TestSlowConsumer_DetachedNotCrashed(t *testing.T) {
	bus := NewBus(20 * time.Millisecond)

	release := make(chan struct{})
	slow := bus.SubscribeSync("z", func(types.EventEnvelope) { <-release })

	var fastCount int
	bus.SubscribeSync("z", func(types.EventEnvelope) { fastCount++ })

	// First publish detaches the slow consumer; the publisher survives
	// and later subscribers still run.
	bus.Publish("z", nil)
	assert.True(t, slow.Detached())
	assert.Equal(t, 1, fastCount)

	bus.Publish("z", nil)
	assert.Equal(t, 2, fastCount)

	close(release)
	bus.Close()
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(time.Second)
	defer bus.Close()

	calls := 0
	sub := bus.SubscribeSync("u", func(types.EventEnvelope) { calls++ })
	bus.Publish("u", nil)
	bus.Unsubscribe(sub)
	bus.Publish("u", nil)

	assert.Equal(t, 1, calls)
}

func TestWildcardReceivesTypedEvents(t *testing.T) {
	bus := NewBus(time.Second)
	defer bus.Close()

	var all []string
	bus.SubscribeSync(TypeWildcard, func(env types.EventEnvelope) { all = append(all, env.Type) })

	bus.Publish(EventDispatchStart, nil)
	bus.Publish(EventCircuitOpen, nil)
	assert.Equal(t, []string{EventDispatchStart, EventCircuitOpen}, all)
}

func TestClose_ConcurrentWithPublish(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(time.Second)
	bus.Subscribe("c", func(types.EventEnvelope) {})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				bus.Publish("c", nil)
			}
		}()
	}
	// Close races the publishers; every delivery that made it past the
	// closed check must be drained before Close returns.
	bus.Close()
	wg.Wait()
}

func TestClose_DrainsAsyncDeliveries(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(time.Second)
	var mu sync.Mutex
	count := 0
	bus.Subscribe("d", func(types.EventEnvelope) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	for i := 0; i < 50; i++ {
		bus.Publish("d", nil)
	}
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 50, count)
}
