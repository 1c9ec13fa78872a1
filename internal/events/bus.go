// Package events implements the ordered, timestamped pub/sub bus all
// core components broadcast status through. Components never call each
// other synchronously for status; they publish envelopes and move on.
//
// Two delivery modes exist per subscriber:
//   - concurrent fire-and-forget (default)
//   - synchronous, awaited in registration order (for handlers that
//     must observe events in exact sequence, e.g. audit-trail writers)
//
// A subscriber that blocks past the slow-consumer timeout is detached
// and logged; the publisher is never crashed or stalled indefinitely.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"hivecore/internal/logging"
	"hivecore/internal/types"
)

// Well-known event types published by the core.
const (
	EventAgentStatus     = "agent:status"
	EventWorkItemState   = "workitem:state"
	EventAuditRecord     = "audit:record"
	EventDispatchStart   = "dispatch:start"
	EventDispatchSuccess = "dispatch:success"
	EventDispatchFailure = "dispatch:failure"
	EventCircuitOpen     = "circuit:open"
	EventCircuitHalfOpen = "circuit:half_open"
	EventCircuitClose    = "circuit:close"

	// TypeWildcard subscribes to every event type.
	TypeWildcard = "*"
)

// HandlerFunc receives one envelope.
type HandlerFunc func(env types.EventEnvelope)

// Subscription is a handle returned by Subscribe, usable for
// Unsubscribe.
type Subscription struct {
	id        uint64
	eventType string
	sync      bool
	fn        HandlerFunc
	detached  atomic.Bool
}

// Detached reports whether the bus dropped this subscriber for
// exceeding the slow-consumer timeout.
func (s *Subscription) Detached() bool { return s.detached.Load() }

// Bus is a single-publisher-ordered event bus. Sequence numbers are
// strictly increasing with no gaps for the lifetime of the bus.
type Bus struct {
	mu          sync.Mutex
	seq         uint64
	nextSubID   uint64
	subs        map[string][]*Subscription // registration order per type
	slowTimeout time.Duration
	closed      bool
	wg          sync.WaitGroup
}

// NewBus creates a bus with the given slow-consumer timeout. A zero
// timeout falls back to 5s.
func NewBus(slowConsumerTimeout time.Duration) *Bus {
	if slowConsumerTimeout <= 0 {
		slowConsumerTimeout = 5 * time.Second
	}
	return &Bus{
		subs:        make(map[string][]*Subscription),
		slowTimeout: slowConsumerTimeout,
	}
}

// Subscribe registers a fire-and-forget handler for an event type.
// Use TypeWildcard to receive every event.
func (b *Bus) Subscribe(eventType string, fn HandlerFunc) *Subscription {
	return b.subscribe(eventType, fn, false)
}

// SubscribeSync registers a handler awaited inline, in registration
// order, before Publish returns. Required for handlers that must see
// events in exact sequence.
func (b *Bus) SubscribeSync(eventType string, fn HandlerFunc) *Subscription {
	return b.subscribe(eventType, fn, true)
}

func (b *Bus) subscribe(eventType string, fn HandlerFunc, synchronous bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	sub := &Subscription{id: b.nextSubID, eventType: eventType, sync: synchronous, fn: fn}
	b.subs[eventType] = append(b.subs[eventType], sub)
	logging.EventsDebug("Subscribed handler %d to %s (sync=%v)", sub.id, eventType, synchronous)
	return sub
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.eventType]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish stamps the payload with the current time and the next
// sequence number, then delivers to subscribers of the event's type
// and to wildcard subscribers. Sequence numbers are assigned even when
// nobody listens, keeping the stream gap-free for late durable sinks.
func (b *Bus) Publish(eventType string, payload any) types.EventEnvelope {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return types.EventEnvelope{}
	}
	b.seq++
	env := types.EventEnvelope{
		Type:           eventType,
		Timestamp:      time.Now(),
		SequenceNumber: b.seq,
		Payload:        payload,
	}
	// Snapshot under lock; delivery happens outside it. Async
	// deliveries register with the WaitGroup while the lock is still
	// held, so Close can never observe closed=true yet miss an Add.
	targets := make([]*Subscription, 0, len(b.subs[eventType])+len(b.subs[TypeWildcard]))
	for _, sub := range append(append([]*Subscription(nil), b.subs[eventType]...), b.subs[TypeWildcard]...) {
		if sub.detached.Load() {
			continue
		}
		if !sub.sync {
			b.wg.Add(1)
		}
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if sub.sync {
			b.deliver(sub, env, true)
		} else {
			go func(s *Subscription) {
				defer b.wg.Done()
				b.deliver(s, env, false)
			}(sub)
		}
	}
	return env
}

// deliver runs one handler bounded by the slow-consumer timeout. A
// handler that exceeds it is detached; its goroutine is left to finish
// on its own.
func (b *Bus) deliver(sub *Subscription, env types.EventEnvelope, synchronous bool) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.fn(env)
	}()

	timer := time.NewTimer(b.slowTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		sub.detached.Store(true)
		logging.EventsWarn("Detaching slow consumer %d on %s (seq=%d, sync=%v, timeout=%s)",
			sub.id, env.Type, env.SequenceNumber, synchronous, b.slowTimeout)
		b.Unsubscribe(sub)
	}
}

// Sequence returns the last assigned sequence number.
func (b *Bus) Sequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Close stops accepting publishes and waits for in-flight
// fire-and-forget deliveries to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}
