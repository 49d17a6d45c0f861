// Package eventbus fans live notifications out to in-process subscribers.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"stockboard/internal/domain"
	applog "stockboard/internal/log"
)

type EventName string

const (
	StockChanged  EventName = "stock.changed"
	LowStockAlert EventName = "stock.low_alert"
)

// NameFor maps a notification to the event it is published under.
func NameFor(n domain.Notification) (EventName, bool) {
	switch n.Kind {
	case domain.KindStockChanged:
		return StockChanged, true
	case domain.KindLowStockAlert:
		return LowStockAlert, true
	}
	return "", false
}

type Event struct {
	Name         EventName
	Notification domain.Notification
}

// Subscriber receives events on AddressCh. The bus closes AddressCh on shutdown.
type Subscriber struct {
	Name      string
	AddressCh chan<- Event
}

type Publisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}

type subscribers struct {
	names      []string
	addressChs []chan<- Event
}

type Bus struct {
	mu     sync.RWMutex
	events map[EventName]*subscribers
	in     chan Event
	done   chan struct{}
	closed bool
}

// New starts the dispatch loop; it runs until ctx is cancelled, then drains
// what was already published and closes every subscriber channel.
func New(ctx context.Context, wg *sync.WaitGroup, names ...EventName) *Bus {
	b := &Bus{
		events: make(map[EventName]*subscribers, len(names)),
		in:     make(chan Event, 64),
		done:   make(chan struct{}),
	}
	for _, n := range names {
		b.events[n] = &subscribers{}
	}
	wg.Add(1)
	go b.listen(ctx, wg)
	return b
}

func (b *Bus) Subscribe(to EventName, s Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.events[to]
	if !ok {
		return fmt.Errorf("event %q is not registered", to)
	}
	if b.closed {
		return fmt.Errorf("event bus is shut down")
	}
	subs.names = append(subs.names, s.Name)
	subs.addressChs = append(subs.addressChs, s.AddressCh)
	return nil
}

// Publish queues n for delivery. Unknown notification kinds are rejected.
func (b *Bus) Publish(ctx context.Context, n domain.Notification) error {
	name, ok := NameFor(n)
	if !ok {
		return fmt.Errorf("no event for notification kind %q", n.Kind)
	}
	b.mu.RLock()
	_, registered := b.events[name]
	closed := b.closed
	b.mu.RUnlock()
	if !registered {
		return fmt.Errorf("event %q is not registered", name)
	}
	if closed {
		return fmt.Errorf("event bus is shut down")
	}
	select {
	case b.in <- Event{Name: name, Notification: n}:
		return nil
	case <-b.done:
		return fmt.Errorf("event bus is shut down")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) listen(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.closed = true
			b.mu.Unlock()
			close(b.done)
			for {
				select {
				case ev := <-b.in:
					b.broadcast(ev)
				default:
					b.shutdownSubscribers()
					applog.Logger.Info().Msg("event bus stopped")
					return
				}
			}
		case ev := <-b.in:
			b.broadcast(ev)
		}
	}
}

func (b *Bus) broadcast(ev Event) {
	b.mu.RLock()
	subs := b.events[ev.Name]
	names := append([]string(nil), subs.names...)
	chs := append([]chan<- Event(nil), subs.addressChs...)
	b.mu.RUnlock()

	for i, ch := range chs {
		if ch == nil {
			applog.Logger.Warn().Str("subscriber", names[i]).Msg("subscriber channel is nil")
			continue
		}
		ch <- ev
	}
}

func (b *Bus) shutdownSubscribers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := map[chan<- Event]bool{}
	for _, subs := range b.events {
		for _, ch := range subs.addressChs {
			if ch == nil || seen[ch] {
				continue
			}
			seen[ch] = true
			close(ch)
		}
	}
}
