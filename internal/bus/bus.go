// Package bus fans events out to subscribers over typed channels. The event
// kinds are a fixed enumeration so handlers can be exhaustive; there is no
// string-keyed emitter to typo against.
package bus

import (
	"sync"
	"time"

	"quotefeed/internal/model"
)

// Kind enumerates every event the core emits.
type Kind string

const (
	KindCollected      Kind = "market-data-collected"
	KindValidated      Kind = "market-data-validated"
	KindNormalized     Kind = "market-data-normalized"
	KindDataReady      Kind = "market-data-ready"
	KindHistorical     Kind = "historical-data"
	KindProviderError  Kind = "provider-error"
	KindHealthUpdated  Kind = "health-status-updated"
	KindAlertTriggered Kind = "alert-triggered"
	KindAlertResolved  Kind = "alert-resolved"
)

// Event carries exactly one payload matching its Kind.
type Event struct {
	Kind     Kind
	At       time.Time
	Point    *model.MarketDataPoint
	Bars     []model.HistoricalDataPoint
	Health   *model.SystemHealth
	Alert    *model.Alert
	Provider string
	Err      string
}

// Bus is an in-process broadcaster. Publishing never blocks: a subscriber
// whose buffer is full misses the event, which keeps a slow transport from
// stalling collection.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber with the given buffer size and
// returns its channel plus a cancel func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has room.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// SubscriberCount reports the number of attached subscribers; the health
// checker compares it against the configured ceiling.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
