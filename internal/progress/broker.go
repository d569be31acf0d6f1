package progress

import (
	"log"
	"sync"
	"time"
)

// Connect flow steps
const (
	StepOAuth    = "oauth"
	StepTokens   = "tokens"
	StepAds      = "ads"
	StepGA4      = "ga4"
	StepGTM      = "gtm"
	StepComplete = "complete"
	StepError    = "error"
)

// Step statuses
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Event is one step-level status update of a connect operation. Events are
// transient: delivered to active subscribers only, never persisted.
type Event struct {
	Step      string    `json:"step"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const subscriberBuffer = 16

type channel struct {
	subscribers map[chan Event]struct{}
	openedAt    time.Time

	// explicit marks a channel opened by a connect flow, as opposed to one
	// a subscriber opened implicitly by attaching early. Only explicit
	// channels outlive their last subscriber.
	explicit bool
}

// Broker is a per-customer in-process broadcast primitive. One connect
// operation owns a channel from Open to Close; subscribers that attach after
// an event was published have missed it and should poll connection status
// instead.
type Broker struct {
	mu       sync.Mutex
	channels map[int]*channel
}

// NewBroker creates a progress broker
func NewBroker() *Broker {
	return &Broker{
		channels: make(map[int]*channel),
	}
}

// Open creates the customer's channel if absent. Safe to call repeatedly.
func (b *Broker) Open(customerID int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, exists := b.channels[customerID]
	if !exists {
		ch = &channel{
			subscribers: make(map[chan Event]struct{}),
			openedAt:    time.Now(),
		}
		b.channels[customerID] = ch
	}
	ch.explicit = true
}

// Publish delivers an event to the customer's current subscribers. A slow
// subscriber whose buffer is full loses the event rather than blocking the
// connect flow.
func (b *Broker) Publish(customerID int, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch, exists := b.channels[customerID]
	if !exists {
		return
	}

	for sub := range ch.subscribers {
		select {
		case sub <- event:
		default:
			log.Printf("Progress: dropping event %s/%s for slow subscriber of customer %d", event.Step, event.Status, customerID)
		}
	}
}

// Close completes the customer's channel: all subscriber channels are closed
// and the channel is removed from the registry
func (b *Broker) Close(customerID int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, exists := b.channels[customerID]
	if !exists {
		return
	}

	for sub := range ch.subscribers {
		close(sub)
	}
	delete(b.channels, customerID)
}

// Subscribe attaches to the customer's channel, opening it if absent so a
// subscriber may attach before the connect starts. The returned cancel func
// detaches; after Close the returned channel is closed by the broker.
func (b *Broker) Subscribe(customerID int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, exists := b.channels[customerID]
	if !exists {
		ch = &channel{
			subscribers: make(map[chan Event]struct{}),
			openedAt:    time.Now(),
		}
		b.channels[customerID] = ch
	}

	sub := make(chan Event, subscriberBuffer)
	ch.subscribers[sub] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		current, ok := b.channels[customerID]
		if !ok {
			return
		}
		if _, attached := current.subscribers[sub]; attached {
			delete(current.subscribers, sub)
			close(sub)
		}
		// An implicitly opened channel with nobody left on it would sit in
		// the registry until the stale sweep; drop it now.
		if !current.explicit && len(current.subscribers) == 0 {
			delete(b.channels, customerID)
		}
	}
	return sub, cancel
}

// EvictStale drops channels older than maxAge. A connect that never reached
// a terminal state would otherwise leak its registry entry forever.
func (b *Broker) EvictStale(maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := 0
	cutoff := time.Now().Add(-maxAge)
	for customerID, ch := range b.channels {
		if ch.openedAt.Before(cutoff) {
			for sub := range ch.subscribers {
				close(sub)
			}
			delete(b.channels, customerID)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of open channels
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels)
}
