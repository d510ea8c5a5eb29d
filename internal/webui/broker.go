package webui

import "sync"

const subscriberBuffer = 16

// StatusBroker fans status messages out to any number of event-stream
// subscribers. Slow subscribers drop messages rather than block the
// pipeline.
type StatusBroker struct {
	mu   sync.Mutex
	subs map[chan string]struct{}
	last string
}

func NewStatusBroker() *StatusBroker {
	return &StatusBroker{subs: make(map[chan string]struct{})}
}

// Publish delivers a message to every current subscriber and records it
// as the latest status for late joiners.
func (b *StatusBroker) Publish(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = msg
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Last returns the most recently published message.
func (b *StatusBroker) Last() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Subscribe registers a new listener. The returned cancel func must be
// called when the listener goes away.
func (b *StatusBroker) Subscribe() (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}
