package sse

import (
	"context"
	"sync"

	"ms-checkout/internal/models"
)

// AvailabilityEmitter fans availability changes out to the SSE clients watching
// each event. It is an inventory notifier.
type AvailabilityEmitter struct {
	clients map[string][]chan models.AvailabilityChanged
	mu      sync.RWMutex
	buffer  int
}

func NewAvailabilityEmitter() *AvailabilityEmitter {
	return &AvailabilityEmitter{
		clients: make(map[string][]chan models.AvailabilityChanged),
		buffer:  16,
	}
}

// Subscribe registers a client for the event until ctx is done; the channel is
// closed on unsubscribe.
func (e *AvailabilityEmitter) Subscribe(ctx context.Context, eventID string) <-chan models.AvailabilityChanged {
	ch := make(chan models.AvailabilityChanged, e.buffer)

	e.mu.Lock()
	e.clients[eventID] = append(e.clients[eventID], ch)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(eventID, ch)
	}()
	return ch
}

// AvailabilityChanged never blocks the ledger: a client whose buffer is full
// misses the update and catches up on the next one.
func (e *AvailabilityEmitter) AvailabilityChanged(_ context.Context, evt models.AvailabilityChanged) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, ch := range e.clients[evt.EventID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (e *AvailabilityEmitter) remove(eventID string, ch chan models.AvailabilityChanged) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[eventID]
	for i, c := range clients {
		if c == ch {
			e.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			break
		}
	}
	if len(e.clients[eventID]) == 0 {
		delete(e.clients, eventID)
	}
}

// ClientCount returns the number of clients watching an event.
func (e *AvailabilityEmitter) ClientCount(eventID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[eventID])
}
