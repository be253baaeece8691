package signal

import (
	"sync"

	"github.com/google/uuid"
)

// Hub keys live aggregators by attempt so escalation state survives
// client reconnects.
type Hub struct {
	mu      sync.Mutex
	aggs    map[uuid.UUID]*Aggregator
	factory func(examID, attemptID uuid.UUID) *Aggregator
}

// NewHub creates a hub. The factory builds an aggregator wired to the
// termination path for one attempt.
func NewHub(factory func(examID, attemptID uuid.UUID) *Aggregator) *Hub {
	return &Hub{
		aggs:    make(map[uuid.UUID]*Aggregator),
		factory: factory,
	}
}

// Get returns the attempt's aggregator, creating it on first use.
func (h *Hub) Get(examID, attemptID uuid.UUID) *Aggregator {
	h.mu.Lock()
	defer h.mu.Unlock()
	if agg, ok := h.aggs[attemptID]; ok {
		return agg
	}
	agg := h.factory(examID, attemptID)
	h.aggs[attemptID] = agg
	return agg
}

// MarkSubmitted flags the attempt's aggregator, if any, as finished and
// releases it from the hub. A finished attempt never needs escalation
// state again; the aggregator's own submitted flag keeps suppressing a
// grace trigger that is already in flight.
func (h *Hub) MarkSubmitted(attemptID uuid.UUID) {
	h.mu.Lock()
	agg, ok := h.aggs[attemptID]
	delete(h.aggs, attemptID)
	h.mu.Unlock()
	if ok {
		agg.MarkSubmitted()
	}
}

// Drop removes and stops the attempt's aggregator.
func (h *Hub) Drop(attemptID uuid.UUID) {
	h.mu.Lock()
	agg, ok := h.aggs[attemptID]
	delete(h.aggs, attemptID)
	h.mu.Unlock()
	if ok {
		agg.Stop()
	}
}
