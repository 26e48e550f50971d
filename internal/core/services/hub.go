package services

import (
	"log/slog"
	"sync"

	"github.com/manthysbr/runagent/internal/core/domain"
)

// globalTopic receives a signal for every job completion.
const globalTopic domain.JobID = "*"

// NotificationHub delivers completion wake-ups. A signal carries no payload:
// receivers must re-read the registry. Each subscription has a one-slot buffer
// and sends never block, so bursts coalesce into a single wake-up.
type NotificationHub struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[domain.JobID][]chan struct{}
	closed bool
}

func NewNotificationHub(logger *slog.Logger) *NotificationHub {
	return &NotificationHub{
		logger: logger,
		subs:   make(map[domain.JobID][]chan struct{}),
	}
}

// Subscribe returns a channel woken when jobID completes. The channel is
// closed by the returned unsubscribe func or when the hub closes.
func (h *NotificationHub) Subscribe(jobID domain.JobID) (<-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan struct{}, 1)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[jobID] = append(h.subs[jobID], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			subscribers := h.subs[jobID]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					h.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(h.subs[jobID]) == 0 {
				delete(h.subs, jobID)
			}
		})
	}

	return ch, unsub
}

// subscribeAll is woken by every completion.
func (h *NotificationHub) subscribeAll() (<-chan struct{}, func()) {
	return h.Subscribe(globalTopic)
}

// Notify wakes the subscribers of jobID and every global subscriber.
func (h *NotificationHub) Notify(jobID domain.JobID) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	topics := []domain.JobID{jobID}
	if jobID != globalTopic {
		topics = append(topics, globalTopic)
	}

	delivered := 0
	for _, topic := range topics {
		for _, ch := range h.subs[topic] {
			select {
			case ch <- struct{}{}:
				delivered++
			default:
				// a wake-up is already pending
			}
		}
	}
	h.logger.Debug("completion signalled", "job_id", jobID, "woken", delivered)
}

// Close wakes every subscriber by closing its channel.
func (h *NotificationHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for topic, subscribers := range h.subs {
		for _, ch := range subscribers {
			close(ch)
		}
		delete(h.subs, topic)
	}
}

// Subscribers returns the number of live subscriptions for jobID.
func (h *NotificationHub) Subscribers(jobID domain.JobID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}
