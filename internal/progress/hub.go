// Package progress fans training progress out to streaming subscribers.
package progress

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dili-feedback-server/internal/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TrainingChannel carries every run's events
const TrainingChannel = "training"

// EventIdle is the last event of a run. Run channels are forgotten once it
// has been delivered.
const EventIdle = "idle"

// RunChannel is the channel dedicated to one run
func RunChannel(runID string) string {
	return TrainingChannel + ":" + runID
}

// Event is one message delivered to subscribers
type Event struct {
	Channel string      `json:"channel"`
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
}

// Publisher accepts events for delivery
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Subscriber receives events for the channels it joined
type Subscriber struct {
	ID       uuid.UUID
	Outbound chan Event
	channels map[string]bool
	done     chan struct{}
	once     sync.Once
}

// Done is closed when the subscriber is removed from the hub
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Hub is an in-process channel -> subscriber map. Slow subscribers lose
// events instead of blocking the publisher.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[*Subscriber]bool
	last          map[string]Event
	closed        bool
	bufferSize    int
	heartbeat     time.Duration
	metrics       *metrics.HTTPMetrics
	log           *logrus.Entry
}

// HubOption customizes a Hub
type HubOption func(*Hub)

// WithBufferSize sets the per-subscriber outbound buffer
func WithBufferSize(n int) HubOption {
	return func(h *Hub) { h.bufferSize = n }
}

// WithHeartbeat sets the keep-alive interval of streams
func WithHeartbeat(d time.Duration) HubOption {
	return func(h *Hub) { h.heartbeat = d }
}

// NewHub creates an empty hub
func NewHub(m *metrics.HTTPMetrics, logger *logrus.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		subscriptions: make(map[string]map[*Subscriber]bool),
		last:          make(map[string]Event),
		bufferSize:    16,
		heartbeat:     15 * time.Second,
		metrics:       m,
		log:           logger.WithField("component", "progress_hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe joins the given channels. The latest event of each channel is
// queued immediately so a late subscriber sees the current state.
func (h *Hub) Subscribe(channels ...string) *Subscriber {
	s := &Subscriber{
		ID:       uuid.New(),
		Outbound: make(chan Event, h.bufferSize),
		channels: make(map[string]bool),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.once.Do(func() { close(s.done) })
		return s
	}
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		s.channels[ch] = true
		subs, ok := h.subscriptions[ch]
		if !ok {
			subs = make(map[*Subscriber]bool)
			h.subscriptions[ch] = subs
		}
		subs[s] = true

		if ev, ok := h.last[ch]; ok {
			select {
			case s.Outbound <- ev:
			default:
			}
		}
	}
	h.log.WithFields(logrus.Fields{"subscriber": s.ID, "channels": channels}).Debug("Progress subscriber joined")
	return s
}

// Unsubscribe removes s from every channel and closes its Done channel
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	for ch := range s.channels {
		if subs, ok := h.subscriptions[ch]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.subscriptions, ch)
			}
		}
	}
	s.channels = make(map[string]bool)
	h.mu.Unlock()

	s.once.Do(func() { close(s.done) })
	h.log.WithField("subscriber", s.ID).Debug("Progress subscriber left")
}

// Broadcast delivers event to the local subscribers of its channel
func (h *Hub) Broadcast(event Event) {
	if event.Channel == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last[event.Channel] = event
	if event.Type == EventIdle && strings.HasPrefix(event.Channel, TrainingChannel+":") {
		delete(h.last, event.Channel)
	}
	for s := range h.subscriptions[event.Channel] {
		select {
		case s.Outbound <- event:
		default:
			h.log.WithFields(logrus.Fields{
				"subscriber": s.ID,
				"channel":    event.Channel,
			}).Warn("Dropping progress event; outbound buffer full")
		}
	}
}

// Close ends every open stream and refuses new subscribers. It is meant to
// run when the HTTP server starts shutting down.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var subs []*Subscriber
	for _, set := range h.subscriptions {
		for s := range set {
			subs = append(subs, s)
			s.channels = make(map[string]bool)
		}
	}
	h.subscriptions = make(map[string]map[*Subscriber]bool)
	h.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() { close(s.done) })
	}
	h.log.WithField("subscribers", len(subs)).Debug("Progress hub closed")
}

// Publish implements Publisher for single-instance deployments
func (h *Hub) Publish(_ context.Context, event Event) {
	h.Broadcast(event)
}

// Last returns the most recent event seen on a channel
func (h *Hub) Last(channel string) (Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ev, ok := h.last[channel]
	return ev, ok
}

// Subscribers counts the subscribers of a channel
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[channel])
}
