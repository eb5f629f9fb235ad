package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// SenderConfig sizes the background event workers.
type SenderConfig struct {
	Workers        int
	Buffer         int
	PublishTimeout time.Duration
	HandoffTimeout time.Duration
}

func (c SenderConfig) withDefaults() SenderConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
	if c.HandoffTimeout < 0 {
		c.HandoffTimeout = 0
	}
	return c
}

// EventSender publishes events from a bounded worker pool. When the buffer
// stays full past the handoff timeout the event is published inline.
// Failures are logged and never reach the caller.
type EventSender struct {
	cfg       SenderConfig
	publisher EventPublisher
	logger    *log.Logger

	mu     sync.RWMutex
	jobs   chan domain.EventEnvelope
	closed bool
	wg     sync.WaitGroup
}

func NewEventSender(publisher EventPublisher, logger *log.Logger, cfg SenderConfig) *EventSender {
	if publisher == nil {
		panic("publisher is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	cfg = cfg.withDefaults()
	s := &EventSender{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		jobs:      make(chan domain.EventEnvelope, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Debugf("event sender started, workers: %d, buffer: %d", cfg.Workers, cfg.Buffer)
	return s
}

func (s *EventSender) worker(id int) {
	defer s.wg.Done()
	for env := range s.jobs {
		s.publish(env, id)
	}
}

func (s *EventSender) publish(env domain.EventEnvelope, worker int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
	err := s.publisher.Publish(ctx, env)
	cancel()
	if err != nil {
		s.logger.WithFields(log.Fields{
			"event_type": env.Event.Type,
			"entity_id":  env.Event.EntityID,
			"user_id":    env.UserID,
			"worker":     worker,
		}).WithError(err).Error("event publish failed")
	}
}

// Send hands an event to the workers.
func (s *EventSender) Send(env domain.EventEnvelope) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		s.publish(env, -1)
		return
	}
	select {
	case s.jobs <- env:
		s.mu.RUnlock()
		return
	default:
	}
	if s.cfg.HandoffTimeout > 0 {
		timer := time.NewTimer(s.cfg.HandoffTimeout)
		select {
		case s.jobs <- env:
			timer.Stop()
			s.mu.RUnlock()
			return
		case <-timer.C:
		}
	}
	s.mu.RUnlock()

	s.logger.Warn("event buffer saturated; publishing inline")
	s.publish(env, -1)
}

// Close drains queued events and stops the workers.
func (s *EventSender) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	s.wg.Wait()
}

// LogPublisher writes events to the log. It stands in for a queue when the
// server runs on local storage.
type LogPublisher struct {
	Logger *log.Logger
}

func (p LogPublisher) Publish(_ context.Context, env domain.EventEnvelope) error {
	p.Logger.WithFields(log.Fields{
		"event_id":    env.Event.ID,
		"event_type":  env.Event.Type,
		"entity_type": env.Event.EntityType,
		"entity_id":   env.Event.EntityID,
		"user_id":     env.UserID,
	}).Info("event")
	return nil
}

func newEvent(userID, entityType, entityID, eventType string, data any) domain.EventEnvelope {
	ev := domain.Event{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		EntityType: entityType,
		Type:       eventType,
		Timestamp:  eventStamps.stamp(),
	}
	if data != nil {
		if raw, err := sonic.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return domain.EventEnvelope{UserID: userID, Event: ev}
}

// eventClock stamps task events with unix nanoseconds. Stamps never repeat
// or go backwards, even if the wall clock does, so a consumer can order a
// user's events by timestamp alone.
type eventClock struct {
	now  func() time.Time
	last atomic.Int64
}

var eventStamps = &eventClock{now: time.Now}

func (c *eventClock) stamp() int64 {
	for {
		ts := c.now().UnixNano()
		last := c.last.Load()
		if ts <= last {
			ts = last + 1
		}
		if c.last.CompareAndSwap(last, ts) {
			return ts
		}
	}
}
