package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
)

// DefaultQueueSize is the per-subscriber buffer used by Publish
const DefaultQueueSize = 256

// subscriber delivers events to one handler in publish order
type subscriber struct {
	eventType interfaces.EventType
	handler   interfaces.EventHandler
	queue     chan queued
}

type queued struct {
	ctx   context.Context
	event interfaces.Event
}

// Service implements EventService. Each handler has its own queue and
// goroutine, so one slow subscriber cannot reorder or block another.
type Service struct {
	subscribers map[interfaces.EventType][]*subscriber
	mu          sync.RWMutex
	closed      bool
	wg          sync.WaitGroup
	queueSize   int
	logger      arbor.ILogger
}

var _ interfaces.EventService = (*Service)(nil)

// NewService creates a new event service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[interfaces.EventType][]*subscriber),
		queueSize:   DefaultQueueSize,
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("event service is closed")
	}

	sub := &subscriber{
		eventType: eventType,
		handler:   handler,
		queue:     make(chan queued, s.queueSize),
	}
	s.subscribers[eventType] = append(s.subscribers[eventType], sub)

	s.wg.Add(1)
	common.SafeGo(s.logger, "event-subscriber:"+string(eventType), func() {
		defer s.wg.Done()
		s.drain(sub)
	})

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")
	return nil
}

func (s *Service) drain(sub *subscriber) {
	for q := range sub.queue {
		s.deliver(sub, q)
	}
}

// deliver runs one handler call; a panic is logged and the queue keeps draining
func (s *Service) deliver(sub *subscriber, q queued) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("event_type", string(sub.eventType)).
				Msg("Event handler panicked")
		}
	}()
	if err := sub.handler(q.ctx, q.event); err != nil {
		s.logger.Warn().
			Err(err).
			Str("event_type", string(sub.eventType)).
			Msg("Event handler failed")
	}
}

// Publish queues an event for every subscriber without waiting. A full
// subscriber queue drops the event for that subscriber only.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("event service is closed")
	}

	handlers := s.subscribers[event.Type]
	if len(handlers) == 0 {
		return nil
	}

	dropped := 0
	for _, sub := range handlers {
		select {
		case sub.queue <- queued{ctx: ctx, event: event}:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		s.logger.Warn().
			Str("event_type", string(event.Type)).
			Int("dropped", dropped).
			Msg("Subscriber queue full, event dropped")
	}
	return nil
}

// PublishSync calls every handler in subscription order and joins their errors
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	handlers := append([]*subscriber(nil), s.subscribers[event.Type]...)
	s.mu.RUnlock()

	var errs []error
	for _, sub := range handlers {
		if err := sub.handler(ctx, event); err != nil {
			s.logger.Warn().
				Err(err).
				Str("event_type", string(event.Type)).
				Msg("Event handler failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting events and waits for queued ones to be delivered
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, subs := range s.subscribers {
		for _, sub := range subs {
			close(sub.queue)
		}
	}
	s.subscribers = make(map[interfaces.EventType][]*subscriber)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Event service closed")
	return nil
}
