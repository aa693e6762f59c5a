// ABOUTME: Registry of running provider event consumers
// ABOUTME: Starts each consumer in a goroutine and tracks it for shutdown

package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Consumer is the consuming surface of a provider plugin.
type Consumer interface {
	StartConsuming(ctx context.Context) error
	StopConsuming() error
}

// Subscriber tracks running consumers keyed by provider ID.
type Subscriber struct {
	mu        sync.Mutex
	consumers map[string]*runningConsumer
	logger    *slog.Logger
}

type runningConsumer struct {
	consumer Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSubscriber creates an empty consumer registry.
func NewSubscriber() *Subscriber {
	return &Subscriber{
		consumers: make(map[string]*runningConsumer),
		logger:    slog.Default().With("component", "events"),
	}
}

// AddConsumer starts the consumer's loop in a goroutine and tracks it.
// Registering the same provider ID twice is an error.
func (s *Subscriber) AddConsumer(providerID string, consumer Consumer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.consumers[providerID]; exists {
		return fmt.Errorf("consumer already registered for provider %s", providerID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rc := &runningConsumer{
		consumer: consumer,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.consumers[providerID] = rc

	go func() {
		defer close(rc.done)
		if err := consumer.StartConsuming(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("consumer stopped with error", "provider_id", providerID, "error", err)
		}
	}()

	s.logger.Info("registered consumer", "provider_id", providerID)
	return nil
}

// RemoveConsumer stops a consumer and forgets it.
// Removing an unknown provider ID is an error.
func (s *Subscriber) RemoveConsumer(providerID string) error {
	s.mu.Lock()
	rc, exists := s.consumers[providerID]
	if exists {
		delete(s.consumers, providerID)
	}
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("no consumer registered for provider %s", providerID)
	}

	return s.stop(providerID, rc)
}

// Stop stops every running consumer.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	consumers := s.consumers
	s.consumers = make(map[string]*runningConsumer)
	s.mu.Unlock()

	for providerID, rc := range consumers {
		if err := s.stop(providerID, rc); err != nil {
			s.logger.Error("stopping consumer failed", "provider_id", providerID, "error", err)
		}
	}
}

// Running reports whether a consumer is registered for the provider.
func (s *Subscriber) Running(providerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.consumers[providerID]
	return exists
}

func (s *Subscriber) stop(providerID string, rc *runningConsumer) error {
	rc.cancel()
	err := rc.consumer.StopConsuming()
	<-rc.done
	s.logger.Info("stopped consumer", "provider_id", providerID)
	if err != nil {
		return fmt.Errorf("stopping consumer for provider %s: %w", providerID, err)
	}
	return nil
}
