package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Bus is the event bus contract the rest of the host depends on.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	PublishAsync(event Event)
	Subscribe(filter Filter, handler Handler) *Subscription
	Unsubscribe(subscriptionID string)
	Recent(limit int) []Event
	Query(filter Filter, limit, offset int) ([]Event, int64, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Config tunes the bus.
type Config struct {
	BufferSize   int
	RecentEvents int
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{BufferSize: 256, RecentEvents: 100}
}

type bus struct {
	config  Config
	logger  hclog.Logger
	storage Storage

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	recent        []Event
	running       bool

	ch   chan Event
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewBus creates an event bus. storage may be nil for a purely in-memory bus.
func NewBus(config Config, logger hclog.Logger, storage Storage) Bus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	return &bus{
		config:        config,
		logger:        logger,
		storage:       storage,
		subscriptions: make(map[string]*Subscription),
		recent:        make([]Event, 0, config.RecentEvents),
		ch:            make(chan Event, config.BufferSize),
		stop:          make(chan struct{}),
	}
}

func (b *bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("event bus already running")
	}
	b.running = true
	b.stop = make(chan struct{})
	b.wg.Add(1)
	go b.process()
	b.logger.Info("event bus started", "buffer_size", b.config.BufferSize)
	return nil
}

func (b *bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	close(b.stop)
	close(b.ch)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("event bus stopped")
		return nil
	case <-ctx.Done():
		b.logger.Warn("event bus stop timed out")
		return ctx.Err()
	}
}

func (b *bus) Publish(ctx context.Context, event Event) error {
	if err := b.prepare(&event); err != nil {
		return err
	}
	select {
	case b.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAsync never blocks; if the channel is full the event is dropped
// with a warning.
func (b *bus) PublishAsync(event Event) {
	if err := b.prepare(&event); err != nil {
		b.logger.Warn("dropping event", "error", err)
		return
	}
	select {
	case b.ch <- event:
	default:
		b.logger.Warn("event channel full, dropping event", "type", event.Type, "id", event.ID)
	}
}

func (b *bus) prepare(event *Event) error {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	if !running {
		return fmt.Errorf("event bus is not running")
	}
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return nil
}

func (b *bus) Subscribe(filter Filter, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{
		ID:      uuid.NewString(),
		Filter:  filter,
		Handler: handler,
		Created: time.Now(),
	}
	b.subscriptions[sub.ID] = sub
	return sub
}

func (b *bus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, subscriptionID)
}

func (b *bus) Recent(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.recent) {
		limit = len(b.recent)
	}
	out := make([]Event, limit)
	copy(out, b.recent[len(b.recent)-limit:])
	return out
}

func (b *bus) Query(filter Filter, limit, offset int) ([]Event, int64, error) {
	if b.storage != nil {
		return b.storage.Get(context.Background(), filter, limit, offset)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var filtered []Event
	for _, e := range b.recent {
		if filter.Matches(e) {
			filtered = append(filtered, e)
		}
	}
	total := int64(len(filtered))
	if offset >= len(filtered) {
		return []Event{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], total, nil
}

func (b *bus) process() {
	defer b.wg.Done()
	for event := range b.ch {
		b.dispatch(event)
	}
}

func (b *bus) dispatch(event Event) {
	b.mu.Lock()
	b.recent = append(b.recent, event)
	if max := b.config.RecentEvents; max > 0 && len(b.recent) > max {
		b.recent = b.recent[len(b.recent)-max:]
	}
	subs := make([]*Subscription, 0, len(b.subscriptions))
	for _, s := range b.subscriptions {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	if b.storage != nil {
		if err := b.storage.Store(context.Background(), event); err != nil {
			b.logger.Error("failed to persist event", "type", event.Type, "error", err)
		}
	}

	for _, sub := range subs {
		if !sub.Filter.Matches(event) {
			continue
		}
		if err := sub.Handler(event); err != nil {
			b.logger.Warn("event handler failed", "subscription", sub.ID, "type", event.Type, "error", err)
		}
	}
}
