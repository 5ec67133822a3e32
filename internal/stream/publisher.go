package stream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/passbi/busrace/internal/logger"
	"github.com/passbi/busrace/internal/models"
)

// DefaultInterval is the time between refresh cycles of one subscription
const DefaultInterval = 15 * time.Second

// BusSource is the cache contract a subscription polls
type BusSource interface {
	GetAvailableBuses(ctx context.Context, operator, clientName string) ([]models.EnrichedVehicle, error)
}

// Emitter writes one event to the client. A non-nil error means the client
// is gone and ends the subscription.
type Emitter func(models.UpdateEvent) error

// Observer is notified of subscription lifecycle and emitted events
type Observer interface {
	StreamEvent(isError bool)
	SubscriptionOpened()
	SubscriptionClosed()
}

// Subscription describes one connected client
type Subscription struct {
	ID        string    `json:"id"`
	Operator  string    `json:"operator"`
	StartedAt time.Time `json:"started_at"`
	Events    int       `json:"events"`
}

// Publisher drives per-client refresh cycles
type Publisher struct {
	source   BusSource
	interval time.Duration
	observer Observer
	log      logger.Logger
	now      func() time.Time

	mu     sync.Mutex
	active map[string]*Subscription
}

// NewPublisher creates a publisher polling source every interval
func NewPublisher(source BusSource, interval time.Duration, observer Observer, log logger.Logger) *Publisher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{
		source:   source,
		interval: interval,
		observer: observer,
		log:      log,
		now:      time.Now,
		active:   make(map[string]*Subscription),
	}
}

// Subscribe runs one cycle immediately and then one per interval until ctx
// is cancelled or emit fails. A failed cycle emits an error event and the
// subscription carries on. Cancelling ctx stops the timer but does not
// abort a refresh already running inside the cache.
func (p *Publisher) Subscribe(ctx context.Context, operator, clientName string, emit Emitter) error {
	sub := p.open(operator)
	defer p.close(sub)

	log := p.log.With("subscription", sub.ID, "operator", operator)
	log.Debug("Subscription opened")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.cycle(ctx, sub, clientName, emit); err != nil {
			log.Debug("Subscription closed by client", "error", err)
			return err
		}

		select {
		case <-ctx.Done():
			log.Debug("Subscription cancelled")
			return nil
		case <-ticker.C:
		}
	}
}

// Active lists open subscriptions, oldest first
func (p *Publisher) Active() []Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Subscription, 0, len(p.active))
	for _, s := range p.active {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (p *Publisher) cycle(ctx context.Context, sub *Subscription, clientName string, emit Emitter) error {
	// a departed client must not spend upstream quota
	if ctx.Err() != nil {
		return nil
	}

	buses, err := p.source.GetAvailableBuses(ctx, sub.Operator, clientName)
	if ctx.Err() != nil {
		return nil
	}

	var ev models.UpdateEvent
	if err != nil {
		p.log.Warn("Stream refresh failed", "subscription", sub.ID, "operator", sub.Operator, "error", err)
		ev = models.UpdateEvent{Error: err.Error()}
	} else {
		ev = models.UpdateEvent{Operator: sub.Operator, AvailableBuses: buses, UpdatedAt: p.now()}
	}

	if err := emit(ev); err != nil {
		return err
	}

	p.mu.Lock()
	sub.Events++
	p.mu.Unlock()
	if p.observer != nil {
		p.observer.StreamEvent(ev.IsError())
	}
	return nil
}

func (p *Publisher) open(operator string) *Subscription {
	sub := &Subscription{ID: uuid.NewString(), Operator: operator, StartedAt: p.now()}

	p.mu.Lock()
	p.active[sub.ID] = sub
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.SubscriptionOpened()
	}
	return sub
}

func (p *Publisher) close(sub *Subscription) {
	p.mu.Lock()
	delete(p.active, sub.ID)
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.SubscriptionClosed()
	}
}
