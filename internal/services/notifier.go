package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// OrderEventPlaced is emitted once an order and its stock decrements are committed.
	OrderEventPlaced = "order.placed"
	// OrderEventStatusChanged is emitted after every successful status transition.
	OrderEventStatusChanged = "order.status.changed"

	defaultNotifierQueueSize = 256
	notifierPublishTimeout   = 10 * time.Second
)

// OrderEvent is the notification payload delivered to downstream email and SMS workers.
type OrderEvent struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	BuyerID        string    `json:"buyerId"`
	SellerIDs      []string  `json:"sellerIds,omitempty"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	ActorID        string    `json:"actorId,omitempty"`
	Total          string    `json:"total,omitempty"`
	DisplayTotal   string    `json:"displayTotal,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// OrderEventPublisher delivers events to the message bus.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// Notifier is the fire-and-forget notification collaborator. Notify never blocks on delivery.
type Notifier interface {
	Notify(ctx context.Context, event OrderEvent)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, OrderEvent) {}

// QueueNotifierDeps bundles collaborators for the queued notifier.
type QueueNotifierDeps struct {
	Publisher OrderEventPublisher
	QueueSize int
	Locale    string
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// QueueNotifier buffers events on a bounded queue drained by one background worker. A full queue
// drops the event.
type QueueNotifier struct {
	publisher OrderEventPublisher
	printer   *message.Printer
	logger    func(context.Context, string, map[string]any)

	mu     sync.RWMutex
	closed bool
	queue  chan OrderEvent
	done   chan struct{}
}

var _ Notifier = (*QueueNotifier)(nil)

// NewQueueNotifier starts the worker. Close must be called to drain it.
func NewQueueNotifier(deps QueueNotifierDeps) (*QueueNotifier, error) {
	if deps.Publisher == nil {
		return nil, errors.New("notifier: publisher is required")
	}
	size := deps.QueueSize
	if size <= 0 {
		size = defaultNotifierQueueSize
	}
	tag, err := language.Parse(strings.TrimSpace(deps.Locale))
	if err != nil {
		tag = language.AmericanEnglish
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	n := &QueueNotifier{
		publisher: deps.Publisher,
		printer:   message.NewPrinter(tag),
		logger:    logger,
		queue:     make(chan OrderEvent, size),
		done:      make(chan struct{}),
	}
	go n.run()
	return n, nil
}

// Notify enqueues event with a localized display total.
func (n *QueueNotifier) Notify(ctx context.Context, event OrderEvent) {
	if event.DisplayTotal == "" {
		event.DisplayTotal = n.displayTotal(event.Total, event.Currency)
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger(ctx, "notification_dropped", map[string]any{"event": event.Type, "orderId": event.OrderID, "reason": "closed"})
		return
	}
	select {
	case n.queue <- event:
	default:
		n.logger(ctx, "notification_dropped", map[string]any{"event": event.Type, "orderId": event.OrderID, "reason": "queue_full"})
	}
}

// Close stops accepting events and waits for queued ones to publish or ctx to expire.
func (n *QueueNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *QueueNotifier) run() {
	defer close(n.done)
	for event := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), notifierPublishTimeout)
		id, err := n.publisher.PublishOrderEvent(ctx, event)
		cancel()
		if err != nil {
			n.logger(ctx, "notification_publish_failed", map[string]any{
				"event":   event.Type,
				"orderId": event.OrderID,
				"error":   err.Error(),
			})
			continue
		}
		n.logger(ctx, "notification_published", map[string]any{"event": event.Type, "orderId": event.OrderID, "messageId": id})
	}
}

func (n *QueueNotifier) displayTotal(total, code string) string {
	amount, err := decimal.NewFromString(strings.TrimSpace(total))
	if err != nil {
		return ""
	}
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return amount.StringFixed(2)
	}
	// x/text formats only numeric kinds; a string amount renders as NaN
	value, _ := amount.Float64()
	return n.printer.Sprint(currency.Symbol(unit.Amount(value)))
}
