package notifier

import (
	"sync"

	"storefront-svc/models"

	"go.uber.org/zap"
)

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// behind loses events; the durable record is the order_status_history table.
const subscriberBuffer = 16

// Notifier is a process-local publish/subscribe broadcaster for order
// status events. It is constructed once in main and injected; there is no
// package-level instance. It does not persist events and does not fan out
// across processes - Kafka covers that path.
type Notifier struct {
	mu     sync.RWMutex
	nextID int
	global map[int]chan models.OrderEvent
	scoped map[int]map[int]chan models.OrderEvent // order id -> subscriber id -> channel
	closed bool
	logger *zap.Logger
}

func New(logger *zap.Logger) *Notifier {
	return &Notifier{
		global: make(map[int]chan models.OrderEvent),
		scoped: make(map[int]map[int]chan models.OrderEvent),
		logger: logger,
	}
}

// Subscribe registers a listener for events on a single order. The returned
// cancel func is idempotent and must be called when the consumer goes away.
func (n *Notifier) Subscribe(orderID int) (<-chan models.OrderEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan models.OrderEvent, subscriberBuffer)
	if n.closed {
		close(ch)
		return ch, func() {}
	}

	n.nextID++
	id := n.nextID
	if n.scoped[orderID] == nil {
		n.scoped[orderID] = make(map[int]chan models.OrderEvent)
	}
	n.scoped[orderID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if subs, ok := n.scoped[orderID]; ok {
				if c, ok := subs[id]; ok {
					delete(subs, id)
					close(c)
				}
				if len(subs) == 0 {
					delete(n.scoped, orderID)
				}
			}
		})
	}
	return ch, cancel
}

// SubscribeAll registers a listener for events on every order.
func (n *Notifier) SubscribeAll() (<-chan models.OrderEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan models.OrderEvent, subscriberBuffer)
	if n.closed {
		close(ch)
		return ch, func() {}
	}

	n.nextID++
	id := n.nextID
	n.global[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if c, ok := n.global[id]; ok {
				delete(n.global, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish fans the event out to global listeners and to listeners scoped to
// the event's order. Sends never block: a full subscriber drops the event.
func (n *Notifier) Publish(event models.OrderEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return
	}
	for _, ch := range n.global {
		n.send(ch, event)
	}
	for _, ch := range n.scoped[event.OrderID] {
		n.send(ch, event)
	}
}

func (n *Notifier) send(ch chan models.OrderEvent, event models.OrderEvent) {
	select {
	case ch <- event:
	default:
		n.logger.Warn("Dropping event for slow subscriber",
			zap.Int("order_id", event.OrderID),
			zap.String("status", event.Status.String()),
		)
	}
}

// Subscribers returns the number of live scoped subscriptions.
func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	count := 0
	for _, subs := range n.scoped {
		count += len(subs)
	}
	return count
}

// Close shuts down all subscriber channels. Publish becomes a no-op.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.global {
		delete(n.global, id)
		close(ch)
	}
	for orderID, subs := range n.scoped {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
		delete(n.scoped, orderID)
	}
}
