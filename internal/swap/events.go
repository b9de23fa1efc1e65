package swap

import (
	"sync"

	"github.com/tidepool-exchange/tidepool/internal/storage"
)

// StatusUpdate is published whenever a swap changes state.
type StatusUpdate struct {
	ID     string `json:"id"`
	Status Status `json:"status"`

	// TransactionID is set on transaction related transitions.
	TransactionID string `json:"transactionId,omitempty"`
}

// InvoiceExpiry is published when a pending swap's invoice ran out and the
// hold invoice was canceled. Swap is the record after the transition.
type InvoiceExpiry struct {
	ID   string               `json:"id"`
	Swap *storage.ReverseSwap `json:"swap"`
}

// EventBus fans swap events out to subscribers. Each event kind has its own
// typed subscription; payloads never pass through an untyped layer.
// Subscription is expected during startup; publishing is safe concurrently.
type EventBus struct {
	mu            sync.RWMutex
	statusUpdate  []func(StatusUpdate)
	invoiceExpiry []func(InvoiceExpiry)
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// OnStatusUpdate registers a subscriber for swap state transitions.
func (b *EventBus) OnStatusUpdate(fn func(StatusUpdate)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusUpdate = append(b.statusUpdate, fn)
}

// OnInvoiceExpiry registers a subscriber for invoice expirations.
func (b *EventBus) OnInvoiceExpiry(fn func(InvoiceExpiry)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invoiceExpiry = append(b.invoiceExpiry, fn)
}

// PublishStatusUpdate delivers a state transition to all subscribers.
func (b *EventBus) PublishStatusUpdate(update StatusUpdate) {
	b.mu.RLock()
	subscribers := b.statusUpdate
	b.mu.RUnlock()

	for _, fn := range subscribers {
		fn(update)
	}
}

// PublishInvoiceExpiry delivers an invoice expiration to all subscribers.
func (b *EventBus) PublishInvoiceExpiry(event InvoiceExpiry) {
	b.mu.RLock()
	subscribers := b.invoiceExpiry
	b.mu.RUnlock()

	for _, fn := range subscribers {
		fn(event)
	}
}
