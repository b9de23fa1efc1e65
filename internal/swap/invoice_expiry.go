package swap

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/tidepool-exchange/tidepool/internal/chain"
	"github.com/tidepool-exchange/tidepool/internal/lightning"
	"github.com/tidepool-exchange/tidepool/internal/storage"
	"github.com/tidepool-exchange/tidepool/pkg/logging"
)

// DefaultExpiryCheckInterval is how often pending swaps are scanned for
// expired invoices.
const DefaultExpiryCheckInterval = time.Minute

// InvoiceExpiryWatcher cancels the hold invoices of swaps whose payment
// request ran out before being paid. Only swaps still awaiting payment are
// scanned; a failure on one record never blocks the others.
type InvoiceExpiryWatcher struct {
	repo     ReverseSwapRepository
	registry *chain.Registry
	events   *EventBus
	log      *logging.Logger

	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewInvoiceExpiryWatcher creates a watcher. A zero interval falls back to
// DefaultExpiryCheckInterval; a nil clock uses time.Now.
func NewInvoiceExpiryWatcher(logger *logging.Logger, repo ReverseSwapRepository, registry *chain.Registry, events *EventBus, interval time.Duration, now func() time.Time) *InvoiceExpiryWatcher {
	if interval <= 0 {
		interval = DefaultExpiryCheckInterval
	}
	if now == nil {
		now = time.Now
	}

	return &InvoiceExpiryWatcher{
		repo:     repo,
		registry: registry,
		events:   events,
		log:      logger.Component("invoice-expiry"),
		interval: interval,
		now:      now,
	}
}

// Start launches the periodic scan. Calling Start on a running watcher is a
// no-op; a stopped watcher can be started again.
func (w *InvoiceExpiryWatcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(ctx)

	w.log.Info("started", "interval", w.interval)
}

// Stop halts the scan and waits for the current round to finish.
func (w *InvoiceExpiryWatcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()

	w.log.Info("stopped")
}

func (w *InvoiceExpiryWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.checkPendingSwaps(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkPendingSwaps(ctx)
		}
	}
}

// checkPendingSwaps expires every pending swap whose invoice ran out.
func (w *InvoiceExpiryWatcher) checkPendingSwaps(ctx context.Context) {
	pending, err := w.repo.FindReverseSwaps([]string{
		string(StatusSwapCreated),
		string(StatusMinerFeePaid),
	})
	if err != nil {
		w.log.Error("loading pending swaps failed", "error", err)
		return
	}

	for _, record := range pending {
		invoice, err := lightning.DecodeInvoice(record.Invoice)
		if err != nil {
			w.log.Error("decoding invoice failed", "id", record.ID, "error", err)
			continue
		}

		if w.now().Before(invoice.ExpiresAt()) {
			continue
		}

		if err := w.expireSwap(ctx, record, invoice); err != nil {
			w.log.Error("expiring swap failed", "id", record.ID, "error", err)
		}
	}
}

// expireSwap cancels the hold invoice and marks the swap expired.
func (w *InvoiceExpiryWatcher) expireSwap(ctx context.Context, record *storage.ReverseSwap, invoice *lightning.Invoice) error {
	client, err := resolveLightning(w.registry, record.PairID, OrderSide(record.OrderSide))
	if err != nil {
		return err
	}
	if err := client.CancelInvoice(ctx, invoice.PaymentHash); err != nil {
		return err
	}

	updated, err := w.repo.SetReverseSwapStatus(record.ID, string(StatusInvoiceExpired))
	if err != nil {
		return err
	}

	w.log.Info("expired invoice",
		"id", updated.ID, "payment_hash", hex.EncodeToString(invoice.PaymentHash))

	w.events.PublishStatusUpdate(StatusUpdate{ID: updated.ID, Status: StatusInvoiceExpired})
	w.events.PublishInvoiceExpiry(InvoiceExpiry{ID: updated.ID, Swap: updated})

	return nil
}
