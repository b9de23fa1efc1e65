package swap

// Status is the lifecycle state of a swap. The wire representation matches
// the event feed payloads.
type Status string

const (
	StatusSwapCreated  Status = "swap.created"
	StatusMinerFeePaid Status = "minerfee.paid"

	StatusTransactionMempool   Status = "transaction.mempool"
	StatusTransactionConfirmed Status = "transaction.confirmed"
	StatusTransactionClaimed   Status = "transaction.claimed"
	StatusTransactionRefunded  Status = "transaction.refunded"

	StatusInvoiceSettled Status = "invoice.settled"
	StatusInvoiceExpired Status = "invoice.expired"

	StatusSwapExpired Status = "swap.expired"
)

// IsTerminal reports whether no further transitions can happen.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusInvoiceSettled, StatusInvoiceExpired,
		StatusTransactionClaimed, StatusTransactionRefunded, StatusSwapExpired:
		return true
	default:
		return false
	}
}

// AwaitingPayment reports whether the swap still waits for its invoice to be
// paid; only these states are subject to invoice expiry.
func (s Status) AwaitingPayment() bool {
	return s == StatusSwapCreated || s == StatusMinerFeePaid
}
