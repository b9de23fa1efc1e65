package swap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/google/uuid"

	"github.com/tidepool-exchange/tidepool/internal/chain"
	"github.com/tidepool-exchange/tidepool/internal/lightning"
	"github.com/tidepool-exchange/tidepool/internal/storage"
	"github.com/tidepool-exchange/tidepool/internal/wallet"
	"github.com/tidepool-exchange/tidepool/pkg/helpers"
	"github.com/tidepool-exchange/tidepool/pkg/logging"
)

var (
	ErrUnknownCurrency   = errors.New("currency is not configured")
	ErrNoLightning       = errors.New("currency has no off-chain backend")
	ErrPreimageMismatch  = errors.New("preimage does not match the payment hash")
	ErrSwapNotRefundable = errors.New("timeout height not reached")
)

// ReverseSwapRepository is the persistence surface the manager needs.
type ReverseSwapRepository interface {
	SaveReverseSwap(swap *storage.ReverseSwap) error
	GetReverseSwap(id string) (*storage.ReverseSwap, error)
	FindReverseSwaps(statuses []string) ([]*storage.ReverseSwap, error)
	SetReverseSwapStatus(id, status string) (*storage.ReverseSwap, error)
}

// Manager drives reverse swaps from creation to settlement or refund.
type Manager struct {
	registry *chain.Registry
	repo     ReverseSwapRepository
	wallets  map[string]wallet.Provider
	keys     *wallet.KeyProvider
	events   *EventBus
	log      *logging.Logger
}

// NewManager wires the lifecycle engine.
func NewManager(logger *logging.Logger, registry *chain.Registry, repo ReverseSwapRepository, wallets map[string]wallet.Provider, keys *wallet.KeyProvider, events *EventBus) *Manager {
	return &Manager{
		registry: registry,
		repo:     repo,
		wallets:  wallets,
		keys:     keys,
		events:   events,
		log:      logger.Component("swap"),
	}
}

// CreateReverseSwapParams are the caller supplied parameters of a new
// reverse swap.
type CreateReverseSwapParams struct {
	PairID    string
	OrderSide OrderSide

	// Invoice is the hold invoice the counterparty will pay.
	Invoice string

	// ClaimPubKey is the counterparty's compressed claim key, hex encoded.
	ClaimPubKey string

	// OnchainAmount is the value locked up on chain, in minor units.
	OnchainAmount uint64

	// TimeoutBlockDelta is added to the current height to fix the absolute
	// refund timeout.
	TimeoutBlockDelta uint32
}

// CreatedReverseSwap is the result handed back to the caller.
type CreatedReverseSwap struct {
	ID                 string
	LockupAddress      string
	RedeemScript       string
	TimeoutBlockHeight uint32
}

// CreateReverseSwap sets up a new reverse swap: it decodes the hold invoice,
// derives a fresh refund key, builds the swap script and persists the record.
func (m *Manager) CreateReverseSwap(ctx context.Context, params CreateReverseSwapParams) (*CreatedReverseSwap, error) {
	base, quote, err := SplitPairID(params.PairID)
	if err != nil {
		return nil, err
	}

	chainSymbol := ChainCurrency(base, quote, params.OrderSide, true)
	currency, ok := m.registry.Get(chainSymbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, chainSymbol)
	}

	invoice, err := lightning.DecodeInvoice(params.Invoice)
	if err != nil {
		return nil, err
	}

	claimPubKey, err := hex.DecodeString(params.ClaimPubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid claim pubkey: %w", err)
	}

	height, err := currency.Client.GetBlockCount(ctx)
	if err != nil {
		return nil, err
	}
	timeoutHeight := uint32(height) + params.TimeoutBlockDelta

	refundKey, keyIndex, err := m.keys.NextKey()
	if err != nil {
		return nil, err
	}

	script, err := BuildScript(invoice.PaymentHash, claimPubKey, refundKey.PubKey().SerializeCompressed(), timeoutHeight)
	if err != nil {
		return nil, err
	}

	lockupAddress, err := Address(script, OutputBech32, currency.Params)
	if err != nil {
		return nil, err
	}

	record := &storage.ReverseSwap{
		ID:                 uuid.NewString(),
		PairID:             params.PairID,
		OrderSide:          int(params.OrderSide),
		Status:             string(StatusSwapCreated),
		Invoice:            params.Invoice,
		PreimageHash:       hex.EncodeToString(invoice.PaymentHash),
		KeyIndex:           keyIndex,
		ClaimPubKey:        params.ClaimPubKey,
		RedeemScript:       hex.EncodeToString(script),
		LockupAddress:      lockupAddress,
		OnchainAmount:      params.OnchainAmount,
		TimeoutBlockHeight: timeoutHeight,
	}
	if err := m.repo.SaveReverseSwap(record); err != nil {
		return nil, err
	}

	m.log.Info("created reverse swap",
		"id", record.ID, "pair", params.PairID, "lockup", lockupAddress, "timeout", timeoutHeight)
	m.events.PublishStatusUpdate(StatusUpdate{ID: record.ID, Status: StatusSwapCreated})

	return &CreatedReverseSwap{
		ID:                 record.ID,
		LockupAddress:      lockupAddress,
		RedeemScript:       record.RedeemScript,
		TimeoutBlockHeight: timeoutHeight,
	}, nil
}

// SendLockupTransaction pays the swap's on-chain amount to the lockup address
// and records the funding details. The resulting state stays subject to
// invoice expiry; only settlement or refund leaves the expiry window.
func (m *Manager) SendLockupTransaction(ctx context.Context, id string, satPerVbyte float64) (*wallet.SentTransaction, error) {
	record, err := m.repo.GetReverseSwap(id)
	if err != nil {
		return nil, err
	}

	chainSymbol, err := m.chainSymbol(record)
	if err != nil {
		return nil, err
	}
	provider, ok := m.wallets[chainSymbol]
	if !ok {
		return nil, fmt.Errorf("%w: no wallet for %s", ErrUnknownCurrency, chainSymbol)
	}

	sent, err := provider.SendToAddress(ctx, record.LockupAddress, record.OnchainAmount, satPerVbyte)
	if err != nil {
		return nil, err
	}

	record.Status = string(StatusMinerFeePaid)
	record.TransactionID = sent.TransactionID
	if sent.Vout != nil {
		record.TransactionVout = *sent.Vout
	}
	if sent.Fee != nil {
		record.MinerFee = *sent.Fee
	}
	if err := m.repo.SaveReverseSwap(record); err != nil {
		return nil, err
	}

	m.log.Info("sent lockup transaction", "id", id, "txid", sent.TransactionID)
	m.events.PublishStatusUpdate(StatusUpdate{
		ID:            id,
		Status:        StatusMinerFeePaid,
		TransactionID: sent.TransactionID,
	})

	return sent, nil
}

// SettleReverseSwap releases the hold invoice after the preimage was revealed
// on chain.
func (m *Manager) SettleReverseSwap(ctx context.Context, id, preimageHex string) error {
	record, err := m.repo.GetReverseSwap(id)
	if err != nil {
		return err
	}

	preimage, err := hex.DecodeString(preimageHex)
	if err != nil {
		return fmt.Errorf("invalid preimage: %w", err)
	}

	expectedHash, err := hex.DecodeString(record.PreimageHash)
	if err != nil {
		return err
	}
	actualHash := sha256.Sum256(preimage)
	if !helpers.ConstantTimeCompare(actualHash[:], expectedHash) {
		return ErrPreimageMismatch
	}

	client, err := m.lightningClient(record)
	if err != nil {
		return err
	}
	if err := client.SettleInvoice(ctx, preimage); err != nil {
		return fmt.Errorf("settle invoice: %w", err)
	}

	record.Status = string(StatusInvoiceSettled)
	record.Preimage = preimageHex
	if err := m.repo.SaveReverseSwap(record); err != nil {
		return err
	}

	m.log.Info("settled reverse swap", "id", id)
	m.events.PublishStatusUpdate(StatusUpdate{ID: id, Status: StatusInvoiceSettled})

	return nil
}

// RefundReverseSwap reclaims the lockup output after the timeout height
// passed: it cancels the hold invoice, spends the output back to the wallet
// and marks the swap refunded.
func (m *Manager) RefundReverseSwap(ctx context.Context, id string, feePerVbyte uint64) (string, error) {
	record, err := m.repo.GetReverseSwap(id)
	if err != nil {
		return "", err
	}

	chainSymbol, err := m.chainSymbol(record)
	if err != nil {
		return "", err
	}
	currency, ok := m.registry.Get(chainSymbol)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCurrency, chainSymbol)
	}

	height, err := currency.Client.GetBlockCount(ctx)
	if err != nil {
		return "", err
	}
	if uint32(height) < record.TimeoutBlockHeight {
		return "", fmt.Errorf("%w: height %d, timeout %d", ErrSwapNotRefundable, height, record.TimeoutBlockHeight)
	}

	if client, err := m.lightningClient(record); err == nil {
		expectedHash, _ := hex.DecodeString(record.PreimageHash)
		if err := client.CancelInvoice(ctx, expectedHash); err != nil {
			m.log.Warn("canceling hold invoice failed", "id", id, "error", err)
		}
	}

	rawHex, err := m.broadcastRefund(ctx, record, currency, feePerVbyte)
	if err != nil {
		return "", err
	}

	record.Status = string(StatusTransactionRefunded)
	if err := m.repo.SaveReverseSwap(record); err != nil {
		return "", err
	}

	m.log.Info("refunded reverse swap", "id", id)
	m.events.PublishStatusUpdate(StatusUpdate{ID: id, Status: StatusTransactionRefunded})

	return rawHex, nil
}

// broadcastRefund builds, signs and broadcasts the refund transaction for
// either chain family.
func (m *Manager) broadcastRefund(ctx context.Context, record *storage.ReverseSwap, currency *chain.Currency, feePerVbyte uint64) (string, error) {
	script, err := hex.DecodeString(record.RedeemScript)
	if err != nil {
		return "", err
	}
	refundKey, err := m.keys.DeriveKey(record.KeyIndex)
	if err != nil {
		return "", err
	}

	lockupTx, err := currency.Client.GetRawTransactionVerbose(ctx, record.TransactionID)
	if err != nil {
		return "", err
	}

	destinationAddress, err := currency.Client.GetNewAddress(ctx)
	if err != nil {
		return "", err
	}
	destinationScript, err := m.addressScript(ctx, currency, destinationAddress)
	if err != nil {
		return "", err
	}

	var rawHex string
	if currency.IsConfidential() {
		rawHex, err = RefundLiquid(lockupTx.Hex, script, refundKey, destinationScript, feePerVbyte, record.TimeoutBlockHeight, currency.AssetHash)
	} else {
		rawHex, err = RefundStandard(lockupTx.Hex, script, refundKey, destinationScript, feePerVbyte, record.TimeoutBlockHeight)
	}
	if err != nil {
		return "", err
	}

	if _, err := currency.Client.BroadcastTransaction(ctx, rawHex); err != nil {
		return "", err
	}
	return rawHex, nil
}

// addressScript resolves an address to its scriptPubKey. Confidential
// addresses are resolved through the node so blinded forms work too.
func (m *Manager) addressScript(ctx context.Context, currency *chain.Currency, address string) ([]byte, error) {
	if confidential, ok := currency.Client.(chain.ConfidentialClient); ok {
		info, err := confidential.GetAddressInfo(ctx, address)
		if err != nil {
			return nil, err
		}
		if info.ScriptPubKeyHex != "" {
			return hex.DecodeString(info.ScriptPubKeyHex)
		}
	}

	decoded, err := btcutil.DecodeAddress(address, currency.Params)
	if err != nil {
		return nil, fmt.Errorf("decode address %s: %w", address, err)
	}
	return txscript.PayToAddrScript(decoded)
}

func (m *Manager) chainSymbol(record *storage.ReverseSwap) (string, error) {
	base, quote, err := SplitPairID(record.PairID)
	if err != nil {
		return "", err
	}
	return ChainCurrency(base, quote, OrderSide(record.OrderSide), true), nil
}

// lightningClient resolves the off-chain client of the swap's lightning leg.
func (m *Manager) lightningClient(record *storage.ReverseSwap) (lightning.Client, error) {
	return resolveLightning(m.registry, record.PairID, OrderSide(record.OrderSide))
}

// resolveLightning looks up the off-chain client of a pair's lightning leg.
func resolveLightning(registry *chain.Registry, pairID string, side OrderSide) (lightning.Client, error) {
	base, quote, err := SplitPairID(pairID)
	if err != nil {
		return nil, err
	}

	symbol := LightningCurrency(base, quote, side, true)
	currency, ok := registry.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, symbol)
	}
	if currency.Lightning == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoLightning, symbol)
	}
	return currency.Lightning, nil
}
