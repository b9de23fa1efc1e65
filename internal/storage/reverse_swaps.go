package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrSwapNotFound = errors.New("swap not found")

// ReverseSwap is a persisted reverse swap: the counterparty holds an invoice,
// the engine locks coins on chain and settles once the preimage surfaces.
type ReverseSwap struct {
	ID        string `json:"id"`
	PairID    string `json:"pairId"`
	OrderSide int    `json:"orderSide"`
	Status    string `json:"status"`

	Invoice      string `json:"invoice"`
	PreimageHash string `json:"preimageHash"`
	// Preimage is set once the claim transaction revealed it. Never put on
	// the event feed.
	Preimage string `json:"-"`

	// KeyIndex is the derivation index of the refund key.
	KeyIndex    uint32 `json:"keyIndex"`
	ClaimPubKey string `json:"claimPublicKey"`

	RedeemScript       string `json:"redeemScript"`
	LockupAddress      string `json:"lockupAddress"`
	OnchainAmount      uint64 `json:"onchainAmount"`
	TimeoutBlockHeight uint32 `json:"timeoutBlockHeight"`

	TransactionID   string `json:"transactionId,omitempty"`
	TransactionVout uint32 `json:"transactionVout,omitempty"`
	MinerFee        uint64 `json:"minerFee,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const reverseSwapColumns = `
	id, pair_id, order_side, status, invoice, preimage_hash, preimage,
	key_index, claim_pubkey, redeem_script, lockup_address, onchain_amount,
	timeout_block_height, transaction_id, transaction_vout, miner_fee,
	created_at, updated_at`

// SaveReverseSwap inserts or updates a reverse swap record.
func (s *Storage) SaveReverseSwap(swap *ReverseSwap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if swap.CreatedAt.IsZero() {
		swap.CreatedAt = now
	}
	swap.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO reverse_swaps (`+reverseSwapColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			preimage = excluded.preimage,
			transaction_id = excluded.transaction_id,
			transaction_vout = excluded.transaction_vout,
			miner_fee = excluded.miner_fee,
			updated_at = excluded.updated_at
	`,
		swap.ID, swap.PairID, swap.OrderSide, swap.Status,
		swap.Invoice, swap.PreimageHash, swap.Preimage,
		swap.KeyIndex, swap.ClaimPubKey, swap.RedeemScript,
		swap.LockupAddress, swap.OnchainAmount, swap.TimeoutBlockHeight,
		swap.TransactionID, swap.TransactionVout, swap.MinerFee,
		swap.CreatedAt.Unix(), swap.UpdatedAt.Unix(),
	)
	return err
}

// GetReverseSwap loads a reverse swap by id.
func (s *Storage) GetReverseSwap(id string) (*ReverseSwap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+reverseSwapColumns+` FROM reverse_swaps WHERE id = ?`, id)
	return scanReverseSwap(row)
}

// FindReverseSwaps returns all reverse swaps in one of the given statuses,
// ordered by creation time.
func (s *Storage) FindReverseSwaps(statuses []string) ([]*ReverseSwap, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]interface{}, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}

	rows, err := s.db.Query(`
		SELECT `+reverseSwapColumns+` FROM reverse_swaps
		WHERE status IN (`+placeholders+`)
		ORDER BY created_at ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []*ReverseSwap
	for rows.Next() {
		swap, err := scanReverseSwap(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, swap)
	}
	return swaps, rows.Err()
}

// SetReverseSwapStatus updates the status of a swap and returns the updated
// record.
func (s *Storage) SetReverseSwapStatus(id, status string) (*ReverseSwap, error) {
	s.mu.Lock()

	result, err := s.db.Exec(`
		UPDATE reverse_swaps SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().Unix(), id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if affected, err := result.RowsAffected(); err != nil {
		s.mu.Unlock()
		return nil, err
	} else if affected == 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSwapNotFound, id)
	}

	s.mu.Unlock()
	return s.GetReverseSwap(id)
}

// NextKeyIndex returns the first unused key derivation index, recovered from
// the stored swaps on startup.
func (s *Storage) NextKeyIndex() (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(key_index) FROM reverse_swaps`).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return uint32(max.Int64) + 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReverseSwap(row rowScanner) (*ReverseSwap, error) {
	var swap ReverseSwap
	var preimage, txID sql.NullString
	var txVout, minerFee sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&swap.ID, &swap.PairID, &swap.OrderSide, &swap.Status,
		&swap.Invoice, &swap.PreimageHash, &preimage,
		&swap.KeyIndex, &swap.ClaimPubKey, &swap.RedeemScript,
		&swap.LockupAddress, &swap.OnchainAmount, &swap.TimeoutBlockHeight,
		&txID, &txVout, &minerFee,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	if err != nil {
		return nil, err
	}

	swap.Preimage = preimage.String
	swap.TransactionID = txID.String
	swap.TransactionVout = uint32(txVout.Int64)
	swap.MinerFee = uint64(minerFee.Int64)
	swap.CreatedAt = time.Unix(createdAt, 0)
	swap.UpdatedAt = time.Unix(updatedAt, 0)

	return &swap, nil
}
