package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func testSwap(id, status string) *ReverseSwap {
	return &ReverseSwap{
		ID:                 id,
		PairID:             "BTC/L-BTC",
		OrderSide:          0,
		Status:             status,
		Invoice:            "lnbc1...",
		PreimageHash:       "aa" + id,
		KeyIndex:           3,
		ClaimPubKey:        "02aabb",
		RedeemScript:       "a914",
		LockupAddress:      "bcrt1q" + id,
		OnchainAmount:      100000,
		TimeoutBlockHeight: 500,
	}
}

func TestSaveAndGetReverseSwap(t *testing.T) {
	s := newTestStorage(t)

	swap := testSwap("swap-1", "swap.created")
	if err := s.SaveReverseSwap(swap); err != nil {
		t.Fatalf("SaveReverseSwap: %v", err)
	}

	loaded, err := s.GetReverseSwap("swap-1")
	if err != nil {
		t.Fatalf("GetReverseSwap: %v", err)
	}

	if loaded.PairID != swap.PairID || loaded.Status != swap.Status {
		t.Errorf("loaded swap differs: %+v", loaded)
	}
	if loaded.KeyIndex != 3 || loaded.OnchainAmount != 100000 {
		t.Errorf("numeric fields differ: %+v", loaded)
	}
	if loaded.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestSaveReverseSwapUpsert(t *testing.T) {
	s := newTestStorage(t)

	swap := testSwap("swap-1", "swap.created")
	if err := s.SaveReverseSwap(swap); err != nil {
		t.Fatalf("SaveReverseSwap: %v", err)
	}

	swap.Status = "transaction.mempool"
	swap.TransactionID = "txid"
	swap.TransactionVout = 1
	swap.MinerFee = 210
	if err := s.SaveReverseSwap(swap); err != nil {
		t.Fatalf("SaveReverseSwap update: %v", err)
	}

	loaded, err := s.GetReverseSwap("swap-1")
	if err != nil {
		t.Fatalf("GetReverseSwap: %v", err)
	}
	if loaded.Status != "transaction.mempool" || loaded.TransactionID != "txid" {
		t.Errorf("update not persisted: %+v", loaded)
	}
	if loaded.MinerFee != 210 || loaded.TransactionVout != 1 {
		t.Errorf("transaction details not persisted: %+v", loaded)
	}
}

func TestGetReverseSwapNotFound(t *testing.T) {
	s := newTestStorage(t)

	if _, err := s.GetReverseSwap("missing"); !errors.Is(err, ErrSwapNotFound) {
		t.Fatalf("err = %v, want ErrSwapNotFound", err)
	}
}

func TestFindReverseSwapsByStatus(t *testing.T) {
	s := newTestStorage(t)

	for i, status := range []string{"swap.created", "minerfee.paid", "invoice.settled"} {
		swap := testSwap(string(rune('a'+i)), status)
		swap.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		if err := s.SaveReverseSwap(swap); err != nil {
			t.Fatalf("SaveReverseSwap: %v", err)
		}
	}

	pending, err := s.FindReverseSwaps([]string{"swap.created", "minerfee.paid"})
	if err != nil {
		t.Fatalf("FindReverseSwaps: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("found %d swaps, want 2", len(pending))
	}
	if pending[0].Status != "swap.created" || pending[1].Status != "minerfee.paid" {
		t.Errorf("unexpected order: %s, %s", pending[0].Status, pending[1].Status)
	}

	none, err := s.FindReverseSwaps(nil)
	if err != nil {
		t.Fatalf("FindReverseSwaps(nil): %v", err)
	}
	if len(none) != 0 {
		t.Errorf("empty status filter returned %d swaps", len(none))
	}
}

func TestSetReverseSwapStatus(t *testing.T) {
	s := newTestStorage(t)

	if err := s.SaveReverseSwap(testSwap("swap-1", "swap.created")); err != nil {
		t.Fatalf("SaveReverseSwap: %v", err)
	}

	updated, err := s.SetReverseSwapStatus("swap-1", "invoice.expired")
	if err != nil {
		t.Fatalf("SetReverseSwapStatus: %v", err)
	}
	if updated.Status != "invoice.expired" {
		t.Errorf("status = %s, want invoice.expired", updated.Status)
	}

	if _, err := s.SetReverseSwapStatus("missing", "invoice.expired"); !errors.Is(err, ErrSwapNotFound) {
		t.Fatalf("err = %v, want ErrSwapNotFound", err)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStorage(t)

	value, err := s.GetSetting("key-index")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if value != "" {
		t.Errorf("unset value = %q", value)
	}

	if err := s.SetSetting("key-index", "42"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting("key-index", "43"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}

	value, err = s.GetSetting("key-index")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if value != "43" {
		t.Errorf("value = %q, want 43", value)
	}
}
