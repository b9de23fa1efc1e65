package swap

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

func testScriptKeys(t *testing.T) (claim, refund *btcec.PrivateKey) {
	t.Helper()

	var err error
	if claim, err = btcec.NewPrivateKey(); err != nil {
		t.Fatalf("generate claim key: %v", err)
	}
	if refund, err = btcec.NewPrivateKey(); err != nil {
		t.Fatalf("generate refund key: %v", err)
	}
	return claim, refund
}

func buildTestScript(t *testing.T, timeoutHeight uint32) (script, preimage []byte, claimKey, refundKey *btcec.PrivateKey) {
	t.Helper()

	claimKey, refundKey = testScriptKeys(t)

	preimage = bytes.Repeat([]byte{0x42}, 32)
	preimageHash := sha256.Sum256(preimage)

	script, err := BuildScript(
		preimageHash[:],
		claimKey.PubKey().SerializeCompressed(),
		refundKey.PubKey().SerializeCompressed(),
		timeoutHeight,
	)
	if err != nil {
		t.Fatalf("BuildScript: %v", err)
	}
	return script, preimage, claimKey, refundKey
}

func TestBuildAndParseScript(t *testing.T) {
	script, preimage, claimKey, refundKey := buildTestScript(t, 123456)

	parsed, err := ParseScript(script)
	if err != nil {
		t.Fatalf("ParseScript: %v", err)
	}

	preimageHash := sha256.Sum256(preimage)
	if !bytes.Equal(parsed.PreimageHash160, hash160(preimageHash[:])) {
		t.Error("preimage hash mismatch")
	}
	if !bytes.Equal(parsed.ClaimPubKey, claimKey.PubKey().SerializeCompressed()) {
		t.Error("claim pubkey mismatch")
	}
	if !bytes.Equal(parsed.RefundPubKey, refundKey.PubKey().SerializeCompressed()) {
		t.Error("refund pubkey mismatch")
	}
	if parsed.TimeoutBlockHeight != 123456 {
		t.Errorf("timeout = %d, want 123456", parsed.TimeoutBlockHeight)
	}
}

func TestBuildScriptValidation(t *testing.T) {
	claimKey, refundKey := testScriptKeys(t)
	claim := claimKey.PubKey().SerializeCompressed()
	refund := refundKey.PubKey().SerializeCompressed()
	hash := make([]byte, 32)

	tests := []struct {
		name          string
		preimageHash  []byte
		claimPubKey   []byte
		refundPubKey  []byte
		timeoutHeight uint32
	}{
		{"short preimage hash", make([]byte, 20), claim, refund, 100},
		{"short claim pubkey", hash, claim[:32], refund, 100},
		{"short refund pubkey", hash, claim, refund[:32], 100},
		{"zero timeout", hash, claim, refund, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildScript(tt.preimageHash, tt.claimPubKey, tt.refundPubKey, tt.timeoutHeight); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseScriptRejectsForeignScripts(t *testing.T) {
	if _, err := ParseScript([]byte{0x51}); !errors.Is(err, ErrMalformedScript) {
		t.Errorf("err = %v, want ErrMalformedScript", err)
	}

	// P2PKH is structurally different.
	p2pkh := append([]byte{0x76, 0xa9, 0x14}, make([]byte, 20)...)
	p2pkh = append(p2pkh, 0x88, 0xac)
	if _, err := ParseScript(p2pkh); !errors.Is(err, ErrMalformedScript) {
		t.Errorf("err = %v, want ErrMalformedScript", err)
	}
}

func TestAddressEncodings(t *testing.T) {
	script, _, _, _ := buildTestScript(t, 800)
	params := &chaincfg.RegressionNetParams

	bech32Addr, err := Address(script, OutputBech32, params)
	if err != nil {
		t.Fatalf("Address bech32: %v", err)
	}
	if !strings.HasPrefix(bech32Addr, params.Bech32HRPSegwit) {
		t.Errorf("bech32 address %q has wrong prefix", bech32Addr)
	}

	for _, typ := range []OutputType{OutputCompatibility, OutputLegacy} {
		addr, err := Address(script, typ, params)
		if err != nil {
			t.Fatalf("Address %s: %v", typ, err)
		}
		if addr == "" || addr == bech32Addr {
			t.Errorf("unexpected %s address %q", typ, addr)
		}
	}
}

func TestFindOutput(t *testing.T) {
	script, _, _, _ := buildTestScript(t, 800)

	for _, typ := range []OutputType{OutputBech32, OutputCompatibility, OutputLegacy} {
		tx := wire.NewMsgTx(2)
		tx.AddTxOut(wire.NewTxOut(5000, []byte{0x6a}))
		tx.AddTxOut(wire.NewTxOut(100000, OutputScript(script, typ)))

		found, err := FindOutput(tx, script)
		if err != nil {
			t.Fatalf("FindOutput %s: %v", typ, err)
		}
		if found.Vout != 1 || found.Value != 100000 || found.Type != typ {
			t.Errorf("FindOutput %s = %+v", typ, found)
		}
	}
}

func TestFindOutputNotFound(t *testing.T) {
	script, _, _, _ := buildTestScript(t, 800)

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(100000, []byte{0x6a}))

	if _, err := FindOutput(tx, script); !errors.Is(err, ErrSwapOutputNotFound) {
		t.Fatalf("err = %v, want ErrSwapOutputNotFound", err)
	}
}
