package swap

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/tidepool-exchange/tidepool/internal/elements"
)

const testAssetHash = "5ac9f65c0efcc4775e0baec4ec03abdde22473cd3cf33c0419ca290e0751b225"

func testSpendable(t *testing.T, typ OutputType, withPreimage bool) *SpendableOutput {
	t.Helper()

	script, preimage, claimKey, _ := buildTestScript(t, 800)

	output := &SpendableOutput{
		TxHash:     chainhash.Hash{0x01},
		Vout:       0,
		Value:      100000,
		Type:       typ,
		Script:     script,
		PrivateKey: claimKey,
	}
	if withPreimage {
		output.Preimage = preimage
	}
	return output
}

func testDestinationScript() []byte {
	script, _ := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(make([]byte, 20)).
		Script()
	return script
}

func TestConstructClaimTransaction(t *testing.T) {
	for _, typ := range []OutputType{OutputBech32, OutputCompatibility, OutputLegacy} {
		output := testSpendable(t, typ, true)

		tx, err := ConstructClaimTransaction([]*SpendableOutput{output}, testDestinationScript(), 2)
		if err != nil {
			t.Fatalf("ConstructClaimTransaction %s: %v", typ, err)
		}

		if len(tx.TxIn) != 1 || len(tx.TxOut) != 1 {
			t.Fatalf("%s: %d inputs, %d outputs", typ, len(tx.TxIn), len(tx.TxOut))
		}
		if tx.LockTime != 0 {
			t.Errorf("%s: claim locktime = %d", typ, tx.LockTime)
		}
		if uint64(tx.TxOut[0].Value) >= output.Value {
			t.Errorf("%s: no fee deducted", typ)
		}

		switch typ {
		case OutputBech32:
			if len(tx.TxIn[0].Witness) != 3 {
				t.Errorf("witness stack size %d, want 3", len(tx.TxIn[0].Witness))
			}
			if len(tx.TxIn[0].SignatureScript) != 0 {
				t.Error("bech32 input has a scriptSig")
			}
		case OutputCompatibility:
			if len(tx.TxIn[0].Witness) != 3 || len(tx.TxIn[0].SignatureScript) == 0 {
				t.Error("nested input missing witness or scriptSig")
			}
		case OutputLegacy:
			if len(tx.TxIn[0].Witness) != 0 || len(tx.TxIn[0].SignatureScript) == 0 {
				t.Error("legacy input has unexpected unlocking data")
			}
		}
	}
}

func TestConstructClaimRequiresPreimage(t *testing.T) {
	output := testSpendable(t, OutputBech32, false)

	if _, err := ConstructClaimTransaction([]*SpendableOutput{output}, testDestinationScript(), 2); !errors.Is(err, ErrPreimageRequired) {
		t.Fatalf("err = %v, want ErrPreimageRequired", err)
	}
}

func TestConstructRefundTransaction(t *testing.T) {
	output := testSpendable(t, OutputBech32, true)

	tx, err := ConstructRefundTransaction([]*SpendableOutput{output}, testDestinationScript(), 2, 800)
	if err != nil {
		t.Fatalf("ConstructRefundTransaction: %v", err)
	}

	if tx.LockTime != 800 {
		t.Errorf("locktime = %d, want 800", tx.LockTime)
	}
	if tx.TxIn[0].Sequence == wire.MaxTxInSequenceNum {
		t.Error("refund input sequence is final, locktime would be ignored")
	}
	// The refund path is selected with an empty second stack element.
	if len(tx.TxIn[0].Witness[1]) != 0 {
		t.Error("refund witness carries a preimage")
	}
}

func TestConstructTransactionErrors(t *testing.T) {
	if _, err := ConstructClaimTransaction(nil, testDestinationScript(), 2); !errors.Is(err, ErrNoOutputsToSpend) {
		t.Errorf("err = %v, want ErrNoOutputsToSpend", err)
	}

	dust := testSpendable(t, OutputBech32, true)
	dust.Value = 10
	if _, err := ConstructClaimTransaction([]*SpendableOutput{dust}, testDestinationScript(), 100); !errors.Is(err, ErrFeeExceedsValue) {
		t.Errorf("err = %v, want ErrFeeExceedsValue", err)
	}
}

func TestConstructMultiInputClaim(t *testing.T) {
	first := testSpendable(t, OutputBech32, true)
	second := testSpendable(t, OutputLegacy, true)
	second.TxHash = chainhash.Hash{0x02}

	tx, err := ConstructClaimTransaction([]*SpendableOutput{first, second}, testDestinationScript(), 1)
	if err != nil {
		t.Fatalf("ConstructClaimTransaction: %v", err)
	}

	if len(tx.TxIn) != 2 {
		t.Fatalf("%d inputs, want 2", len(tx.TxIn))
	}
	if uint64(tx.TxOut[0].Value) >= first.Value+second.Value {
		t.Error("no fee deducted from combined value")
	}
}

func TestConstructLiquidClaimTransaction(t *testing.T) {
	output := testSpendable(t, OutputBech32, true)

	tx, err := ConstructLiquidClaimTransaction([]*SpendableOutput{output}, testDestinationScript(), 1, testAssetHash)
	if err != nil {
		t.Fatalf("ConstructLiquidClaimTransaction: %v", err)
	}

	if len(tx.Outputs) != 2 {
		t.Fatalf("%d outputs, want payment and fee", len(tx.Outputs))
	}
	if !tx.Outputs[1].IsFee() {
		t.Error("second output is not the fee output")
	}

	paid, explicit := elements.ExplicitValue(tx.Outputs[0].Value)
	if !explicit {
		t.Fatal("payment value not explicit")
	}
	fee, _ := elements.ExplicitValue(tx.Outputs[1].Value)
	if paid+fee != output.Value {
		t.Errorf("payment %d + fee %d != locked value %d", paid, fee, output.Value)
	}

	if len(tx.Inputs[0].Witness) != 3 {
		t.Errorf("witness stack size %d, want 3", len(tx.Inputs[0].Witness))
	}
}

func TestConstructLiquidRequiresAssetHash(t *testing.T) {
	output := testSpendable(t, OutputBech32, true)

	if _, err := ConstructLiquidClaimTransaction([]*SpendableOutput{output}, testDestinationScript(), 1, ""); !errors.Is(err, ErrAssetHashRequired) {
		t.Fatalf("err = %v, want ErrAssetHashRequired", err)
	}
}

func TestFindLiquidOutput(t *testing.T) {
	script, _, _, _ := buildTestScript(t, 800)
	asset, err := elements.AssetFromHex(testAssetHash)
	if err != nil {
		t.Fatalf("AssetFromHex: %v", err)
	}

	tx := &elements.Transaction{
		Version: 2,
		Outputs: []*elements.TxOut{
			{Asset: asset, Value: elements.NewExplicitValue(1000), Nonce: []byte{0x00}},
			{Asset: asset, Value: elements.NewExplicitValue(250000), Nonce: []byte{0x00}, Script: OutputScript(script, OutputBech32)},
		},
	}

	found, err := FindLiquidOutput(tx, script)
	if err != nil {
		t.Fatalf("FindLiquidOutput: %v", err)
	}
	if found.Vout != 1 || found.Value != 250000 || found.Type != OutputBech32 {
		t.Errorf("FindLiquidOutput = %+v", found)
	}

	// Blinded values cannot be spent.
	tx.Outputs[1].Value = append([]byte{0x08}, make([]byte, 32)...)
	if _, err := FindLiquidOutput(tx, script); !errors.Is(err, ErrBlindedOutput) {
		t.Errorf("err = %v, want ErrBlindedOutput", err)
	}
}

func TestSpendRoundTrip(t *testing.T) {
	script, preimage, claimKey, _ := buildTestScript(t, 800)

	lockup := wire.NewMsgTx(2)
	prevHash := chainhash.Hash{0x03}
	lockup.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	lockup.AddTxOut(wire.NewTxOut(500000, OutputScript(script, OutputBech32)))

	var rawLockup string
	{
		raw, err := serializeStandard(lockup)
		if err != nil {
			t.Fatalf("serialize lockup: %v", err)
		}
		rawLockup = raw
	}

	claimed, err := ClaimStandard(rawLockup, script, preimage, claimKey, testDestinationScript(), 2)
	if err != nil {
		t.Fatalf("ClaimStandard: %v", err)
	}
	if claimed == "" {
		t.Fatal("empty claim transaction")
	}

	if _, err := ClaimStandard(rawLockup, script, preimage, claimKey, testDestinationScript(), 100000); !errors.Is(err, ErrFeeExceedsValue) {
		t.Errorf("err = %v, want ErrFeeExceedsValue", err)
	}
}
