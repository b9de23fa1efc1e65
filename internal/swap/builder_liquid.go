package swap

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"

	"github.com/tidepool-exchange/tidepool/internal/elements"
)

var (
	ErrAssetHashRequired = errors.New("confidential spends require the network asset hash")
	ErrBlindedOutput     = errors.New("swap output value is blinded")
)

// FindLiquidOutput scans a confidential funding transaction for the output
// paying the swap script. The output value must be explicit.
func FindLiquidOutput(tx *elements.Transaction, script []byte) (*FoundOutput, error) {
	candidates := []struct {
		program []byte
		typ     OutputType
	}{
		{witnessProgram(script), OutputBech32},
		{legacyProgram(witnessProgram(script)), OutputCompatibility},
		{legacyProgram(script), OutputLegacy},
	}

	for vout, out := range tx.Outputs {
		for _, candidate := range candidates {
			if !bytes.Equal(out.Script, candidate.program) {
				continue
			}
			value, explicit := elements.ExplicitValue(out.Value)
			if !explicit {
				return nil, ErrBlindedOutput
			}
			return &FoundOutput{
				Vout:  uint32(vout),
				Value: value,
				Type:  candidate.typ,
			}, nil
		}
	}

	return nil, ErrSwapOutputNotFound
}

// ConstructLiquidClaimTransaction builds and signs a confidential-chain claim
// spending the outputs through the preimage path. Every output of the
// transaction must carry the network asset, so assetHash is mandatory.
func ConstructLiquidClaimTransaction(outputs []*SpendableOutput, destinationScript []byte, feePerVbyte uint64, assetHash string) (*elements.Transaction, error) {
	for _, output := range outputs {
		if len(output.Preimage) == 0 {
			return nil, ErrPreimageRequired
		}
	}
	return constructLiquidTransaction(outputs, destinationScript, feePerVbyte, 0, assetHash)
}

// ConstructLiquidRefundTransaction builds and signs a confidential-chain
// refund spending the outputs through the timeout path.
func ConstructLiquidRefundTransaction(outputs []*SpendableOutput, destinationScript []byte, feePerVbyte uint64, timeoutBlockHeight uint32, assetHash string) (*elements.Transaction, error) {
	stripped := make([]*SpendableOutput, len(outputs))
	for i, output := range outputs {
		clone := *output
		clone.Preimage = nil
		stripped[i] = &clone
	}
	return constructLiquidTransaction(stripped, destinationScript, feePerVbyte, timeoutBlockHeight, assetHash)
}

func constructLiquidTransaction(outputs []*SpendableOutput, destinationScript []byte, feePerVbyte uint64, lockTime uint32, assetHash string) (*elements.Transaction, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutputsToSpend
	}
	if assetHash == "" {
		return nil, ErrAssetHashRequired
	}

	asset, err := elements.AssetFromHex(assetHash)
	if err != nil {
		return nil, err
	}

	tx := &elements.Transaction{
		Version:  2,
		LockTime: lockTime,
	}

	var totalValue uint64
	for _, output := range outputs {
		totalValue += output.Value
		tx.Inputs = append(tx.Inputs, &elements.TxIn{
			Hash:     output.TxHash,
			Index:    output.Vout,
			Sequence: 0xfffffffd,
		})
	}

	fee := estimateLiquidFee(outputs, len(destinationScript), feePerVbyte)
	if totalValue <= fee {
		return nil, fmt.Errorf("%w: fee %d, value %d", ErrFeeExceedsValue, fee, totalValue)
	}

	tx.Outputs = []*elements.TxOut{
		{
			Asset:  asset,
			Value:  elements.NewExplicitValue(totalValue - fee),
			Nonce:  []byte{0x00},
			Script: destinationScript,
		},
		// The miner fee is a dedicated unscripted output.
		{
			Asset: asset,
			Value: elements.NewExplicitValue(fee),
			Nonce: []byte{0x00},
		},
	}

	if err := signLiquidInputs(tx, outputs); err != nil {
		return nil, err
	}

	return tx, nil
}

func signLiquidInputs(tx *elements.Transaction, outputs []*SpendableOutput) error {
	for i, output := range outputs {
		switch output.Type {
		case OutputBech32, OutputCompatibility:
			sigHash := tx.SegwitSigHash(i, output.Script, elements.NewExplicitValue(output.Value), txscript.SigHashAll)
			signature := ecdsa.Sign(output.PrivateKey, sigHash[:])

			tx.Inputs[i].Witness = [][]byte{
				serializeSignature(signature, txscript.SigHashAll),
				output.Preimage,
				output.Script,
			}

			if output.Type == OutputCompatibility {
				nested, err := txscript.NewScriptBuilder().
					AddData(witnessProgram(output.Script)).
					Script()
				if err != nil {
					return err
				}
				tx.Inputs[i].Script = nested
			}

		case OutputLegacy:
			sigHash := tx.LegacySigHash(i, output.Script, txscript.SigHashAll)
			signature := ecdsa.Sign(output.PrivateKey, sigHash[:])

			scriptSig, err := txscript.NewScriptBuilder().
				AddData(serializeSignature(signature, txscript.SigHashAll)).
				AddData(output.Preimage).
				AddData(output.Script).
				Script()
			if err != nil {
				return err
			}
			tx.Inputs[i].Script = scriptSig

		default:
			return fmt.Errorf("unsupported output type %s", output.Type)
		}
	}

	return nil
}

// estimateLiquidFee bounds the virtual size of the spend, including the
// confidential output encodings and the fee output.
func estimateLiquidFee(outputs []*SpendableOutput, destinationScriptSize int, feePerVbyte uint64) uint64 {
	// Header plus the payment output and the fee output: asset, value and
	// nonce fields are 33, 9 and 1 bytes when explicit.
	weight := 4 * (11 + (33 + 9 + 1 + 1 + destinationScriptSize) + (33 + 9 + 1 + 1))

	for _, output := range outputs {
		weight += 4 * 41

		unlockingSize := maxSignatureSize + 2 + len(output.Preimage) + len(output.Script) + 7
		switch output.Type {
		case OutputBech32:
			weight += unlockingSize
		case OutputCompatibility:
			weight += unlockingSize + 4*36
		default:
			weight += 4 * unlockingSize
		}
	}

	vsize := uint64((weight + 3) / 4)
	return vsize * feePerVbyte
}
