package swap

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrNoOutputsToSpend = errors.New("no outputs to spend")
	ErrFeeExceedsValue  = errors.New("miner fee exceeds the spent value")
	ErrPreimageRequired = errors.New("claiming requires the preimage")
)

// estimated upper bound of a DER signature plus the sighash byte.
const maxSignatureSize = 73

// SpendableOutput is one swap output to be claimed or refunded, together with
// the key material needed to spend it.
type SpendableOutput struct {
	TxHash chainhash.Hash
	Vout   uint32
	Value  uint64
	Type   OutputType

	// Script is the swap script locking the output.
	Script []byte

	PrivateKey *btcec.PrivateKey

	// Preimage opens the claim path; nil on refunds.
	Preimage []byte
}

// ConstructClaimTransaction builds and signs a transaction spending the given
// swap outputs through the preimage path to destinationScript. feePerVbyte is
// the miner fee rate; the fee is deducted from the claimed value.
func ConstructClaimTransaction(outputs []*SpendableOutput, destinationScript []byte, feePerVbyte uint64) (*wire.MsgTx, error) {
	for _, output := range outputs {
		if len(output.Preimage) == 0 {
			return nil, ErrPreimageRequired
		}
	}
	return constructTransaction(outputs, destinationScript, feePerVbyte, 0)
}

// ConstructRefundTransaction builds and signs a transaction spending the given
// swap outputs through the timeout path. The transaction locktime is set to
// timeoutBlockHeight, so it is only valid once that height is reached.
func ConstructRefundTransaction(outputs []*SpendableOutput, destinationScript []byte, feePerVbyte uint64, timeoutBlockHeight uint32) (*wire.MsgTx, error) {
	stripped := make([]*SpendableOutput, len(outputs))
	for i, output := range outputs {
		clone := *output
		clone.Preimage = nil
		stripped[i] = &clone
	}
	return constructTransaction(stripped, destinationScript, feePerVbyte, timeoutBlockHeight)
}

func constructTransaction(outputs []*SpendableOutput, destinationScript []byte, feePerVbyte uint64, lockTime uint32) (*wire.MsgTx, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutputsToSpend
	}

	tx := wire.NewMsgTx(2)
	tx.LockTime = lockTime

	var totalValue uint64
	for _, output := range outputs {
		totalValue += output.Value
		txIn := wire.NewTxIn(wire.NewOutPoint(&output.TxHash, output.Vout), nil, nil)
		// Non-final sequence keeps the locktime enforceable and signals RBF.
		txIn.Sequence = wire.MaxTxInSequenceNum - 2
		tx.AddTxIn(txIn)
	}

	fee := estimateFee(outputs, len(destinationScript), feePerVbyte)
	if totalValue <= fee {
		return nil, fmt.Errorf("%w: fee %d, value %d", ErrFeeExceedsValue, fee, totalValue)
	}

	tx.AddTxOut(wire.NewTxOut(int64(totalValue-fee), destinationScript))

	if err := signInputs(tx, outputs); err != nil {
		return nil, err
	}

	return tx, nil
}

// signInputs signs every input and attaches the unlocking data. The second
// stack element selects the script branch: the preimage opens the claim path,
// an empty push falls through to the refund path.
func signInputs(tx *wire.MsgTx, outputs []*SpendableOutput) error {
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(outputs))
	for i, output := range outputs {
		prevOuts[tx.TxIn[i].PreviousOutPoint] = wire.NewTxOut(
			int64(output.Value),
			OutputScript(output.Script, output.Type),
		)
	}
	sigHashes := txscript.NewTxSigHashes(tx, txscript.NewMultiPrevOutFetcher(prevOuts))

	for i, output := range outputs {
		switch output.Type {
		case OutputBech32, OutputCompatibility:
			signature, err := txscript.RawTxInWitnessSignature(
				tx, sigHashes, i, int64(output.Value),
				output.Script, txscript.SigHashAll, output.PrivateKey,
			)
			if err != nil {
				return fmt.Errorf("sign input %d: %w", i, err)
			}

			tx.TxIn[i].Witness = wire.TxWitness{signature, output.Preimage, output.Script}

			if output.Type == OutputCompatibility {
				// The scriptSig of a nested input pushes the witness program.
				nested, err := txscript.NewScriptBuilder().
					AddData(witnessProgram(output.Script)).
					Script()
				if err != nil {
					return err
				}
				tx.TxIn[i].SignatureScript = nested
			}

		case OutputLegacy:
			signature, err := txscript.RawTxInSignature(
				tx, i, output.Script, txscript.SigHashAll, output.PrivateKey,
			)
			if err != nil {
				return fmt.Errorf("sign input %d: %w", i, err)
			}

			scriptSig, err := txscript.NewScriptBuilder().
				AddData(signature).
				AddData(output.Preimage).
				AddData(output.Script).
				Script()
			if err != nil {
				return err
			}
			tx.TxIn[i].SignatureScript = scriptSig

		default:
			return fmt.Errorf("unsupported output type %s", output.Type)
		}
	}

	return nil
}

// estimateFee computes the miner fee from an upper bound of the virtual size.
func estimateFee(outputs []*SpendableOutput, destinationScriptSize int, feePerVbyte uint64) uint64 {
	// Version, locktime, input and output counts, output value and script.
	weight := 4 * (10 + 9 + destinationScriptSize)

	for _, output := range outputs {
		// Outpoint, scriptSig length prefix, sequence.
		weight += 4 * 41

		unlockingSize := maxSignatureSize + 2 + len(output.Preimage) + len(output.Script) + 5
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

// serializeSignature encodes an ECDSA signature with the sighash flag
// appended, as consumed by script verification.
func serializeSignature(signature *ecdsa.Signature, hashType txscript.SigHashType) []byte {
	return append(signature.Serialize(), byte(hashType))
}
