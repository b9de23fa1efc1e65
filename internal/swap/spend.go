package swap

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"

	"github.com/tidepool-exchange/tidepool/internal/elements"
)

// Offline spend helpers: given a funding transaction, the swap script and the
// key material, they produce a signed, broadcast-ready claim or refund. Used
// by the lifecycle engine and by the rescue command line tool.

// ClaimStandard spends the swap output of a Bitcoin-family funding
// transaction through the preimage path.
func ClaimStandard(lockupTxHex string, script, preimage []byte, key *btcec.PrivateKey, destinationScript []byte, feePerVbyte uint64) (string, error) {
	output, err := standardOutput(lockupTxHex, script, key)
	if err != nil {
		return "", err
	}
	output.Preimage = preimage

	tx, err := ConstructClaimTransaction([]*SpendableOutput{output}, destinationScript, feePerVbyte)
	if err != nil {
		return "", err
	}
	return serializeStandard(tx)
}

// RefundStandard spends the swap output of a Bitcoin-family funding
// transaction through the timeout path.
func RefundStandard(lockupTxHex string, script []byte, key *btcec.PrivateKey, destinationScript []byte, feePerVbyte uint64, timeoutBlockHeight uint32) (string, error) {
	output, err := standardOutput(lockupTxHex, script, key)
	if err != nil {
		return "", err
	}

	tx, err := ConstructRefundTransaction([]*SpendableOutput{output}, destinationScript, feePerVbyte, timeoutBlockHeight)
	if err != nil {
		return "", err
	}
	return serializeStandard(tx)
}

// ClaimLiquid spends the swap output of a confidential funding transaction
// through the preimage path.
func ClaimLiquid(lockupTxHex string, script, preimage []byte, key *btcec.PrivateKey, destinationScript []byte, feePerVbyte uint64, assetHash string) (string, error) {
	output, err := liquidOutput(lockupTxHex, script, key)
	if err != nil {
		return "", err
	}
	output.Preimage = preimage

	tx, err := ConstructLiquidClaimTransaction([]*SpendableOutput{output}, destinationScript, feePerVbyte, assetHash)
	if err != nil {
		return "", err
	}
	return tx.SerializeHex()
}

// RefundLiquid spends the swap output of a confidential funding transaction
// through the timeout path.
func RefundLiquid(lockupTxHex string, script []byte, key *btcec.PrivateKey, destinationScript []byte, feePerVbyte uint64, timeoutBlockHeight uint32, assetHash string) (string, error) {
	output, err := liquidOutput(lockupTxHex, script, key)
	if err != nil {
		return "", err
	}

	tx, err := ConstructLiquidRefundTransaction([]*SpendableOutput{output}, destinationScript, feePerVbyte, timeoutBlockHeight, assetHash)
	if err != nil {
		return "", err
	}
	return tx.SerializeHex()
}

func standardOutput(lockupTxHex string, script []byte, key *btcec.PrivateKey) (*SpendableOutput, error) {
	raw, err := hex.DecodeString(lockupTxHex)
	if err != nil {
		return nil, fmt.Errorf("invalid funding transaction: %w", err)
	}

	var lockupTx wire.MsgTx
	if err := lockupTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("parse funding transaction: %w", err)
	}

	found, err := FindOutput(&lockupTx, script)
	if err != nil {
		return nil, err
	}

	return &SpendableOutput{
		TxHash:     lockupTx.TxHash(),
		Vout:       found.Vout,
		Value:      found.Value,
		Type:       found.Type,
		Script:     script,
		PrivateKey: key,
	}, nil
}

func liquidOutput(lockupTxHex string, script []byte, key *btcec.PrivateKey) (*SpendableOutput, error) {
	lockupTx, err := elements.DeserializeHex(lockupTxHex)
	if err != nil {
		return nil, err
	}

	found, err := FindLiquidOutput(lockupTx, script)
	if err != nil {
		return nil, err
	}

	return &SpendableOutput{
		TxHash:     lockupTx.TxHash(),
		Vout:       found.Vout,
		Value:      found.Value,
		Type:       found.Type,
		Script:     script,
		PrivateKey: key,
	}, nil
}

func serializeStandard(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
