// Package swap implements the on-chain side of submarine swaps: the
// hash-and-time locked script, claim and refund transaction construction and
// the lifecycle engine driving reverse swaps to settlement.
package swap

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/crypto/ripemd160"
)

var (
	ErrSwapOutputNotFound = errors.New("no output of the transaction pays the swap script")
	ErrMalformedScript    = errors.New("script is not a swap script")
)

// OutputType is the encumbrance wrapping the swap script on chain.
type OutputType int

const (
	// OutputBech32 is a native P2WSH output.
	OutputBech32 OutputType = iota
	// OutputCompatibility is P2WSH nested in P2SH.
	OutputCompatibility
	// OutputLegacy is a plain P2SH output.
	OutputLegacy
)

func (t OutputType) String() string {
	switch t {
	case OutputBech32:
		return "bech32"
	case OutputCompatibility:
		return "compatibility"
	case OutputLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Script holds the parsed components of a swap script.
type Script struct {
	// PreimageHash160 is RIPEMD160(SHA256 preimage hash), as pushed in the script.
	PreimageHash160 []byte
	ClaimPubKey     []byte
	RefundPubKey    []byte
	// TimeoutBlockHeight is the absolute height after which the refund path
	// becomes spendable.
	TimeoutBlockHeight uint32
}

// hash160 is RIPEMD160 over SHA256.
func hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	hasher := ripemd160.New()
	hasher.Write(sha[:])
	return hasher.Sum(nil)
}

// BuildScript assembles the swap script:
//
//	OP_HASH160 <ripemd160(preimageHash)> OP_EQUAL
//	OP_IF
//	    <claimPubKey>
//	OP_ELSE
//	    <timeoutBlockHeight> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	    <refundPubKey>
//	OP_ENDIF
//	OP_CHECKSIG
//
// The claim path reveals the preimage; the refund path opens at the absolute
// timeout height.
func BuildScript(preimageHash, claimPubKey, refundPubKey []byte, timeoutBlockHeight uint32) ([]byte, error) {
	if len(preimageHash) != 32 {
		return nil, fmt.Errorf("preimage hash must be 32 bytes, got %d", len(preimageHash))
	}
	if len(claimPubKey) != 33 {
		return nil, fmt.Errorf("claim pubkey must be 33 bytes, got %d", len(claimPubKey))
	}
	if len(refundPubKey) != 33 {
		return nil, fmt.Errorf("refund pubkey must be 33 bytes, got %d", len(refundPubKey))
	}
	if timeoutBlockHeight == 0 {
		return nil, errors.New("timeout block height must be greater than 0")
	}

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(hash160(preimageHash))
	builder.AddOp(txscript.OP_EQUAL)

	builder.AddOp(txscript.OP_IF)
	builder.AddData(claimPubKey)

	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(timeoutBlockHeight))
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(refundPubKey)

	builder.AddOp(txscript.OP_ENDIF)
	builder.AddOp(txscript.OP_CHECKSIG)

	return builder.Script()
}

// ParseScript extracts the components of a swap script.
func ParseScript(script []byte) (*Script, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)

	expectOp := func(op byte) error {
		if !tokenizer.Next() || tokenizer.Opcode() != op {
			return fmt.Errorf("%w: expected opcode 0x%02x", ErrMalformedScript, op)
		}
		return nil
	}
	expectData := func(size int) ([]byte, error) {
		if !tokenizer.Next() || len(tokenizer.Data()) != size {
			return nil, fmt.Errorf("%w: expected %d byte push", ErrMalformedScript, size)
		}
		return tokenizer.Data(), nil
	}

	parsed := &Script{}
	var err error

	if err = expectOp(txscript.OP_HASH160); err != nil {
		return nil, err
	}
	if parsed.PreimageHash160, err = expectData(ripemd160.Size); err != nil {
		return nil, err
	}
	if err = expectOp(txscript.OP_EQUAL); err != nil {
		return nil, err
	}

	if err = expectOp(txscript.OP_IF); err != nil {
		return nil, err
	}
	if parsed.ClaimPubKey, err = expectData(33); err != nil {
		return nil, err
	}

	if err = expectOp(txscript.OP_ELSE); err != nil {
		return nil, err
	}

	if !tokenizer.Next() {
		return nil, fmt.Errorf("%w: expected timeout height", ErrMalformedScript)
	}
	if op := tokenizer.Opcode(); txscript.IsSmallInt(op) {
		parsed.TimeoutBlockHeight = uint32(txscript.AsSmallInt(op))
	} else {
		data := tokenizer.Data()
		if len(data) == 0 || len(data) > 4 {
			return nil, fmt.Errorf("%w: invalid timeout height push", ErrMalformedScript)
		}
		for i := len(data) - 1; i >= 0; i-- {
			parsed.TimeoutBlockHeight = parsed.TimeoutBlockHeight<<8 | uint32(data[i])
		}
	}

	if err = expectOp(txscript.OP_CHECKLOCKTIMEVERIFY); err != nil {
		return nil, err
	}
	if err = expectOp(txscript.OP_DROP); err != nil {
		return nil, err
	}
	if parsed.RefundPubKey, err = expectData(33); err != nil {
		return nil, err
	}

	if err = expectOp(txscript.OP_ENDIF); err != nil {
		return nil, err
	}
	if err = expectOp(txscript.OP_CHECKSIG); err != nil {
		return nil, err
	}
	if tokenizer.Next() {
		return nil, fmt.Errorf("%w: trailing opcodes", ErrMalformedScript)
	}

	return parsed, nil
}

// witnessProgram returns the P2WSH scriptPubKey of a swap script.
func witnessProgram(script []byte) []byte {
	scriptHash := sha256.Sum256(script)
	program, _ := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(scriptHash[:]).
		Script()
	return program
}

// legacyProgram returns the P2SH scriptPubKey wrapping redeemScript.
func legacyProgram(redeemScript []byte) []byte {
	program, _ := txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(hash160(redeemScript)).
		AddOp(txscript.OP_EQUAL).
		Script()
	return program
}

// OutputScript returns the scriptPubKey of the swap script for the requested
// encumbrance type.
func OutputScript(script []byte, outputType OutputType) []byte {
	switch outputType {
	case OutputBech32:
		return witnessProgram(script)
	case OutputCompatibility:
		return legacyProgram(witnessProgram(script))
	default:
		return legacyProgram(script)
	}
}

// Address encodes the swap output as an address of the given network.
func Address(script []byte, outputType OutputType, params *chaincfg.Params) (string, error) {
	var addr btcutil.Address
	var err error

	switch outputType {
	case OutputBech32:
		scriptHash := sha256.Sum256(script)
		addr, err = btcutil.NewAddressWitnessScriptHash(scriptHash[:], params)
	case OutputCompatibility:
		addr, err = btcutil.NewAddressScriptHash(witnessProgram(script), params)
	default:
		addr, err = btcutil.NewAddressScriptHash(script, params)
	}
	if err != nil {
		return "", fmt.Errorf("encode swap address: %w", err)
	}

	return addr.EncodeAddress(), nil
}

// FoundOutput describes the output of a funding transaction paying the swap.
type FoundOutput struct {
	Vout  uint32
	Value uint64
	Type  OutputType
}

// FindOutput scans a funding transaction for the output paying the swap
// script under any supported encumbrance. The first match wins; a funding
// transaction pays a swap address at most once.
func FindOutput(tx *wire.MsgTx, script []byte) (*FoundOutput, error) {
	candidates := []struct {
		program []byte
		typ     OutputType
	}{
		{witnessProgram(script), OutputBech32},
		{legacyProgram(witnessProgram(script)), OutputCompatibility},
		{legacyProgram(script), OutputLegacy},
	}

	for vout, out := range tx.TxOut {
		for _, candidate := range candidates {
			if bytes.Equal(out.PkScript, candidate.program) {
				return &FoundOutput{
					Vout:  uint32(vout),
					Value: uint64(out.Value),
					Type:  candidate.typ,
				}, nil
			}
		}
	}

	return nil, ErrSwapOutputNotFound
}
