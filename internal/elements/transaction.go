// Package elements implements the subset of the Elements transaction format
// the swap engine needs: parsing funding transactions, building explicit
// (unblinded) spending transactions and computing their signature hashes.
// Confidential fields are carried opaquely; only explicit values can be spent.
package elements

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/tidepool-exchange/tidepool/pkg/helpers"
)

// Serialization prefixes of confidential fields.
const (
	prefixNull         = 0x00
	prefixExplicit     = 0x01
	prefixValueCommitA = 0x08
	prefixValueCommitB = 0x09
	prefixAssetCommitA = 0x0a
	prefixAssetCommitB = 0x0b
	prefixNonceCommitA = 0x02
	prefixNonceCommitB = 0x03
)

var (
	ErrMalformedTx      = errors.New("malformed elements transaction")
	ErrNotExplicit      = errors.New("confidential field is not explicit")
	ErrInvalidAssetHash = errors.New("invalid asset hash")
)

// TxIn is one input of an Elements transaction.
type TxIn struct {
	Hash     chainhash.Hash
	Index    uint32
	Script   []byte
	Sequence uint32

	Witness      [][]byte
	PeginWitness [][]byte

	IssuanceAmountRangeProof []byte
	InflationKeysRangeProof  []byte
}

// TxOut is one output of an Elements transaction. Asset, Value and Nonce are
// kept in their serialized confidential encoding.
type TxOut struct {
	Asset  []byte
	Value  []byte
	Nonce  []byte
	Script []byte

	SurjectionProof []byte
	RangeProof      []byte
}

// Transaction is an Elements transaction with optional witness data.
type Transaction struct {
	Version  int32
	Inputs   []*TxIn
	Outputs  []*TxOut
	LockTime uint32
}

// NewExplicitValue encodes an amount as an explicit confidential value.
func NewExplicitValue(amount uint64) []byte {
	value := make([]byte, 9)
	value[0] = prefixExplicit
	binary.BigEndian.PutUint64(value[1:], amount)
	return value
}

// ExplicitValue decodes an explicit confidential value. The second return
// value is false for blinded commitments.
func ExplicitValue(value []byte) (uint64, bool) {
	if len(value) != 9 || value[0] != prefixExplicit {
		return 0, false
	}
	return binary.BigEndian.Uint64(value[1:]), true
}

// AssetFromHex encodes a displayed asset id (big-endian hex) as an explicit
// serialized asset field.
func AssetFromHex(assetHash string) ([]byte, error) {
	decoded, err := hex.DecodeString(assetHash)
	if err != nil || len(decoded) != 32 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAssetHash, assetHash)
	}

	return append([]byte{prefixExplicit}, helpers.ReverseBytes(decoded)...), nil
}

// IsFee reports whether the output is the dedicated fee output: explicit
// value with an empty script.
func (o *TxOut) IsFee() bool {
	_, explicit := ExplicitValue(o.Value)
	return explicit && len(o.Script) == 0
}

// hasWitness reports whether any input or output carries witness data.
func (tx *Transaction) hasWitness() bool {
	for _, in := range tx.Inputs {
		if len(in.Witness) > 0 || len(in.PeginWitness) > 0 ||
			len(in.IssuanceAmountRangeProof) > 0 || len(in.InflationKeysRangeProof) > 0 {
			return true
		}
	}
	for _, out := range tx.Outputs {
		if len(out.SurjectionProof) > 0 || len(out.RangeProof) > 0 {
			return true
		}
	}
	return false
}

// TxHash returns the transaction id: the double SHA256 of the serialization
// without witness data.
func (tx *Transaction) TxHash() chainhash.Hash {
	var buf bytes.Buffer
	_ = tx.serialize(&buf, false)
	return chainhash.DoubleHashH(buf.Bytes())
}

// Serialize writes the full transaction including witness data.
func (tx *Transaction) Serialize(w io.Writer) error {
	return tx.serialize(w, tx.hasWitness())
}

// SerializeHex returns the hex encoding of the full transaction.
func (tx *Transaction) SerializeHex() (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func (tx *Transaction) serialize(w io.Writer, withWitness bool) error {
	if err := binary.Write(w, binary.LittleEndian, tx.Version); err != nil {
		return err
	}

	flag := byte(0)
	if withWitness {
		flag = 1
	}
	if _, err := w.Write([]byte{flag}); err != nil {
		return err
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(tx.Inputs))); err != nil {
		return err
	}
	for _, in := range tx.Inputs {
		if _, err := w.Write(in.Hash[:]); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, in.Index); err != nil {
			return err
		}
		if err := writeVarBytes(w, in.Script); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, in.Sequence); err != nil {
			return err
		}
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(tx.Outputs))); err != nil {
		return err
	}
	for _, out := range tx.Outputs {
		if err := out.serialize(w); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, tx.LockTime); err != nil {
		return err
	}

	if !withWitness {
		return nil
	}

	for _, in := range tx.Inputs {
		if err := writeVarBytes(w, in.IssuanceAmountRangeProof); err != nil {
			return err
		}
		if err := writeVarBytes(w, in.InflationKeysRangeProof); err != nil {
			return err
		}
		if err := writeWitnessStack(w, in.Witness); err != nil {
			return err
		}
		if err := writeWitnessStack(w, in.PeginWitness); err != nil {
			return err
		}
	}
	for _, out := range tx.Outputs {
		if err := writeVarBytes(w, out.SurjectionProof); err != nil {
			return err
		}
		if err := writeVarBytes(w, out.RangeProof); err != nil {
			return err
		}
	}

	return nil
}

// serialize writes the confidential fields and the script of an output. This
// is also the per-output encoding that signature hashes commit to.
func (o *TxOut) serialize(w io.Writer) error {
	if _, err := w.Write(o.Asset); err != nil {
		return err
	}
	if _, err := w.Write(o.Value); err != nil {
		return err
	}
	if _, err := w.Write(o.Nonce); err != nil {
		return err
	}
	return writeVarBytes(w, o.Script)
}

// DeserializeHex parses a hex encoded Elements transaction.
func DeserializeHex(rawHex string) (*Transaction, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	return Deserialize(bytes.NewReader(raw))
}

// Deserialize parses an Elements transaction.
func Deserialize(r io.Reader) (*Transaction, error) {
	tx := &Transaction{}

	if err := binary.Read(r, binary.LittleEndian, &tx.Version); err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrMalformedTx, err)
	}

	var flag [1]byte
	if _, err := io.ReadFull(r, flag[:]); err != nil {
		return nil, fmt.Errorf("%w: flag: %v", ErrMalformedTx, err)
	}

	inputCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: input count: %v", ErrMalformedTx, err)
	}
	for i := uint64(0); i < inputCount; i++ {
		in := &TxIn{}
		if _, err := io.ReadFull(r, in.Hash[:]); err != nil {
			return nil, fmt.Errorf("%w: input hash: %v", ErrMalformedTx, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &in.Index); err != nil {
			return nil, fmt.Errorf("%w: input index: %v", ErrMalformedTx, err)
		}
		if in.Script, err = readVarBytes(r); err != nil {
			return nil, fmt.Errorf("%w: input script: %v", ErrMalformedTx, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &in.Sequence); err != nil {
			return nil, fmt.Errorf("%w: input sequence: %v", ErrMalformedTx, err)
		}
		tx.Inputs = append(tx.Inputs, in)
	}

	outputCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: output count: %v", ErrMalformedTx, err)
	}
	for i := uint64(0); i < outputCount; i++ {
		out := &TxOut{}
		if out.Asset, err = readConfidential(r, 32); err != nil {
			return nil, fmt.Errorf("%w: output asset: %v", ErrMalformedTx, err)
		}
		if out.Value, err = readConfidential(r, 8); err != nil {
			return nil, fmt.Errorf("%w: output value: %v", ErrMalformedTx, err)
		}
		if out.Nonce, err = readConfidential(r, 32); err != nil {
			return nil, fmt.Errorf("%w: output nonce: %v", ErrMalformedTx, err)
		}
		if out.Script, err = readVarBytes(r); err != nil {
			return nil, fmt.Errorf("%w: output script: %v", ErrMalformedTx, err)
		}
		tx.Outputs = append(tx.Outputs, out)
	}

	if err := binary.Read(r, binary.LittleEndian, &tx.LockTime); err != nil {
		return nil, fmt.Errorf("%w: locktime: %v", ErrMalformedTx, err)
	}

	if flag[0] == 0 {
		return tx, nil
	}

	for _, in := range tx.Inputs {
		if in.IssuanceAmountRangeProof, err = readVarBytes(r); err != nil {
			return nil, fmt.Errorf("%w: issuance proof: %v", ErrMalformedTx, err)
		}
		if in.InflationKeysRangeProof, err = readVarBytes(r); err != nil {
			return nil, fmt.Errorf("%w: inflation proof: %v", ErrMalformedTx, err)
		}
		if in.Witness, err = readWitnessStack(r); err != nil {
			return nil, fmt.Errorf("%w: input witness: %v", ErrMalformedTx, err)
		}
		if in.PeginWitness, err = readWitnessStack(r); err != nil {
			return nil, fmt.Errorf("%w: pegin witness: %v", ErrMalformedTx, err)
		}
	}
	for _, out := range tx.Outputs {
		if out.SurjectionProof, err = readVarBytes(r); err != nil {
			return nil, fmt.Errorf("%w: surjection proof: %v", ErrMalformedTx, err)
		}
		if out.RangeProof, err = readVarBytes(r); err != nil {
			return nil, fmt.Errorf("%w: range proof: %v", ErrMalformedTx, err)
		}
	}

	return tx, nil
}

// readConfidential reads a confidential field: a one byte prefix followed by
// the explicit payload, a commitment, or nothing when null.
func readConfidential(r io.Reader, explicitSize int) ([]byte, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	var payloadSize int
	switch prefix[0] {
	case prefixNull:
		return []byte{prefixNull}, nil
	case prefixExplicit:
		payloadSize = explicitSize
	case prefixValueCommitA, prefixValueCommitB, prefixAssetCommitA,
		prefixAssetCommitB, prefixNonceCommitA, prefixNonceCommitB:
		payloadSize = 32
	default:
		return nil, fmt.Errorf("unknown confidential prefix 0x%02x", prefix[0])
	}

	field := make([]byte, 1+payloadSize)
	field[0] = prefix[0]
	if _, err := io.ReadFull(r, field[1:]); err != nil {
		return nil, err
	}
	return field, nil
}

func writeVarBytes(w io.Writer, b []byte) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readVarBytes(r io.Reader) ([]byte, error) {
	length, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeWitnessStack(w io.Writer, stack [][]byte) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(stack))); err != nil {
		return err
	}
	for _, item := range stack {
		if err := writeVarBytes(w, item); err != nil {
			return err
		}
	}
	return nil
}

func readWitnessStack(r io.Reader) ([][]byte, error) {
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	var stack [][]byte
	for i := uint64(0); i < count; i++ {
		item, err := readVarBytes(r)
		if err != nil {
			return nil, err
		}
		stack = append(stack, item)
	}
	return stack, nil
}
