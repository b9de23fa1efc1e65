package elements

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// LegacySigHash computes the pre-segwit signature hash of the given input.
// The script replaces the scriptSig of the signed input; all other scriptSigs
// are cleared. Output commitments are hashed in their confidential encoding.
func (tx *Transaction) LegacySigHash(inputIndex int, script []byte, hashType txscript.SigHashType) chainhash.Hash {
	var buf bytes.Buffer

	_ = binary.Write(&buf, binary.LittleEndian, tx.Version)
	buf.WriteByte(0)

	_ = wire.WriteVarInt(&buf, 0, uint64(len(tx.Inputs)))
	for i, in := range tx.Inputs {
		buf.Write(in.Hash[:])
		_ = binary.Write(&buf, binary.LittleEndian, in.Index)
		if i == inputIndex {
			_ = writeVarBytes(&buf, script)
		} else {
			_ = writeVarBytes(&buf, nil)
		}
		_ = binary.Write(&buf, binary.LittleEndian, in.Sequence)
	}

	_ = wire.WriteVarInt(&buf, 0, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		_ = out.serialize(&buf)
	}

	_ = binary.Write(&buf, binary.LittleEndian, tx.LockTime)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(hashType))

	return chainhash.DoubleHashH(buf.Bytes())
}

// SegwitSigHash computes the BIP143 style signature hash of the given input.
// The value is the serialized confidential value of the spent output; the
// issuance hash commits to empty issuances on every input.
func (tx *Transaction) SegwitSigHash(inputIndex int, script []byte, value []byte, hashType txscript.SigHashType) chainhash.Hash {
	var prevouts bytes.Buffer
	var sequences bytes.Buffer
	var issuances bytes.Buffer
	for _, in := range tx.Inputs {
		prevouts.Write(in.Hash[:])
		_ = binary.Write(&prevouts, binary.LittleEndian, in.Index)
		_ = binary.Write(&sequences, binary.LittleEndian, in.Sequence)
		issuances.WriteByte(prefixNull)
	}

	var outputs bytes.Buffer
	for _, out := range tx.Outputs {
		_ = out.serialize(&outputs)
	}

	hashPrevouts := chainhash.DoubleHashH(prevouts.Bytes())
	hashSequences := chainhash.DoubleHashH(sequences.Bytes())
	hashIssuances := chainhash.DoubleHashH(issuances.Bytes())
	hashOutputs := chainhash.DoubleHashH(outputs.Bytes())

	in := tx.Inputs[inputIndex]

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, tx.Version)
	buf.Write(hashPrevouts[:])
	buf.Write(hashSequences[:])
	buf.Write(hashIssuances[:])
	buf.Write(in.Hash[:])
	_ = binary.Write(&buf, binary.LittleEndian, in.Index)
	_ = writeVarBytes(&buf, script)
	buf.Write(value)
	_ = binary.Write(&buf, binary.LittleEndian, in.Sequence)
	buf.Write(hashOutputs[:])
	_ = binary.Write(&buf, binary.LittleEndian, tx.LockTime)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(hashType))

	return chainhash.DoubleHashH(buf.Bytes())
}
