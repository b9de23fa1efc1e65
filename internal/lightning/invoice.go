// Package lightning provides BOLT11 payment request decoding and the client
// contract for the off-chain payment backend.
package lightning

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// DefaultInvoiceExpiry is the validity window applied when a payment request
// carries no explicit expiry tag, per BOLT11.
const DefaultInvoiceExpiry = 3600 * time.Second

// Invoice decoding errors.
var (
	ErrInvoiceDecode    = errors.New("malformed payment request")
	ErrNoPaymentHash    = errors.New("payment request has no payment hash")
	ErrInvoiceTooShort  = errors.New("payment request data too short")
	ErrInvalidTagLength = errors.New("tagged field length exceeds remaining data")
)

// BOLT11 tagged field types.
const (
	tagPaymentHash = 1
	tagExpiry      = 6
)

// signatureLength is the number of 5-bit groups occupied by the trailing
// signature plus recovery id (520 bits).
const signatureLength = 104

// Invoice is the decoded subset of a BOLT11 payment request the swap engine
// needs: the payment hash and the expiry window.
type Invoice struct {
	PaymentHash []byte
	Timestamp   time.Time

	// Expiry is the explicit validity window; zero when the request carries
	// no expiry tag.
	Expiry time.Duration
}

// ExpiresAt returns the absolute instant the payment request stops being
// payable, falling back to the BOLT11 default window.
func (i *Invoice) ExpiresAt() time.Time {
	expiry := i.Expiry
	if expiry == 0 {
		expiry = DefaultInvoiceExpiry
	}
	return i.Timestamp.Add(expiry)
}

// DecodeInvoice decodes a BOLT11 payment request. The signature is not
// verified; only the fields relevant for expiry handling are extracted.
func DecodeInvoice(request string) (*Invoice, error) {
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(request))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvoiceDecode, err)
	}

	if !strings.HasPrefix(hrp, "ln") {
		return nil, fmt.Errorf("%w: human readable part %q", ErrInvoiceDecode, hrp)
	}

	// 7 groups of timestamp plus the trailing signature.
	if len(data) < 7+signatureLength {
		return nil, fmt.Errorf("%w: %d groups", ErrInvoiceTooShort, len(data))
	}

	var timestamp int64
	for _, group := range data[:7] {
		timestamp = timestamp<<5 | int64(group)
	}

	invoice := &Invoice{
		Timestamp: time.Unix(timestamp, 0),
	}

	// Tagged fields run from after the timestamp up to the signature.
	fields := data[7 : len(data)-signatureLength]
	for len(fields) > 0 {
		if len(fields) < 3 {
			return nil, fmt.Errorf("%w: truncated tagged field", ErrInvoiceDecode)
		}

		tag := fields[0]
		length := int(fields[1])<<5 | int(fields[2])
		fields = fields[3:]

		if length > len(fields) {
			return nil, fmt.Errorf("%w: tag %d wants %d groups", ErrInvalidTagLength, tag, length)
		}

		value := fields[:length]
		fields = fields[length:]

		switch tag {
		case tagPaymentHash:
			// 52 groups carry the 32 byte hash.
			if length != 52 {
				continue
			}
			decoded, err := bech32.ConvertBits(value, 5, 8, true)
			if err != nil {
				return nil, fmt.Errorf("%w: payment hash: %v", ErrInvoiceDecode, err)
			}
			invoice.PaymentHash = decoded[:32]

		case tagExpiry:
			var expiry int64
			for _, group := range value {
				expiry = expiry<<5 | int64(group)
			}
			invoice.Expiry = time.Duration(expiry) * time.Second
		}
	}

	if invoice.PaymentHash == nil {
		return nil, ErrNoPaymentHash
	}

	return invoice, nil
}
