// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"crypto/subtle"
)

// ConstantTimeCompare compares two byte slices in constant time.
// Safe against timing attacks when checking preimages.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ReverseBytes returns a reversed copy of b. Used for displaying
// little-endian transaction hashes in RPC byte order.
func ReverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
