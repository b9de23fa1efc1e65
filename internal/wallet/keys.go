package wallet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// KeyProvider derives the per-swap refund and claim keys from a BIP39 seed.
// Derivation follows m/44'/coin'/0'/0/index; the next free index is handed
// out sequentially and must be persisted by the caller alongside the swap.
type KeyProvider struct {
	mu        sync.Mutex
	account   *hdkeychain.ExtendedKey
	nextIndex uint32
}

// GenerateMnemonic creates a fresh 24 word seed phrase.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// NewKeyProvider derives the swap key account from a mnemonic. nextIndex is
// the first unused derivation index, restored from storage on startup.
func NewKeyProvider(mnemonic string, params *chaincfg.Params, coinType, nextIndex uint32) (*KeyProvider, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	account := master
	for _, step := range []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + coinType,
		hdkeychain.HardenedKeyStart,
		0,
	} {
		if account, err = account.Derive(step); err != nil {
			return nil, fmt.Errorf("derive account key: %w", err)
		}
	}

	return &KeyProvider{
		account:   account,
		nextIndex: nextIndex,
	}, nil
}

// DeriveKey returns the private key at a previously allocated index.
func (k *KeyProvider) DeriveKey(index uint32) (*btcec.PrivateKey, error) {
	child, err := k.account.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("derive key %d: %w", index, err)
	}
	return child.ECPrivKey()
}

// NextKey allocates the next free index and returns its private key.
func (k *KeyProvider) NextKey() (*btcec.PrivateKey, uint32, error) {
	k.mu.Lock()
	index := k.nextIndex
	k.nextIndex++
	k.mu.Unlock()

	key, err := k.DeriveKey(index)
	if err != nil {
		return nil, 0, err
	}
	return key, index, nil
}
