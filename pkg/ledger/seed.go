package ledger

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/cosmos/cosmos-sdk/crypto/hd"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/go-bip39"
)

const (
	// CoinType is the BIP-44 coin type used for anchor addresses.
	CoinType uint32 = 118
	// DefaultAddressPrefix is the bech32 prefix of derived addresses.
	DefaultAddressPrefix = "anchor"
	// MaxAddressIndex is the largest non-hardened BIP-44 address index.
	MaxAddressIndex uint64 = 1<<31 - 1

	seedEntropyBytes = 32
)

// Seed is the deployment's signing secret, a BIP-39 mnemonic. It redacts
// itself when printed so it cannot leak through logs.
type Seed string

func (Seed) String() string   { return "[REDACTED]" }
func (Seed) GoString() string { return "ledger.Seed([REDACTED])" }

// Valid reports whether s is a well-formed mnemonic.
func (s Seed) Valid() bool { return bip39.IsMnemonicValid(string(s)) }

// NewSeed generates a seed from 256 bits of crypto/rand entropy.
func NewSeed() (Seed, error) {
	return NewSeedFromReader(rand.Reader)
}

// NewSeedFromReader generates a seed from r. A short read is an error; there
// is no fallback source.
func NewSeedFromReader(r io.Reader) (Seed, error) {
	entropy := make([]byte, seedEntropyBytes)
	if _, err := io.ReadFull(r, entropy); err != nil {
		return "", fmt.Errorf("read seed entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("build mnemonic: %w", err)
	}
	return Seed(mnemonic), nil
}

// DeriveAddress derives the bech32 address at m/44'/118'/0'/0/index.
func DeriveAddress(prefix string, seed Seed, index uint64) (string, error) {
	if index > MaxAddressIndex {
		return "", fmt.Errorf("address index %d exceeds %d", index, MaxAddressIndex)
	}
	if !seed.Valid() {
		return "", fmt.Errorf("invalid seed mnemonic")
	}
	if prefix == "" {
		prefix = DefaultAddressPrefix
	}

	path := hd.CreateHDPath(CoinType, 0, uint32(index)).String()
	derived, err := hd.Secp256k1.Derive()(string(seed), "", path)
	if err != nil {
		return "", fmt.Errorf("derive key at %s: %w", path, err)
	}
	priv := hd.Secp256k1.Generate()(derived)
	addr, err := sdk.Bech32ifyAddressBytes(prefix, priv.PubKey().Address())
	if err != nil {
		return "", fmt.Errorf("encode address: %w", err)
	}
	return addr, nil
}
