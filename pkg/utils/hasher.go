package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// HashAlgorithm names a digest accepted for declared file hashes.
type HashAlgorithm string

const (
	SHA256  HashAlgorithm = "sha256"
	SHA3256 HashAlgorithm = "sha3-256"
	BLAKE3  HashAlgorithm = "blake3"
)

// DigestSize is the output size in bytes shared by every supported algorithm.
const DigestSize = 32

// ParseHashAlgorithm accepts the spellings clients send ("SHA-256", "sha256",
// "SHA3-256", "sha3_256", ...) and returns the canonical name.
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "", "-", "").Replace(norm)
	switch norm {
	case "sha256":
		return SHA256, nil
	case "sha3256", "sha3":
		return SHA3256, nil
	case "blake3", "blake3256":
		return BLAKE3, nil
	}
	return "", fmt.Errorf("unsupported hash algorithm %q", s)
}

// Valid reports whether a is one of the canonical algorithm names.
func (a HashAlgorithm) Valid() bool {
	switch a {
	case SHA256, SHA3256, BLAKE3:
		return true
	}
	return false
}

// New returns a fresh hash.Hash for a.
func (a HashAlgorithm) New() (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case SHA3256:
		return sha3.New256(), nil
	case BLAKE3:
		return blake3.New(DigestSize, nil), nil
	}
	return nil, fmt.Errorf("unsupported hash algorithm %q", string(a))
}

// chunkSizeFor returns the hashing chunk size based on total input size.
func chunkSizeFor(total int64) int64 {
	switch {
	case total <= 4<<20: // ≤ 4 MiB
		return 512 << 10
	case total <= 32<<20: // ≤ 32 MiB
		return 1 << 20
	case total <= 2<<30: // ≤ 2 GiB
		return 2 << 20
	default:
		return 4 << 20
	}
}

func hashBytes(h hash.Hash, msg []byte, chunkSize int64) []byte {
	msgLen := int64(len(msg))
	if chunkSize <= 0 {
		chunkSize = chunkSizeFor(msgLen)
	}
	for off := int64(0); off < msgLen; off += chunkSize {
		end := off + chunkSize
		if end > msgLen {
			end = msgLen
		}
		h.Write(msg[off:end])
	}
	return h.Sum(nil)
}

// Hash returns the digest of msg under a.
func Hash(a HashAlgorithm, msg []byte) ([]byte, error) {
	h, err := a.New()
	if err != nil {
		return nil, err
	}
	return hashBytes(h, msg, 0), nil
}

// HashHex returns the lower-case hex digest of msg under a.
func HashHex(a HashAlgorithm, msg []byte) (string, error) {
	sum, err := Hash(a, msg)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// NormalizeHashHex lower-cases and trims a hex digest and checks that it is
// DigestSize bytes of valid hex.
func NormalizeHashHex(s string) (string, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if len(norm) != DigestSize*2 {
		return "", fmt.Errorf("hash must be %d hex characters, got %d", DigestSize*2, len(norm))
	}
	if _, err := hex.DecodeString(norm); err != nil {
		return "", fmt.Errorf("hash is not valid hex: %w", err)
	}
	return norm, nil
}

// EqualHashHex compares two hex digests case-insensitively.
func EqualHashHex(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Blake3Hash returns BLAKE3-256 of msg.
func Blake3Hash(msg []byte) []byte {
	return hashBytes(blake3.New(DigestSize, nil), msg, 0)
}
