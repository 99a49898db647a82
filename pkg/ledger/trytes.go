package ledger

import (
	"fmt"
	"strings"

	"lukechampine.com/blake3"
)

// TryteAlphabet is the ledger's native message alphabet.
const TryteAlphabet = "9ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// HashTrytesLength is the length of record and bundle ids.
const HashTrytesLength = 81

var tryteIndex = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(TryteAlphabet); i++ {
		idx[TryteAlphabet[i]] = int8(i)
	}
	return idx
}()

// BytesToTrytes encodes each byte as two trytes, low digit first.
func BytesToTrytes(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for _, c := range b {
		sb.WriteByte(TryteAlphabet[c%27])
		sb.WriteByte(TryteAlphabet[c/27])
	}
	return sb.String()
}

// TrytesToBytes reverses BytesToTrytes.
func TrytesToBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd tryte length %d", len(s))
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		lo, hi := tryteIndex[s[i]], tryteIndex[s[i+1]]
		if lo < 0 || hi < 0 {
			return nil, fmt.Errorf("invalid tryte at offset %d", i)
		}
		v := int(lo) + int(hi)*27
		if v > 255 {
			return nil, fmt.Errorf("tryte pair at offset %d is out of byte range", i)
		}
		out[i/2] = byte(v)
	}
	return out, nil
}

// IsTrytes reports whether s only contains alphabet characters.
func IsTrytes(s string) bool {
	for i := 0; i < len(s); i++ {
		if tryteIndex[s[i]] < 0 {
			return false
		}
	}
	return true
}

// HashTrytes returns an id of HashTrytesLength trytes over parts.
func HashTrytes(parts ...[]byte) string {
	h := blake3.New((HashTrytesLength+1)/2, nil)
	for _, p := range parts {
		var n [8]byte
		l := uint64(len(p))
		for i := range n {
			n[i] = byte(l >> (8 * i))
		}
		h.Write(n[:])
		h.Write(p)
	}
	return BytesToTrytes(h.Sum(nil))[:HashTrytesLength]
}
