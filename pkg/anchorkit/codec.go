package anchorkit

import (
	"strings"
	"time"

	"github.com/LumeraProtocol/notary/pkg/errors"
	"github.com/LumeraProtocol/notary/pkg/ledger"
	"github.com/LumeraProtocol/notary/pkg/utils"
	jsoniter "github.com/json-iterator/go"
)

// canonicalJSON writes fields in declaration order (kept alphabetical in
// wirePayload) without HTML escaping, and rejects unknown keys on read.
var canonicalJSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	DisallowUnknownFields:  true,
	ValidateJsonRawMessage: true,
}.Froze()

type wirePayload struct {
	Algorithm   string `json:"algorithm"`
	ContentID   string `json:"contentId"`
	Description string `json:"description"`
	Hash        string `json:"hash"`
	Modified    int64  `json:"modified"`
	Name        string `json:"name"`
	Size        uint64 `json:"size"`
}

// MarshalCanonical returns the canonical JSON form of p.
func MarshalCanonical(p Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	w := wirePayload{
		Algorithm:   string(p.HashAlgorithm),
		ContentID:   p.ContentID,
		Description: p.Description,
		Hash:        strings.ToLower(p.DeclaredHash),
		Name:        p.Name,
		Size:        p.SizeBytes,
	}
	if !p.ModifiedAt.IsZero() {
		w.Modified = p.ModifiedAt.UnixMilli()
	}
	raw, err := canonicalJSON.Marshal(&w)
	if err != nil {
		return nil, errors.E(errors.KindInternal, "marshal payload", err)
	}
	return raw, nil
}

// Encode renders p as a ledger message.
func Encode(p Payload) (string, error) {
	raw, err := MarshalCanonical(p)
	if err != nil {
		return "", err
	}
	return ledger.BytesToTrytes(raw), nil
}

// Decode parses a ledger message. Messages written by other applications are
// expected on a shared ledger; they fail with KindMalformedPayload.
func Decode(message string) (Payload, error) {
	trimmed := strings.TrimRight(message, "9")
	if len(trimmed)%2 == 1 {
		trimmed += "9"
	}
	if trimmed == "" {
		return Payload{}, errors.Ef(errors.KindMalformedPayload, "ledger message is empty")
	}
	raw, err := ledger.TrytesToBytes(trimmed)
	if err != nil {
		return Payload{}, errors.E(errors.KindMalformedPayload, "ledger message is not a tryte-encoded payload", err)
	}
	return UnmarshalCanonical(raw)
}

// UnmarshalCanonical parses the JSON form produced by MarshalCanonical.
func UnmarshalCanonical(raw []byte) (Payload, error) {
	var w wirePayload
	if err := canonicalJSON.Unmarshal(raw, &w); err != nil {
		return Payload{}, errors.E(errors.KindMalformedPayload, "ledger message does not contain an anchor payload", err)
	}

	alg, err := utils.ParseHashAlgorithm(w.Algorithm)
	if err != nil {
		return Payload{}, errors.E(errors.KindMalformedPayload, "anchor payload has an unknown hash algorithm", err)
	}
	hash, err := utils.NormalizeHashHex(w.Hash)
	if err != nil {
		return Payload{}, errors.E(errors.KindMalformedPayload, "anchor payload has an invalid hash", err)
	}
	p := Payload{
		Name:          w.Name,
		Description:   w.Description,
		SizeBytes:     w.Size,
		HashAlgorithm: alg,
		DeclaredHash:  hash,
		ContentID:     w.ContentID,
	}
	if w.Modified != 0 {
		p.ModifiedAt = time.UnixMilli(w.Modified).UTC()
	}
	if err := p.Validate(); err != nil {
		return Payload{}, errors.E(errors.KindMalformedPayload, "anchor payload is incomplete", err)
	}
	return p, nil
}
