package anchorkit

import (
	"time"
	"unicode/utf8"

	"github.com/LumeraProtocol/notary/pkg/errors"
	"github.com/LumeraProtocol/notary/pkg/utils"
)

// Payload is the audit record carried on the ledger. It binds a file's
// identity and declared hash to its content-store location.
type Payload struct {
	Name          string
	Description   string
	SizeBytes     uint64
	ModifiedAt    time.Time
	HashAlgorithm utils.HashAlgorithm
	DeclaredHash  string
	ContentID     string
}

// NewPayload builds a normalized payload: ModifiedAt in UTC at millisecond
// precision and DeclaredHash in lower-case hex. Both are needed for
// Decode(Encode(p)) == p.
func NewPayload(name, description string, size uint64, modifiedAt time.Time, alg utils.HashAlgorithm, declaredHash, contentID string) (Payload, error) {
	hash, err := utils.NormalizeHashHex(declaredHash)
	if err != nil {
		return Payload{}, errors.E(errors.KindValidation, "invalid declared hash", err)
	}
	p := Payload{
		Name:          name,
		Description:   description,
		SizeBytes:     size,
		ModifiedAt:    normalizeTime(modifiedAt),
		HashAlgorithm: alg,
		DeclaredHash:  hash,
		ContentID:     contentID,
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Validate checks the invariants Encode relies on, including that p is
// already in the normalized form NewPayload produces.
func (p Payload) Validate() error {
	switch {
	case p.Name == "":
		return errors.Ef(errors.KindValidation, "payload name is required")
	case p.ContentID == "":
		return errors.Ef(errors.KindValidation, "payload content id is required")
	case !p.HashAlgorithm.Valid():
		return errors.Ef(errors.KindValidation, "unsupported hash algorithm %q", string(p.HashAlgorithm))
	}
	norm, err := utils.NormalizeHashHex(p.DeclaredHash)
	if err != nil {
		return errors.E(errors.KindValidation, "invalid declared hash", err)
	}
	if norm != p.DeclaredHash {
		return errors.Ef(errors.KindValidation, "declared hash must be lower-case hex")
	}
	// Encode keeps milliseconds only and Decode yields UTC, so anything else
	// would not survive a round trip.
	if n := normalizeTime(p.ModifiedAt); !n.Equal(p.ModifiedAt) || (!p.ModifiedAt.IsZero() && p.ModifiedAt.Location() != time.UTC) {
		return errors.Ef(errors.KindValidation, "modified time must be UTC at millisecond precision")
	}
	for field, s := range map[string]string{"name": p.Name, "description": p.Description, "contentId": p.ContentID} {
		if !utf8.ValidString(s) {
			return errors.Ef(errors.KindValidation, "payload %s is not valid UTF-8", field)
		}
	}
	return nil
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() || t.UnixMilli() == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.UnixMilli()).UTC()
}
