package anchorkit

import (
	"github.com/LumeraProtocol/notary/pkg/errors"
	"github.com/LumeraProtocol/notary/pkg/utils"
)

// VerifyDeclaredHash recomputes the digest of data under alg and compares it
// with declared. It returns the recomputed hex digest in every case where
// hashing ran, so callers can report it next to a mismatch.
func VerifyDeclaredHash(alg utils.HashAlgorithm, data []byte, declared string) (string, error) {
	got, err := utils.HashHex(alg, data)
	if err != nil {
		return "", errors.E(errors.KindValidation, "cannot hash file", err)
	}
	if !utils.EqualHashHex(got, declared) {
		return got, errors.Ef(errors.KindHashMismatch,
			"declared %s hash %s does not match the file: calculated as %s", alg, declared, got)
	}
	return got, nil
}
