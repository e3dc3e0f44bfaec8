// Package digest computes and validates the content digests that anchor
// the registry: every payload is identified by the digest of its exact
// bytes, and object store keys are derived from digests. Payload bytes
// are hashed as received, with no normalization.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"regexp"
	"strings"

	"github.com/mcistack/mci/internal/common/apperrors"
)

// Algorithm is the only digest algorithm currently accepted.
const Algorithm = "sha256"

var (
	ErrInvalidDigest apperrors.Error = apperrors.New("invalid digest").SetStatusCode(http.StatusBadRequest)
	ErrMismatch      apperrors.Error = apperrors.New("digest mismatch").SetStatusCode(http.StatusUnprocessableEntity)
)

var sha256HexRegex = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Compute returns the digest of payload in "sha256:<hex>" form.
func Compute(payload []byte) string {
	sum := sha256.Sum256(payload)
	return Algorithm + ":" + hex.EncodeToString(sum[:])
}

// Verify checks payload against expected. A mismatch is terminal and is
// never retried by callers.
func Verify(payload []byte, expected string) apperrors.Error {
	if err := Validate(expected); err != nil {
		return err
	}
	computed := Compute(payload)
	if computed != expected {
		return ErrMismatch.New("computed " + computed + ", expected " + expected)
	}
	return nil
}

// Validate checks that s is a well-formed digest string.
func Validate(s string) apperrors.Error {
	algorithm, hash, ok := strings.Cut(s, ":")
	if !ok {
		return ErrInvalidDigest.New("expected <algorithm>:<hash>")
	}
	if algorithm != Algorithm {
		return ErrInvalidDigest.New("unsupported digest algorithm: " + algorithm)
	}
	if !sha256HexRegex.MatchString(hash) {
		return ErrInvalidDigest.New("malformed sha256 hash")
	}
	return nil
}
