// Package fingerprint computes content fingerprints for source files and
// answers whether a fingerprint was already registered.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Fingerprint is the lowercase hex sha256 of a file's bytes.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Compute is pure and deterministic.
func Compute(content []byte) Fingerprint {
	sum := sha256.Sum256(content)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// ComputeFile streams a file through the hash.
func ComputeFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// Lookup is the read side of the statement registry the store consults.
type Lookup interface {
	StatementExists(ctx context.Context, fileHash string) (bool, error)
	StatementExistsForAccount(ctx context.Context, fileHash string, accountID int64) (bool, error)
}

type Store struct {
	lookup Lookup
}

func NewStore(lookup Lookup) *Store {
	return &Store{lookup: lookup}
}

// Exists answers the compound (fingerprint, account) check when accountID is
// set, and "any statement with this fingerprint" otherwise.
func (s *Store) Exists(ctx context.Context, fp Fingerprint, accountID *int64) (bool, error) {
	if accountID == nil {
		ok, err := s.lookup.StatementExists(ctx, string(fp))
		if err != nil {
			return false, fmt.Errorf("check fingerprint: %w", err)
		}
		return ok, nil
	}
	ok, err := s.lookup.StatementExistsForAccount(ctx, string(fp), *accountID)
	if err != nil {
		return false, fmt.Errorf("check fingerprint for account %d: %w", *accountID, err)
	}
	return ok, nil
}
