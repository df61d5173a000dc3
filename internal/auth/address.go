// Package auth implements call authorization: accounts are base58-encoded
// ed25519 public keys, and every owner-scoped operation carries a proof
// signed by the account it claims to act as. Verification happens before any
// state is read or mutated.
package auth

import (
	"crypto/ed25519"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
)

// AddressFromPublicKey returns the base58 account address for a public key.
func AddressFromPublicKey(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: public key must be %d bytes", domain.ErrValidation, ed25519.PublicKeySize)
	}
	return base58.Encode(pub), nil
}

// DecodeAddress decodes and validates a base58 account address. The 32 bytes
// must be a canonical edwards25519 point; base58 strings that merely look
// like addresses are rejected.
func DecodeAddress(addr string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed account address: %v", domain.ErrValidation, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: account address must decode to %d bytes", domain.ErrValidation, ed25519.PublicKeySize)
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return nil, fmt.Errorf("%w: account address is not a canonical curve point", domain.ErrValidation)
	}
	return ed25519.PublicKey(raw), nil
}
