package auth

import (
	"crypto/ed25519"
	"fmt"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
)

// Verifier checks call proofs. Stateless; services embed one by value.
type Verifier struct{}

// NewVerifier creates a Verifier.
func NewVerifier() Verifier {
	return Verifier{}
}

// Verify checks that the proof's key matches its claimed account, that the
// key is a canonical curve point, and that the signature covers exactly this
// operation and argument list. Every failure is domain.ErrUnauthorized.
func (Verifier) Verify(proof Proof, operation string, args ...string) error {
	claimed, err := DecodeAddress(proof.Account)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if len(proof.PublicKey) != ed25519.PublicKeySize || !claimed.Equal(ed25519.PublicKey(proof.PublicKey)) {
		return fmt.Errorf("%w: proof key does not match claimed account", domain.ErrUnauthorized)
	}
	if !ed25519.Verify(claimed, Digest(operation, args...), proof.Signature) {
		return fmt.Errorf("%w: invalid signature for %s", domain.ErrUnauthorized, operation)
	}
	return nil
}

// VerifyOwner verifies the proof and additionally requires the proven
// account to be owner. Used by owner-only mutations; trigger-execution
// calls use Verify alone since any caller may fire them as themself.
func (v Verifier) VerifyOwner(proof Proof, owner, operation string, args ...string) error {
	if err := v.Verify(proof, operation, args...); err != nil {
		return err
	}
	if proof.Account != owner {
		return fmt.Errorf("%w: caller %s is not the record owner", domain.ErrUnauthorized, proof.Account)
	}
	return nil
}
