package auth

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
)

// Proof authorizes one call: a signature by Account's key over the digest of
// the operation name and its arguments. Binding the arguments prevents a
// captured proof from authorizing a different mutation.
type Proof struct {
	Account   string // claimed base58 account address
	PublicKey []byte // 32-byte ed25519 public key
	Signature []byte // 64-byte signature over Digest(operation, args...)
}

// Digest returns the sha256 digest of an operation and its arguments, each
// field length-prefixed so no two argument lists collide.
func Digest(operation string, args ...string) []byte {
	h := sha256.New()
	writeField(h.Write, operation)
	for _, arg := range args {
		writeField(h.Write, arg)
	}
	return h.Sum(nil)
}

func writeField(write func([]byte) (int, error), field string) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(field)))
	write(length[:])
	write([]byte(field))
}

// Sign builds a proof for an operation. Used by in-process callers (the
// keeper signs its own liquidator proofs) and by tests.
func Sign(priv ed25519.PrivateKey, operation string, args ...string) Proof {
	pub := priv.Public().(ed25519.PublicKey)
	account, _ := AddressFromPublicKey(pub)
	return Proof{
		Account:   account,
		PublicKey: append([]byte(nil), pub...),
		Signature: ed25519.Sign(priv, Digest(operation, args...)),
	}
}
