// Package secure backs the SecureRandom and Ed25519Key native classes:
// UUID generation and a from-scratch EdDSA sign/verify built directly on
// edwards25519's field arithmetic, rather than reaching for a full
// ed25519 package, per SPEC_FULL.md's domain-stack wiring for these two
// libraries.
package secure

import (
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/google/uuid"
)

// NewUUID returns a random (v4) UUID string for SecureRandom.uuid.
func NewUUID() string {
	return uuid.New().String()
}

// KeyPair is an Ed25519 signing key: a 32-byte seed hashed into a scalar
// and a public point, following the standard EdDSA key-derivation steps
// (RFC 8032 §5.1.5) by hand against edwards25519's primitives.
type KeyPair struct {
	seed   [32]byte
	scalar *edwards25519.Scalar
	prefix [32]byte
	public *edwards25519.Point
}

// GenerateKeyPair derives a KeyPair from a 32-byte seed (e.g. produced by
// SecureRandom).
func GenerateKeyPair(seed [32]byte) (*KeyPair, error) {
	h := sha512.Sum512(seed[:])

	var clamped [32]byte
	copy(clamped[:], h[:32])
	clamped[0] &= 248
	clamped[31] &= 127
	clamped[31] |= 64

	s, err := edwards25519.NewScalar().SetBytesWithClamping(clamped[:])
	if err != nil {
		return nil, fmt.Errorf("secure: derive scalar: %w", err)
	}

	kp := &KeyPair{seed: seed, scalar: s}
	copy(kp.prefix[:], h[32:])
	kp.public = edwards25519.NewIdentityPoint().ScalarBaseMult(s)
	return kp, nil
}

// PublicBytes returns the 32-byte compressed public point.
func (k *KeyPair) PublicBytes() []byte {
	return k.public.Bytes()
}

// Sign produces a detached 64-byte EdDSA signature over message.
func (k *KeyPair) Sign(message []byte) ([]byte, error) {
	rh := sha512.New()
	rh.Write(k.prefix[:])
	rh.Write(message)
	rDigest := rh.Sum(nil)

	r, err := edwards25519.NewScalar().SetUniformBytes(rDigest)
	if err != nil {
		return nil, fmt.Errorf("secure: derive nonce: %w", err)
	}
	R := edwards25519.NewIdentityPoint().ScalarBaseMult(r)
	RBytes := R.Bytes()
	ABytes := k.public.Bytes()

	kh := sha512.New()
	kh.Write(RBytes)
	kh.Write(ABytes)
	kh.Write(message)
	kDigest := kh.Sum(nil)

	kScalar, err := edwards25519.NewScalar().SetUniformBytes(kDigest)
	if err != nil {
		return nil, fmt.Errorf("secure: derive challenge: %w", err)
	}

	s := edwards25519.NewScalar().MultiplyAdd(kScalar, k.scalar, r)

	sig := make([]byte, 64)
	copy(sig[:32], RBytes)
	copy(sig[32:], s.Bytes())
	return sig, nil
}

// Verify checks a detached signature against a 32-byte public key and
// message, implementing the cofactorless EdDSA verification equation
// [S]B == R + [k]A directly against edwards25519's points.
func Verify(publicKey, message, sig []byte) (bool, error) {
	if len(publicKey) != 32 || len(sig) != 64 {
		return false, fmt.Errorf("secure: invalid key or signature length")
	}
	A, err := edwards25519.NewIdentityPoint().SetBytes(publicKey)
	if err != nil {
		return false, fmt.Errorf("secure: invalid public key: %w", err)
	}
	R, err := edwards25519.NewIdentityPoint().SetBytes(sig[:32])
	if err != nil {
		return false, fmt.Errorf("secure: invalid signature point: %w", err)
	}
	s, err := edwards25519.NewScalar().SetCanonicalBytes(sig[32:])
	if err != nil {
		return false, fmt.Errorf("secure: invalid signature scalar: %w", err)
	}

	kh := sha512.New()
	kh.Write(sig[:32])
	kh.Write(publicKey)
	kh.Write(message)
	kDigest := kh.Sum(nil)
	k, err := edwards25519.NewScalar().SetUniformBytes(kDigest)
	if err != nil {
		return false, fmt.Errorf("secure: derive challenge: %w", err)
	}

	// check: [s]B == R + [k]A, i.e. [s]B - [k]A == R
	negK := edwards25519.NewScalar().Negate(k)
	candidate := edwards25519.NewIdentityPoint().VarTimeDoubleScalarBaseMult(negK, A, s)
	return candidate.Equal(R) == 1, nil
}
