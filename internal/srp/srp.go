// Package srp implements the server side of SRP-6a (RFC 5054 framing,
// SHA-256) plus the client-side computations needed by the enrollment tool
// and the tests.
//
// The server stores only (salt, verifier); the password, and the secret the
// client derives from it, never reach this code. All functions are pure:
// persistent handshake state lives in the caller.
package srp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidPublicKey is returned when a peer's ephemeral public value
	// is congruent to zero mod N. Accepting such a value would let an
	// attacker force the shared secret to zero.
	ErrInvalidPublicKey = errors.New("srp: invalid ephemeral public key")

	// ErrProofMismatch is returned when a proof does not match the expected
	// value. The handshake is dead; the peer must restart with a fresh
	// ephemeral.
	ErrProofMismatch = errors.New("srp: proof mismatch")
)

// Rand is the randomness source for ephemeral private keys. Swappable in tests.
var Rand io.Reader = rand.Reader

const ephemeralSize = 32

// SessionKeySize is the size of the derived session key K in bytes.
const SessionKeySize = 32

var keyDerivationInfo = []byte("vaultcore srp session key v1")

func hashAll(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// multiplier computes k = H(N | PAD(g)).
func multiplier(grp Group) *big.Int {
	return new(big.Int).SetBytes(hashAll(grp.N.Bytes(), grp.pad(grp.G)))
}

// scrambler computes u = H(PAD(A) | PAD(B)).
func scrambler(grp Group, a, b *big.Int) *big.Int {
	return new(big.Int).SetBytes(hashAll(grp.pad(a), grp.pad(b)))
}

func randomScalar() (*big.Int, error) {
	buf := make([]byte, ephemeralSize)
	if _, err := io.ReadFull(Rand, buf); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(buf), nil
}

// deriveKey runs the raw shared secret through HKDF-SHA256 to produce the
// fixed-size session key.
func deriveKey(grp Group, secret *big.Int) ([]byte, error) {
	r := hkdf.New(sha256.New, grp.pad(secret), nil, keyDerivationInfo)
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateEphemeral samples a fresh server keypair for one handshake.
// The public value B = (k*v + g^b) mod N masks the verifier per SRP-6a, so
// an eavesdropper cannot tell whether the account exists.
func GenerateEphemeral(grp Group, verifier []byte) (public, private []byte, err error) {
	b, err := randomScalar()
	if err != nil {
		return nil, nil, err
	}

	v := new(big.Int).SetBytes(verifier)
	k := multiplier(grp)

	// B = (k*v + g^b) mod N
	gb := new(big.Int).Exp(grp.G, b, grp.N)
	kv := new(big.Int).Mul(k, v)
	B := new(big.Int).Add(kv, gb)
	B.Mod(B, grp.N)

	return grp.pad(B), b.Bytes(), nil
}

// ComputeSessionKey derives the server's view of the shared session key from
// the client public A, the server keypair (B, b) and the account verifier.
// A client public congruent to 0 mod N is rejected outright.
func ComputeSessionKey(grp Group, clientPublic, serverPublic, serverPrivate, verifier []byte) ([]byte, error) {
	A := new(big.Int).SetBytes(clientPublic)
	if new(big.Int).Mod(A, grp.N).Sign() == 0 {
		return nil, ErrInvalidPublicKey
	}

	B := new(big.Int).SetBytes(serverPublic)
	b := new(big.Int).SetBytes(serverPrivate)
	v := new(big.Int).SetBytes(verifier)

	u := scrambler(grp, A, B)
	if u.Sign() == 0 {
		return nil, ErrInvalidPublicKey
	}

	// S = (A * v^u)^b mod N
	vu := new(big.Int).Exp(v, u, grp.N)
	base := new(big.Int).Mul(A, vu)
	base.Mod(base, grp.N)
	S := new(big.Int).Exp(base, b, grp.N)

	return deriveKey(grp, S)
}

// VerifyClientProof checks the client's proof M1 = H(PAD(A) | PAD(B) | K)
// and, on success, returns the server proof M2 = H(PAD(A) | M1 | K) for the
// client to verify the server in turn.
func VerifyClientProof(grp Group, clientPublic, serverPublic, sessionKey, clientProof []byte) ([]byte, error) {
	A := new(big.Int).SetBytes(clientPublic)
	B := new(big.Int).SetBytes(serverPublic)

	expected := hashAll(grp.pad(A), grp.pad(B), sessionKey)
	if subtle.ConstantTimeCompare(expected, clientProof) != 1 {
		return nil, ErrProofMismatch
	}

	return hashAll(grp.pad(A), clientProof, sessionKey), nil
}
