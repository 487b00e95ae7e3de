package srp

import (
	"crypto/subtle"
	"math/big"
)

// Client-side computations. The server never runs these against real
// credentials; they exist for the enrollment CLI and for exercising the
// server functions in tests.

// privateExponent computes x = H(salt | secret), where secret is the
// client's stretched master secret (never the raw password).
func privateExponent(salt, secret []byte) *big.Int {
	return new(big.Int).SetBytes(hashAll(salt, secret))
}

// ComputeVerifier derives the server-stored verifier v = g^x mod N.
func ComputeVerifier(grp Group, salt, secret []byte) []byte {
	x := privateExponent(salt, secret)
	v := new(big.Int).Exp(grp.G, x, grp.N)
	return grp.pad(v)
}

// ClientEphemeral samples a client keypair: a random, A = g^a mod N.
func ClientEphemeral(grp Group) (public, private []byte, err error) {
	a, err := randomScalar()
	if err != nil {
		return nil, nil, err
	}
	A := new(big.Int).Exp(grp.G, a, grp.N)
	return grp.pad(A), a.Bytes(), nil
}

// ClientKeyAndProof derives the client's view of the session key and the
// proof M1 to send to the server.
func ClientKeyAndProof(grp Group, salt, secret, clientPublic, clientPrivate, serverPublic []byte) (sessionKey, proof []byte, err error) {
	B := new(big.Int).SetBytes(serverPublic)
	if new(big.Int).Mod(B, grp.N).Sign() == 0 {
		return nil, nil, ErrInvalidPublicKey
	}

	A := new(big.Int).SetBytes(clientPublic)
	a := new(big.Int).SetBytes(clientPrivate)
	x := privateExponent(salt, secret)

	u := scrambler(grp, A, B)
	if u.Sign() == 0 {
		return nil, nil, ErrInvalidPublicKey
	}
	k := multiplier(grp)

	// S = (B - k*g^x)^(a + u*x) mod N
	gx := new(big.Int).Exp(grp.G, x, grp.N)
	kgx := new(big.Int).Mul(k, gx)
	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, grp.N)

	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, a)
	S := new(big.Int).Exp(base, exp, grp.N)

	key, err := deriveKey(grp, S)
	if err != nil {
		return nil, nil, err
	}

	m1 := hashAll(grp.pad(A), grp.pad(B), key)
	return key, m1, nil
}

// VerifyServerProof checks the server's M2 against the client's own view of
// the exchange, completing mutual authentication.
func VerifyServerProof(grp Group, clientPublic, clientProof, sessionKey, serverProof []byte) error {
	A := new(big.Int).SetBytes(clientPublic)
	expected := hashAll(grp.pad(A), clientProof, sessionKey)
	if subtle.ConstantTimeCompare(expected, serverProof) != 1 {
		return ErrProofMismatch
	}
	return nil
}
