package comysql

import (
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
)

// scrambleEd25519Password implements MariaDB's client_ed25519 auth plugin
// (negotiated when the server names "client_ed25519" during the handshake
// or an auth-switch request). Unlike standard Ed25519 signing — which
// re-hashes a 32-byte seed to derive the scalar and the nonce prefix — this
// plugin treats SHA-512(password) itself as the already-expanded key. The
// stdlib crypto/ed25519 API insists on doing that expansion internally, so
// it can't produce this construction; the scalar/point arithmetic is done
// directly against the curve via filippo.io/edwards25519, the same
// low-level library go-sql-driver/mysql depends on for this exact plugin.
func scrambleEd25519Password(scramble []byte, password string) []byte {
	expanded := sha512.Sum512([]byte(password))

	var clamped [32]byte
	copy(clamped[:], expanded[:32])
	clamped[0] &= 248
	clamped[31] &= 127
	clamped[31] |= 64

	s, err := edwards25519.NewScalar().SetBytesWithClamping(clamped[:])
	if err != nil {
		panic(fmt.Sprintf("comysql: ed25519 scalar clamp failed: %v", err))
	}

	a := new(edwards25519.Point).ScalarBaseMult(s)
	publicKey := a.Bytes()

	prefix := expanded[32:]
	r := ed25519HashScalar(prefix, scramble)
	bigR := new(edwards25519.Point).ScalarBaseMult(r)

	k := ed25519HashScalar(bigR.Bytes(), publicKey, scramble)

	// S = k*s + r (mod L)
	bigS := edwards25519.NewScalar().MultiplyAdd(k, s, r)

	sig := make([]byte, 64)
	copy(sig[:32], bigR.Bytes())
	copy(sig[32:], bigS.Bytes())
	return sig
}

// ed25519HashScalar hashes the concatenation of parts with SHA-512 and
// reduces the 64-byte digest to a scalar mod the group order L.
func ed25519HashScalar(parts ...[]byte) *edwards25519.Scalar {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	sum := h.Sum(nil)
	s, err := edwards25519.NewScalar().SetUniformBytes(sum)
	if err != nil {
		panic(fmt.Sprintf("comysql: ed25519 scalar reduction failed: %v", err))
	}
	return s
}
