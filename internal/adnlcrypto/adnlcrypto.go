// Package adnlcrypto holds the ADNL handshake primitives shared by the TCP
// control transport and the UDP overlay client: Ed25519-to-X25519 key
// conversion and the AES-CTR cipher derivation used to encrypt the 160-byte
// handshake secret.
package adnlcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/sha512"

	"filippo.io/edwards25519"
)

// SeedToX25519 converts an Ed25519 seed into the corresponding X25519
// private scalar: SHA-512 the seed and clamp the first half, the same
// conversion libsodium's crypto_sign_ed25519_sk_to_curve25519 uses.
func SeedToX25519(seed []byte) [32]byte {
	h := sha512.Sum512(seed)
	var out [32]byte
	copy(out[:], h[:32])
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64
	return out
}

// PubKeyToMontgomery converts an Ed25519 public key (a point on the twisted
// Edwards curve) to its Montgomery u-coordinate for use as an X25519 public
// key.
func PubKeyToMontgomery(pub ed25519.PublicKey) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, err
	}
	return p.BytesMontgomery(), nil
}

// HandshakeCipher derives the AES-256-CTR stream used to encrypt/decrypt the
// 160-byte handshake secret, mixing the X25519 shared secret with the
// secret's own checksum.
func HandshakeCipher(sharedSecret, checksum [32]byte) cipher.Stream {
	var key [32]byte
	copy(key[:], sharedSecret[:])
	copy(key[16:32], checksum[16:32])

	var iv [16]byte
	copy(iv[:], checksum[0:16])
	copy(iv[4:16], sharedSecret[20:32])

	block, _ := aes.NewCipher(key[:])
	return cipher.NewCTR(block, iv[:])
}

// BytesEqual is a small helper for comparing fixed-size checksums; timing
// side-channels do not matter here since neither value is a secret.
func BytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
