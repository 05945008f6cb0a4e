// Package gaiacrypto implements the datastore protocol's crypto and
// encoding primitives: private-key decoding, uncompressed public keys,
// Base58Check addressing, canonical payload hashing, and ECDSA signing in
// the exact byte layout the gateway and its peers expect (spec §4.1).
//
// Grounded on the teacher's keychain/store.go KEK/DEK derivation
// discipline (careful, explicitly-sized byte framing) and on
// app/tests/test_app/test_app.go's use of mr-tron/base58.
package gaiacrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //lint:ignore SA1019 required for Bitcoin/Gaia-style addressing
)

// AddressVersion is the P2PKH version byte prefixed before Base58Check
// encoding of a datastore address.
const AddressVersion byte = 0x00

// PrivateKey wraps a decoded secp256k1 scalar.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// DecodePrivateKeyHex decodes a 32-byte or 33-byte (with trailing 0x01
// compressed-format marker) hex-encoded private key.
func DecodePrivateKeyHex(hexKey string) (*PrivateKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("gaiacrypto: decode private key hex: %w", err)
	}
	return DecodePrivateKeyBytes(raw)
}

// DecodePrivateKeyBytes decodes a 32-byte or 33-byte private key, stripping
// the trailing 0x01 marker from the 33-byte form.
func DecodePrivateKeyBytes(raw []byte) (*PrivateKey, error) {
	switch len(raw) {
	case 32:
		// use as-is
	case 33:
		if raw[32] != 0x01 {
			return nil, errors.New("gaiacrypto: 33-byte private key must end in 0x01")
		}
		raw = raw[:32]
	default:
		return nil, fmt.Errorf("gaiacrypto: private key must be 32 or 33 bytes, got %d", len(raw))
	}
	key := secp256k1.PrivKeyFromBytes(raw)
	return &PrivateKey{key: key}, nil
}

// GeneratePrivateKey draws a fresh random secp256k1 signing key.
func GeneratePrivateKey() (*PrivateKey, error) {
	for {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("gaiacrypto: generate private key: %w", err)
		}
		var scalar secp256k1.ModNScalar
		if overflow := scalar.SetByteSlice(raw); overflow || scalar.IsZero() {
			continue
		}
		return DecodePrivateKeyBytes(raw)
	}
}

// Bytes returns the raw 32-byte scalar.
func (p *PrivateKey) Bytes() []byte {
	return p.key.Serialize()
}

// UncompressedPublicKey returns the 65-byte 0x04||X||Y public key.
func (p *PrivateKey) UncompressedPublicKey() []byte {
	return p.key.PubKey().SerializeUncompressed()
}

// UncompressedPublicKeyHex returns the hex-encoded uncompressed public key.
func (p *PrivateKey) UncompressedPublicKeyHex() string {
	return hex.EncodeToString(p.UncompressedPublicKey())
}

// Address derives the datastore id: Base58Check(version || RIPEMD160(SHA256(pubkey))).
func (p *PrivateKey) Address() (string, error) {
	return AddressFromUncompressedPubkey(p.UncompressedPublicKey())
}

// AddressFromUncompressedPubkey derives a Base58Check address from a raw
// uncompressed (65-byte) public key, per spec §4.1/§3.
func AddressFromUncompressedPubkey(pubkey []byte) (string, error) {
	shaHash := sha256.Sum256(pubkey)
	ripe := ripemd160.New()
	if _, err := ripe.Write(shaHash[:]); err != nil {
		return "", fmt.Errorf("gaiacrypto: ripemd160 write: %w", err)
	}
	hash160 := ripe.Sum(nil)

	payload := make([]byte, 0, 1+len(hash160))
	payload = append(payload, AddressVersion)
	payload = append(payload, hash160...)
	return base58CheckEncode(payload), nil
}

// base58CheckEncode appends a 4-byte double-SHA256 checksum and encodes
// with mr-tron/base58, matching Bitcoin-style Base58Check.
func base58CheckEncode(payload []byte) string {
	checksum := doubleSHA256(payload)[:4]
	full := append(append([]byte{}, payload...), checksum...)
	return base58.Encode(full)
}

// Base58CheckDecode reverses base58CheckEncode, validating the checksum.
func Base58CheckDecode(s string) ([]byte, error) {
	full, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("gaiacrypto: base58 decode: %w", err)
	}
	if len(full) < 5 {
		return nil, errors.New("gaiacrypto: base58check payload too short")
	}
	payload, checksum := full[:len(full)-4], full[len(full)-4:]
	want := doubleSHA256(payload)[:4]
	for i := range checksum {
		if checksum[i] != want[i] {
			return nil, errors.New("gaiacrypto: base58check checksum mismatch")
		}
	}
	return payload, nil
}

func doubleSHA256(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

// sign produces a canonical (low-S) ECDSA signature over hash using this
// key, encoded as R||S each left-zero-padded to 32 bytes.
func (p *PrivateKey) sign(hash []byte) []byte {
	sig := ecdsa.Sign(p.key, hash)
	r := sig.R().Bytes()
	s := sig.S().Bytes()
	out := make([]byte, 64)
	copy(out[32-len(r):32], r)
	copy(out[64-len(s):64], s)
	return out
}

// PublicKeyFromUncompressedHex parses a 65-byte uncompressed public key
// from hex, for verification paths that only hold a peer's public key.
func PublicKeyFromUncompressedHex(hexKey string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("gaiacrypto: decode pubkey hex: %w", err)
	}
	return secp256k1.ParsePubKey(raw)
}
