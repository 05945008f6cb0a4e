package gaiacrypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
)

// HashRawData returns the hex-encoded sha256 of buf, unframed.
func HashRawData(buf []byte) string {
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// HashDataPayload returns the hex-encoded sha256 over the framed payload
// len(buf) ":" buf "," — the non-negotiable signing invariant (spec §3).
func HashDataPayload(buf []byte) string {
	return hex.EncodeToString(hashDataPayloadBytes(buf))
}

func hashDataPayloadBytes(buf []byte) []byte {
	framed := frameDataPayload(buf)
	sum := sha256.Sum256(framed)
	return sum[:]
}

// frameDataPayload builds ASCII(len(buf)) + ":" + buf + ",".
func frameDataPayload(buf []byte) []byte {
	prefix := strconv.Itoa(len(buf)) + ":"
	out := make([]byte, 0, len(prefix)+len(buf)+1)
	out = append(out, prefix...)
	out = append(out, buf...)
	out = append(out, ',')
	return out
}

// SignRawData signs buf's sha256 (or a precomputed hash, if non-nil) with
// priv and returns the base64-encoded R||S signature.
func SignRawData(buf []byte, priv *PrivateKey, precomputedHash []byte) string {
	hash := precomputedHash
	if hash == nil {
		sum := sha256.Sum256(buf)
		hash = sum[:]
	}
	return base64.StdEncoding.EncodeToString(priv.sign(hash))
}

// SignDataPayload signs str using the framed-payload hash, matching
// hashDataPayload's framing exactly.
func SignDataPayload(str string, priv *PrivateKey) string {
	hash := hashDataPayloadBytes([]byte(str))
	return base64.StdEncoding.EncodeToString(priv.sign(hash))
}

// VerifyDataPayload verifies a base64 signature over str's framed payload
// against an uncompressed-hex public key. Used only by tests and optional
// diagnostic tooling; the core protocol does not verify peer signatures
// end-to-end (spec §1 Non-goals).
func VerifyDataPayload(str, sigB64, pubkeyHex string) (bool, error) {
	sigBytes, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("gaiacrypto: decode signature: %w", err)
	}
	if len(sigBytes) != 64 {
		return false, fmt.Errorf("gaiacrypto: signature must be 64 bytes, got %d", len(sigBytes))
	}
	pub, err := PublicKeyFromUncompressedHex(pubkeyHex)
	if err != nil {
		return false, err
	}
	hash := hashDataPayloadBytes([]byte(str))
	return verifyRS(sigBytes, hash, pub), nil
}
