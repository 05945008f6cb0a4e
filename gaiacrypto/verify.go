package gaiacrypto

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// verifyRS reconstructs a Signature from a 64-byte R||S encoding and
// verifies it against pub over hash.
func verifyRS(rs []byte, hash []byte, pub *secp256k1.PublicKey) bool {
	var r, s secp256k1.ModNScalar
	r.SetByteSlice(rs[:32])
	s.SetByteSlice(rs[32:])
	sig := ecdsa.NewSignature(&r, &s)
	return sig.Verify(hash, pub)
}
