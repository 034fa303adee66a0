package hive

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// ErrMalformedSignature covers undecodable or unrecoverable signatures.
var ErrMalformedSignature = errors.New("malformed signature")

const compactSignatureLen = 65

// MessageDigest is the digest a signature commits to: sha256 of the raw message.
func MessageDigest(message string) []byte {
	sum := sha256.Sum256([]byte(message))
	return sum[:]
}

// RecoverPublicKey recovers the signer key of a hex encoded compact signature
// (header 31+recid, r, s) over MessageDigest(message) and returns it in
// registry form. Signatures made for uncompressed keys are rejected since
// Hive keys are always compressed.
func RecoverPublicKey(message, signature string) (string, error) {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(sig) != compactSignatureLen {
		return "", fmt.Errorf("%w: length %d", ErrMalformedSignature, len(sig))
	}
	pub, compressed, err := ecdsa.RecoverCompact(sig, MessageDigest(message))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if !compressed {
		return "", fmt.Errorf("%w: uncompressed key header", ErrMalformedSignature)
	}
	return EncodePublicKey(pub), nil
}

// SignMessage produces the hex compact signature that RecoverPublicKey accepts.
func SignMessage(priv *secp256k1.PrivateKey, message string) string {
	return hex.EncodeToString(ecdsa.SignCompact(priv, MessageDigest(message), true))
}
