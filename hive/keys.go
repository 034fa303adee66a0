package hive

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // Hive key checksums are defined over RIPEMD-160
)

// KeyPrefix is the address prefix of Hive mainnet public keys.
const KeyPrefix = "STM"

const wifVersion = 0x80

var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidWIF       = errors.New("invalid wif")
)

func keyChecksum(b []byte) []byte {
	h := ripemd160.New()
	h.Write(b)
	return h.Sum(nil)[:4]
}

// EncodePublicKey renders a key the way the registry stores it:
// prefix + base58(compressed key || ripemd160(compressed key)[:4]).
func EncodePublicKey(pub *secp256k1.PublicKey) string {
	raw := pub.SerializeCompressed()
	return KeyPrefix + base58.Encode(append(raw, keyChecksum(raw)...))
}

// ParsePublicKey decodes and checksums a prefixed Hive public key string.
func ParsePublicKey(s string) (*secp256k1.PublicKey, error) {
	if !strings.HasPrefix(s, KeyPrefix) {
		return nil, fmt.Errorf("%w: missing %s prefix", ErrInvalidPublicKey, KeyPrefix)
	}
	b, err := base58.Decode(strings.TrimPrefix(s, KeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(b) != 37 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(b))
	}
	raw, sum := b[:33], b[33:]
	if !bytes.Equal(keyChecksum(raw), sum) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidPublicKey)
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

func doubleSHA256(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

// DecodeWIF parses a wallet-import-format private key (the form Hive wallets export).
func DecodeWIF(wif string) (*secp256k1.PrivateKey, error) {
	b, err := base58.Decode(strings.TrimSpace(wif))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWIF, err)
	}
	if len(b) != 37 || b[0] != wifVersion {
		return nil, fmt.Errorf("%w: unexpected length or version", ErrInvalidWIF)
	}
	payload, sum := b[:33], b[33:]
	if !bytes.Equal(doubleSHA256(payload)[:4], sum) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidWIF)
	}
	return secp256k1.PrivKeyFromBytes(payload[1:]), nil
}

// EncodeWIF is the inverse of DecodeWIF.
func EncodeWIF(priv *secp256k1.PrivateKey) string {
	payload := append([]byte{wifVersion}, priv.Serialize()...)
	return base58.Encode(append(payload, doubleSHA256(payload)[:4]...))
}
