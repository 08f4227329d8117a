// Package crypto provides the secp256k1 and keccak-256 primitives the
// identity, delegation and payment packages are built on. Signatures use
// the 65-byte [R || S || V] layout so a signer address can be recovered
// from the signature alone.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec"
	"golang.org/x/crypto/sha3"
)

// SignatureLength is the byte length of a signature with recovery id.
const SignatureLength = 64 + 1

// RecoveryIDOffset points to the recovery id byte within a signature.
const RecoveryIDOffset = 64

// DigestLength is the exact length of a signable digest.
const DigestLength = 32

// AddressLength is the byte length of an address.
const AddressLength = 20

var (
	secp256k1N, _  = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

var (
	ErrInvalidPrivateKey = errors.New("crypto: invalid secp256k1 private key")
	ErrInvalidSignature  = errors.New("crypto: invalid signature")
	ErrInvalidDigest     = errors.New("crypto: digest must be 32 bytes")
)

// Address is a 0x-prefixed, lowercase hex encoding of the last 20 bytes of
// the keccak-256 hash of an uncompressed public key.
type Address string

// Equal compares two addresses case-insensitively.
func (a Address) Equal(b Address) bool {
	return strings.EqualFold(string(a), string(b))
}

// Bytes decodes the address into its 20 raw bytes. Malformed addresses
// decode to the zero address.
func (a Address) Bytes() []byte {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(string(a)), "0x"))
	if err != nil || len(b) != AddressLength {
		return make([]byte, AddressLength)
	}
	return b
}

// IsZero reports whether the address is empty or all zeroes.
func (a Address) IsZero() bool {
	for _, c := range a.Bytes() {
		if c != 0 {
			return false
		}
	}
	return true
}

// BytesToAddress builds an Address from the last 20 bytes of b.
func BytesToAddress(b []byte) Address {
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	buf := make([]byte, AddressLength)
	copy(buf[AddressLength-len(b):], b)
	return Address("0x" + hex.EncodeToString(buf))
}

// Keccak256 calculates and returns the keccak-256 hash of the input data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hex returns the keccak-256 hash of data as a 0x-prefixed hex string.
func Keccak256Hex(data ...[]byte) string {
	return "0x" + hex.EncodeToString(Keccak256(data...))
}

// S256 returns the secp256k1 curve.
func S256() elliptic.Curve {
	return btcec.S256()
}

// GenerateKey generates a fresh secp256k1 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(S256(), rand.Reader)
}

// ToECDSA creates a private key from a 32-byte scalar. The scalar must be
// in the valid range (0, N).
func ToECDSA(d []byte) (*ecdsa.PrivateKey, error) {
	if len(d) != 32 {
		return nil, fmt.Errorf("crypto: private key must be 32 bytes, got %d", len(d))
	}
	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = S256()
	priv.D = new(big.Int).SetBytes(d)
	if priv.D.Sign() == 0 || priv.D.Cmp(secp256k1N) >= 0 {
		return nil, ErrInvalidPrivateKey
	}
	priv.PublicKey.X, priv.PublicKey.Y = priv.PublicKey.Curve.ScalarBaseMult(d)
	return priv, nil
}

// FromECDSA exports a private key into its 32-byte scalar encoding.
func FromECDSA(priv *ecdsa.PrivateKey) []byte {
	b := make([]byte, 32)
	d := priv.D.Bytes()
	copy(b[32-len(d):], d)
	return b
}

// MarshalPubkey encodes a public key into the 65-byte uncompressed format.
func MarshalPubkey(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return elliptic.Marshal(S256(), pub.X, pub.Y)
}

// UnmarshalPubkey converts 65 uncompressed bytes to a secp256k1 public key.
func UnmarshalPubkey(b []byte) (*ecdsa.PublicKey, error) {
	x, y := elliptic.Unmarshal(S256(), b)
	if x == nil {
		return nil, errors.New("crypto: invalid secp256k1 public key")
	}
	return &ecdsa.PublicKey{Curve: S256(), X: x, Y: y}, nil
}

// PubkeyToAddress derives the address of a public key.
func PubkeyToAddress(pub *ecdsa.PublicKey) Address {
	return BytesToAddress(Keccak256(MarshalPubkey(pub)[1:])[12:])
}

// Sign produces a recoverable [R || S || V] signature over a 32-byte
// digest. V is 0 or 1. The signature is always in the lower-S form.
func Sign(digest []byte, priv *ecdsa.PrivateKey) ([]byte, error) {
	if len(digest) != DigestLength {
		return nil, ErrInvalidDigest
	}
	if priv == nil || priv.D == nil {
		return nil, ErrInvalidPrivateKey
	}
	sig, err := btcec.SignCompact(btcec.S256(), (*btcec.PrivateKey)(priv), digest, false)
	if err != nil {
		return nil, err
	}
	// SignCompact puts the recovery id first; move it to the end.
	v := sig[0] - 27
	copy(sig, sig[1:])
	sig[RecoveryIDOffset] = v
	return sig, nil
}

// SigToPub recovers the public key that produced sig over digest.
func SigToPub(digest, sig []byte) (*ecdsa.PublicKey, error) {
	if len(digest) != DigestLength {
		return nil, ErrInvalidDigest
	}
	if len(sig) != SignatureLength {
		return nil, ErrInvalidSignature
	}
	btcsig := make([]byte, SignatureLength)
	btcsig[0] = sig[RecoveryIDOffset] + 27
	copy(btcsig[1:], sig)
	pub, _, err := btcec.RecoverCompact(btcec.S256(), btcsig, digest)
	if err != nil {
		return nil, err
	}
	return pub.ToECDSA(), nil
}

// Ecrecover recovers the signer address from a recoverable signature.
func Ecrecover(digest, sig []byte) (Address, error) {
	pub, err := SigToPub(digest, sig)
	if err != nil {
		return "", err
	}
	return PubkeyToAddress(pub), nil
}

// ValidateSignatureValues reports whether r, s and v form a valid
// lower-S signature.
func ValidateSignatureValues(v byte, r, s *big.Int) bool {
	if r.Sign() < 1 || s.Sign() < 1 {
		return false
	}
	if s.Cmp(secp256k1HalfN) > 0 {
		return false
	}
	return r.Cmp(secp256k1N) < 0 && s.Cmp(secp256k1N) < 0 && (v == 0 || v == 1)
}
