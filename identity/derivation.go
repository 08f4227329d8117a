package identity

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"

	"github.com/parlakisik/agent-passport/crypto"
)

// ErrNoSigner is returned when key derivation is asked to produce a key
// but no secret source is available (the principal never authenticated
// and no master secret was supplied).
var ErrNoSigner = errors.New("identity: no signer available")

// DefaultDerivationPath is used for agent names not present in the path
// registry.
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

// derivationPaths is the fixed registry mapping well-known agent names to
// their derivation paths. The registry is append-only: changing an
// existing entry would change that agent's wallet address.
var derivationPaths = map[string]string{
	"annotator":   "m/44'/60'/0'/0/1",
	"interpreter": "m/44'/60'/0'/0/2",
	"courier":     "m/44'/60'/0'/0/3",
	"curator":     "m/44'/60'/0'/0/4",
}

// PathFor resolves the derivation path for an agent name, falling back to
// DefaultDerivationPath for unknown names.
func PathFor(agentName string) string {
	if p, ok := derivationPaths[agentName]; ok {
		return p
	}
	return DefaultDerivationPath
}

// KeyPair is a derived signing key with its precomputed address and
// hex-encoded public key.
type KeyPair struct {
	PrivateKey   *ecdsa.PrivateKey
	Address      crypto.Address
	PublicKeyHex string
}

// NewKeyPair wraps an existing private key.
func NewKeyPair(priv *ecdsa.PrivateKey) *KeyPair {
	return &KeyPair{
		PrivateKey:   priv,
		Address:      crypto.PubkeyToAddress(&priv.PublicKey),
		PublicKeyHex: "0x" + hex.EncodeToString(crypto.MarshalPubkey(&priv.PublicKey)),
	}
}

// Derive deterministically derives the signing key for a derivation path
// from a master secret. Identical (secret, path) inputs always yield the
// identical key pair and address. The private scalar is
// keccak256(secret || 0x00 || path), re-hashed until it lands in the
// valid scalar range.
func Derive(secret []byte, path string) (*KeyPair, error) {
	if len(secret) == 0 {
		return nil, ErrNoSigner
	}
	d := crypto.Keccak256(secret, []byte{0x00}, []byte(path))
	for {
		priv, err := crypto.ToECDSA(d)
		if err == nil {
			return NewKeyPair(priv), nil
		}
		d = crypto.Keccak256(d)
	}
}

// SeedFromSignature turns a principal's proof-of-control signature into a
// derivation secret, so a session that holds no master key can still
// reproduce the same agent identities across invocations.
//
// Security property, not an implementation detail: the same signature
// always yields the same agent keys. Anything that weakens the entropy of
// the proof-of-control signature directly weakens agent key secrecy, and
// the signature must be guarded like a key.
func SeedFromSignature(sig []byte) ([]byte, error) {
	if len(sig) == 0 {
		return nil, ErrNoSigner
	}
	return crypto.Keccak256(sig), nil
}
