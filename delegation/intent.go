// Package delegation implements the two tiers of delegated authorization:
// a principal-signed, long-lived StandingIntent scoping what an agent may
// ever do, narrowed per session into an agent-signed, short-lived
// DelegationToken for one specific operation.
//
// The split bounds blast radius. A leaked session key is useless once its
// token expires and is scoped to a single operation; widening the grant
// itself requires the principal's long-term key.
package delegation

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/parlakisik/agent-passport/crypto"
	"github.com/parlakisik/agent-passport/identity"
)

var (
	// ErrExpiredIntent is returned when a token is requested against an
	// intent that has already expired.
	ErrExpiredIntent = errors.New("delegation: standing intent expired")

	// ErrExpiredToken is returned when a caller tries to use a token
	// past its expiration.
	ErrExpiredToken = errors.New("delegation: delegation token expired")

	// ErrInvalidToken covers every non-expiry authorization failure:
	// bad signature, wrong issuer, stale intent hash, malformed input.
	ErrInvalidToken = errors.New("delegation: invalid delegation token")
)

// Clock supplies current time so expiry logic is testable.
type Clock func() time.Time

// StandingIntent is a principal-signed grant: what the subject agent may
// spend, until when. Intents are immutable; changing limits means issuing
// a fresh intent, which also invalidates every token derived from the
// old one via the intent hash binding.
type StandingIntent struct {
	Issuer       crypto.Address        `json:"issuer"`
	Subject      string                `json:"subject"` // agent DID
	Capabilities identity.SpendingCaps `json:"capabilities"`
	Expiration   int64                 `json:"expiration"` // unix seconds
	Signature    string                `json:"signature"`
}

// Principal issues standing intents with the principal's long-term key.
type Principal struct {
	key *ecdsa.PrivateKey

	// Now is overridable in tests.
	Now Clock
}

// NewPrincipal wraps the principal's wallet key.
func NewPrincipal(key *ecdsa.PrivateKey) (*Principal, error) {
	if key == nil {
		return nil, identity.ErrNoSigner
	}
	return &Principal{key: key, Now: time.Now}, nil
}

// Address is the principal's wallet address.
func (p *Principal) Address() crypto.Address {
	return crypto.PubkeyToAddress(&p.key.PublicKey)
}

// CreateStandingIntent signs a grant for agentDID lasting expirationDays.
func (p *Principal) CreateStandingIntent(agentDID string, caps identity.SpendingCaps, expirationDays int) (*StandingIntent, error) {
	in := &StandingIntent{
		Issuer:       p.Address(),
		Subject:      agentDID,
		Capabilities: caps,
		Expiration:   p.Now().Unix() + int64(expirationDays)*86400,
	}
	sig, err := crypto.Sign(intentDigest(in), p.key)
	if err != nil {
		return nil, err
	}
	in.Signature = "0x" + hex.EncodeToString(sig)
	return in, nil
}

// Hash returns the hex keccak-256 hash over the full signed intent. Tokens
// bind to this value, so any change to the intent (including re-issuance)
// orphans previously minted tokens.
func (in *StandingIntent) Hash() string {
	enc, _ := json.Marshal(in)
	return crypto.Keccak256Hex(enc)
}

// intentDigest is the canonical hash the principal signs: keccak256 of a
// stable JSON encoding of {issuer, subject, capabilities, expiration}.
func intentDigest(in *StandingIntent) []byte {
	enc, _ := json.Marshal(struct {
		Issuer       string                `json:"issuer"`
		Subject      string                `json:"subject"`
		Capabilities identity.SpendingCaps `json:"capabilities"`
		Expiration   int64                 `json:"expiration"`
	}{
		Issuer:       string(in.Issuer),
		Subject:      in.Subject,
		Capabilities: in.Capabilities,
		Expiration:   in.Expiration,
	})
	return crypto.Keccak256(enc)
}
