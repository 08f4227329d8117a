package identity

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/parlakisik/agent-passport/crypto"
	"github.com/shopspring/decimal"
)

// SpendingCaps bounds what an agent may spend. Amounts are decimal
// currency strings, e.g. "$100".
type SpendingCaps struct {
	MaxPerTransaction     string   `json:"max_per_transaction" bson:"max_per_transaction"`
	MaxDaily              string   `json:"max_daily" bson:"max_daily"`
	MaxMonthly            string   `json:"max_monthly,omitempty" bson:"max_monthly,omitempty"`
	WhitelistedRecipients []string `json:"whitelisted_recipients,omitempty" bson:"whitelisted_recipients,omitempty"`
}

// Allows reports whether a single payment of amount (a decimal currency
// string, e.g. "$2.50") to recipient fits the envelope: at most
// MaxPerTransaction, and to a whitelisted recipient when a whitelist is
// set. An empty MaxPerTransaction means no per-transaction cap.
// Malformed or negative amounts never pass. Daily and monthly caps
// require spend history and are checked by the holder of that history.
func (c SpendingCaps) Allows(amount string, recipient crypto.Address) bool {
	amt, err := parseCurrency(amount)
	if err != nil || amt.IsNegative() {
		return false
	}
	if c.MaxPerTransaction != "" {
		limit, err := parseCurrency(c.MaxPerTransaction)
		if err != nil || amt.GreaterThan(limit) {
			return false
		}
	}
	if len(c.WhitelistedRecipients) == 0 {
		return true
	}
	for _, w := range c.WhitelistedRecipients {
		if recipient.Equal(crypto.Address(w)) {
			return true
		}
	}
	return false
}

func parseCurrency(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(s), "$"))
}

// Passport is a signed identity card binding a DID to a derived wallet
// address and a capability/spending envelope. Passports are created once
// at registration and never mutated; revocation is registry deletion.
type Passport struct {
	DID            string         `json:"did" bson:"did"`
	WalletAddress  crypto.Address `json:"wallet_address" bson:"wallet_address"`
	DerivationPath string         `json:"derivation_path" bson:"derivation_path"`
	Capabilities   []string       `json:"capabilities" bson:"capabilities"`
	SpendingCaps   SpendingCaps   `json:"spending_caps" bson:"spending_caps"`
	Name           string         `json:"name" bson:"name"`
	Description    string         `json:"description,omitempty" bson:"description,omitempty"`
	CreatedAt      time.Time      `json:"created_at" bson:"created_at"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	OwnerSignature string         `json:"owner_signature" bson:"owner_signature"`
	PublicKey      string         `json:"public_key" bson:"public_key"`
}

// CreatePassportRequest carries the inputs to passport issuance.
type CreatePassportRequest struct {
	Namespace    string
	AgentName    string
	Version      string
	Capabilities []string
	SpendingCaps SpendingCaps
	Description  string
	ExpiresAt    *time.Time
}

// PassportIssuer derives agent keys from a master secret and issues
// signed passports. The issuer is handed to constructors explicitly;
// there is no process-wide current issuer.
type PassportIssuer struct {
	secret []byte

	// Now is the clock used for created_at stamps. Overridable in tests.
	Now func() time.Time
}

// NewPassportIssuer builds an issuer around a master secret (or a seed
// from SeedFromSignature).
func NewPassportIssuer(secret []byte) *PassportIssuer {
	return &PassportIssuer{secret: secret, Now: time.Now}
}

// DeriveKey resolves the derivation path for agentName and derives its
// key pair from the issuer secret.
func (i *PassportIssuer) DeriveKey(agentName string) (*KeyPair, error) {
	return Derive(i.secret, PathFor(agentName))
}

// Create issues a signed passport for an agent. The result is returned,
// not persisted; storing it is a registry concern.
func (i *PassportIssuer) Create(req CreatePassportRequest) (*Passport, error) {
	if req.Namespace == "" || req.AgentName == "" {
		return nil, fmt.Errorf("identity: namespace and agent name are required")
	}
	did := NewDID(req.Namespace, req.AgentName, req.Version)
	path := PathFor(req.AgentName)
	key, err := Derive(i.secret, path)
	if err != nil {
		return nil, err
	}

	p := &Passport{
		DID:            did.String(),
		WalletAddress:  key.Address,
		DerivationPath: path,
		Capabilities:   append([]string(nil), req.Capabilities...),
		SpendingCaps:   req.SpendingCaps,
		Name:           req.AgentName,
		Description:    req.Description,
		CreatedAt:      i.Now().UTC(),
		ExpiresAt:      req.ExpiresAt,
		PublicKey:      key.PublicKeyHex,
	}

	sig, err := crypto.Sign(passportDigest(p), key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("identity: sign passport: %w", err)
	}
	p.OwnerSignature = "0x" + hex.EncodeToString(sig)
	return p, nil
}

// VerifyPassport recomputes the canonical passport hash, recovers the
// signer from the owner signature and compares it to the wallet address.
// It never fails with an error: malformed input simply yields false.
func VerifyPassport(p *Passport) bool {
	if p == nil || p.OwnerSignature == "" {
		return false
	}
	sig, err := hex.DecodeString(trim0x(p.OwnerSignature))
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}
	recovered, err := crypto.Ecrecover(passportDigest(p), sig)
	if err != nil {
		return false
	}
	return recovered.Equal(p.WalletAddress)
}

// passportDigest is the canonical hash the owner signature commits to:
// keccak256 of a stable JSON encoding of {did, wallet_address,
// capabilities (sorted), created_at (unix seconds)}.
func passportDigest(p *Passport) []byte {
	caps := append([]string(nil), p.Capabilities...)
	sort.Strings(caps)
	enc, _ := json.Marshal(struct {
		DID           string   `json:"did"`
		WalletAddress string   `json:"wallet_address"`
		Capabilities  []string `json:"capabilities"`
		CreatedAt     int64    `json:"created_at"`
	}{
		DID:           p.DID,
		WalletAddress: string(p.WalletAddress),
		Capabilities:  caps,
		CreatedAt:     p.CreatedAt.Unix(),
	})
	return crypto.Keccak256(enc)
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
