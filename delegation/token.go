package delegation

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/parlakisik/agent-passport/crypto"
	"github.com/parlakisik/agent-passport/identity"
)

// DefaultTokenTTL keeps delegation tokens short-lived.
const DefaultTokenTTL = 60 * time.Second

// DelegationToken authorizes one ephemeral session key for one operation,
// for at most a few tens of seconds. The agent key signs it (the agent
// vouches for the session); the ephemeral key itself signs nothing here.
// Tokens live in process memory for the session and are never persisted.
type DelegationToken struct {
	Issuer     string `json:"issuer"`  // agent DID
	Subject    string `json:"subject"` // ephemeral session public key, hex
	IntentHash string `json:"intent_hash"`
	Operation  string `json:"operation"`
	Expiration int64  `json:"expiration"` // unix seconds
	Signature  string `json:"signature"`
}

// Session is an agent-side token minter bound to one agent identity.
type Session struct {
	did string
	key *identity.KeyPair

	// Now is overridable in tests.
	Now Clock
}

// NewSession builds a token minter for the agent identified by did,
// signing with the agent's derived key.
func NewSession(did string, key *identity.KeyPair) (*Session, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, identity.ErrNoSigner
	}
	return &Session{did: did, key: key, Now: time.Now}, nil
}

// CreateDelegationToken mints a token for one operation under a standing
// intent, generating a fresh ephemeral session key pair. A non-positive
// ttl falls back to DefaultTokenTTL. The ephemeral key is returned so the
// caller can prove session possession; discard it with the session.
func (s *Session) CreateDelegationToken(in *StandingIntent, operation string, ttl time.Duration) (*DelegationToken, *identity.KeyPair, error) {
	now := s.Now()
	if now.Unix() >= in.Expiration {
		return nil, nil, ErrExpiredIntent
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	ephemeral, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	sessionKey := identity.NewKeyPair(ephemeral)

	tok := &DelegationToken{
		Issuer:     s.did,
		Subject:    sessionKey.PublicKeyHex,
		IntentHash: in.Hash(),
		Operation:  operation,
		Expiration: now.Add(ttl).Unix(),
	}
	sig, err := crypto.Sign(tokenDigest(tok), s.key.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	tok.Signature = "0x" + hex.EncodeToString(sig)
	return tok, sessionKey, nil
}

// Verifier checks intents and tokens against an injectable clock.
type Verifier struct {
	Now Clock
}

// NewVerifier returns a wall-clock verifier.
func NewVerifier() *Verifier {
	return &Verifier{Now: time.Now}
}

// VerifyStandingIntent reports whether the intent is unexpired and signed
// by its issuer. It never fails with an error: malformed input yields
// false. The boundary is exclusive: an intent whose expiration equals the
// current second is already expired.
func (v *Verifier) VerifyStandingIntent(in *StandingIntent) bool {
	if in == nil || in.Signature == "" {
		return false
	}
	if v.Now().Unix() >= in.Expiration {
		return false
	}
	sig, err := hex.DecodeString(trim0x(in.Signature))
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}
	recovered, err := crypto.Ecrecover(intentDigest(in), sig)
	if err != nil {
		return false
	}
	return recovered.Equal(in.Issuer)
}

// VerifyDelegationToken reports whether tok is unexpired, bound to the
// given currently-valid intent, and signed by the agent wallet that the
// intent's subject resolves to. agentWallet comes from the agent's
// verified passport.
func (v *Verifier) VerifyDelegationToken(tok *DelegationToken, in *StandingIntent, agentWallet crypto.Address) bool {
	return v.AuthorizeDelegationToken(tok, in, agentWallet) == nil
}

// AuthorizeDelegationToken is VerifyDelegationToken with diagnostics:
// nil means authorized, an expired token or intent maps to
// ErrExpiredToken or ErrExpiredIntent, and every other failure is
// ErrInvalidToken.
func (v *Verifier) AuthorizeDelegationToken(tok *DelegationToken, in *StandingIntent, agentWallet crypto.Address) error {
	if tok == nil || tok.Signature == "" {
		return ErrInvalidToken
	}
	if v.Now().Unix() >= tok.Expiration {
		return ErrExpiredToken
	}
	if in != nil && v.Now().Unix() >= in.Expiration {
		return ErrExpiredIntent
	}
	if !v.VerifyStandingIntent(in) {
		return ErrInvalidToken
	}
	if tok.Issuer != in.Subject || tok.IntentHash != in.Hash() {
		return ErrInvalidToken
	}
	sig, err := hex.DecodeString(trim0x(tok.Signature))
	if err != nil || len(sig) != crypto.SignatureLength {
		return ErrInvalidToken
	}
	recovered, err := crypto.Ecrecover(tokenDigest(tok), sig)
	if err != nil || !recovered.Equal(agentWallet) {
		return ErrInvalidToken
	}
	return nil
}

// tokenDigest is the canonical hash the agent key signs.
func tokenDigest(tok *DelegationToken) []byte {
	enc, _ := json.Marshal(struct {
		Issuer     string `json:"issuer"`
		Subject    string `json:"subject"`
		IntentHash string `json:"intent_hash"`
		Operation  string `json:"operation"`
		Expiration int64  `json:"expiration"`
	}{
		Issuer:     tok.Issuer,
		Subject:    tok.Subject,
		IntentHash: tok.IntentHash,
		Operation:  tok.Operation,
		Expiration: tok.Expiration,
	})
	return crypto.Keccak256(enc)
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
