package payment

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"

	"github.com/parlakisik/agent-passport/crypto"
)

// Domain binds payment signatures to one deployment so a payload signed
// for one verifying contract or chain cannot be replayed on another.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract crypto.Address
}

var (
	domainTypeHash  = crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	paymentTypeHash = crypto.Keccak256([]byte("PaymentAuthorization(address token,uint256 amount,address receiver,address sender,uint256 nonce,uint256 deadline)"))
)

// Separator is the hash identifying the domain in every digest.
func (d Domain) Separator() []byte {
	return crypto.Keccak256(
		domainTypeHash,
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		uintWord(uint64(d.ChainID)),
		addressWord(d.VerifyingContract),
	)
}

// PaymentDigest computes the typed-data digest a payment signature
// commits to: keccak256(0x19 0x01 || domainSeparator || structHash).
func PaymentDigest(d Domain, p *Payload) []byte {
	structHash := crypto.Keccak256(
		paymentTypeHash,
		addressWord(p.Token),
		uintWord(uint64(p.Amount)),
		addressWord(p.Receiver),
		addressWord(p.Sender),
		uintWord(p.Nonce),
		uintWord(uint64(p.Deadline)),
	)
	return crypto.Keccak256([]byte{0x19, 0x01}, d.Separator(), structHash)
}

// SignPayload signs the typed-data digest and stores the hex signature in
// the payload.
func SignPayload(d Domain, p *Payload, key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(PaymentDigest(d, p), key)
	if err != nil {
		return err
	}
	p.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// RecoverPayloadSigner recovers the address that signed the payload.
func RecoverPayloadSigner(d Domain, p *Payload) (crypto.Address, error) {
	sig, err := hex.DecodeString(trim0x(p.Signature))
	if err != nil {
		return "", err
	}
	return crypto.Ecrecover(PaymentDigest(d, p), sig)
}

// addressWord left-pads a 20-byte address to a 32-byte word.
func addressWord(a crypto.Address) []byte {
	w := make([]byte, 32)
	copy(w[12:], a.Bytes())
	return w
}

// uintWord encodes v as a big-endian 32-byte word.
func uintWord(v uint64) []byte {
	w := make([]byte, 32)
	binary.BigEndian.PutUint64(w[24:], v)
	return w
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
