package payment

import (
	"github.com/parlakisik/agent-passport/crypto"
)

// PaymentRequiredHeader carries the JSON-encoded Requirement on a 402
// response. A JSON body is accepted as fallback.
const PaymentRequiredHeader = "X-Payment-Required"

// PaymentProofHeader carries the base64 settlement proof on the retried
// request.
const PaymentProofHeader = "X-Payment"

// Requirement is the challenge a resource server embeds in a 402
// response. It lives only for the duration of one challenge and is never
// persisted.
type Requirement struct {
	Route       string         `json:"route"`
	Amount      string         `json:"amount"` // decimal currency string, e.g. "$0.25"
	Receiver    crypto.Address `json:"receiver"`
	Description string         `json:"description,omitempty"`
}

// Payload is one signed payment attempt. Amount is in minor units at
// AmountDecimals precision. Nonces are strictly increasing per signer
// session to prevent replay.
type Payload struct {
	Network   string         `json:"network"`
	Token     crypto.Address `json:"token"`
	Amount    int64          `json:"amount"`
	Receiver  crypto.Address `json:"receiver"`
	Sender    crypto.Address `json:"sender"`
	Signature string         `json:"signature"`
	Nonce     uint64         `json:"nonce"`
	Deadline  int64          `json:"deadline"` // unix seconds
	ChainID   int64          `json:"chain_id"`
}

// SettlementResult is the terminal outcome of one payment attempt.
type SettlementResult struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transaction_hash,omitempty"`
	BlockNumber     int64  `json:"block_number,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Proof is what the retried request carries out-of-band after a
// successful settlement.
type Proof struct {
	TransactionHash string  `json:"transaction_hash"`
	Payload         Payload `json:"payload"`
}
