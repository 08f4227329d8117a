package payment

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/parlakisik/agent-passport/crypto"
	"github.com/parlakisik/agent-passport/identity"
	"github.com/parlakisik/agent-passport/internal/httpclient"
)

// DeadlineTTL is how long a signed payment authorization stays valid.
const DeadlineTTL = time.Hour

// Config wires a payment client to one network deployment.
type Config struct {
	// MaxAutoApprove is the ceiling up to which challenges are paid
	// without human approval, e.g. "$10.00".
	MaxAutoApprove string

	Network           string
	ChainID           int64
	Token             crypto.Address // asset contract the payment is denominated in
	VerifyingContract crypto.Address
	FacilitatorURL    string

	// Timeout bounds each network call (challenge fetch, verify, settle,
	// retried request) individually. Zero means 30 seconds.
	Timeout time.Duration
}

// Client executes HTTP operations on behalf of an agent and transparently
// answers 402 payment challenges: parse the requirement, sign a typed
// payment payload, verify and settle it with the facilitator, then replay
// the original request once with the settlement proof attached.
//
// One Client serializes nonce allocation internally; callers must not
// share a signer across multiple Clients.
type Client struct {
	cfg            Config
	key            *ecdsa.PrivateKey
	sender         crypto.Address
	maxAutoApprove int64
	facilitator    *FacilitatorClient
	resource       *httpclient.Client
	log            *slog.Logger

	mu    sync.Mutex
	nonce uint64

	// Now is overridable in tests.
	Now func() time.Time
}

// NewClient builds a payment client around an agent signing key, usually
// obtained from identity.Derive. A nil key fails immediately with
// identity.ErrNoSigner rather than at challenge time.
func NewClient(cfg Config, key *ecdsa.PrivateKey) (*Client, error) {
	if key == nil {
		return nil, identity.ErrNoSigner
	}
	ceiling, err := ParseAmount(cfg.MaxAutoApprove)
	if err != nil {
		return nil, fmt.Errorf("payment: bad max auto-approve ceiling: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:            cfg,
		key:            key,
		sender:         crypto.PubkeyToAddress(&key.PublicKey),
		maxAutoApprove: ceiling,
		facilitator:    NewFacilitatorClient(cfg.FacilitatorURL, cfg.Timeout),
		resource:       httpclient.New("resource", cfg.Timeout),
		log:            slog.Default().With("component", "payment-client"),
		Now:            time.Now,
	}, nil
}

// Sender is the paying wallet address.
func (c *Client) Sender() crypto.Address {
	return c.sender
}

// Domain is the typed-data domain payments are signed under.
func (c *Client) Domain() Domain {
	return Domain{
		Name:              "AgentPassport",
		Version:           "1",
		ChainID:           c.cfg.ChainID,
		VerifyingContract: c.cfg.VerifyingContract,
	}
}

// Do issues the request. A non-402 response is returned unmodified. On a
// 402 it runs the full challenge flow and returns the response of the
// single retried request.
//
// Requests with a body must be replayable (GetBody set); http.NewRequest
// does this for byte and string readers.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.resource.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	requirement, err := parseChallenge(resp)
	if err != nil {
		return nil, err
	}
	c.log.InfoContext(ctx, "payment required",
		"url", req.URL.String(),
		"amount", requirement.Amount,
		"receiver", requirement.Receiver,
	)

	payload, err := c.SignPayment(requirement)
	if err != nil {
		return nil, err
	}

	if err := c.facilitator.Verify(ctx, payload); err != nil {
		return nil, err
	}
	settlement, err := c.facilitator.Settle(ctx, payload)
	if err != nil {
		return nil, err
	}
	c.log.InfoContext(ctx, "payment settled",
		"tx", settlement.TransactionHash,
		"block", settlement.BlockNumber,
		"nonce", payload.Nonce,
	)

	return c.retry(ctx, req, payload, settlement)
}

// SignPayment builds and signs a typed payment payload for a challenge.
// Nonces are strictly increasing across calls on one client. Amounts over
// the auto-approve ceiling stop here with *ApprovalRequiredError and no
// signature is produced.
func (c *Client) SignPayment(requirement *Requirement) (*Payload, error) {
	amount, err := ParseAmount(requirement.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChallenge, err)
	}
	if amount > c.maxAutoApprove {
		return nil, &ApprovalRequiredError{
			Amount:  FormatAmount(amount),
			Ceiling: FormatAmount(c.maxAutoApprove),
		}
	}

	c.mu.Lock()
	c.nonce++
	nonce := c.nonce
	c.mu.Unlock()

	payload := &Payload{
		Network:  c.cfg.Network,
		Token:    c.cfg.Token,
		Amount:   amount,
		Receiver: requirement.Receiver,
		Sender:   c.sender,
		Nonce:    nonce,
		Deadline: c.Now().Add(DeadlineTTL).Unix(),
		ChainID:  c.cfg.ChainID,
	}
	if err := SignPayload(c.Domain(), payload, c.key); err != nil {
		return nil, err
	}
	return payload, nil
}

// retry replays the original request once with the settlement proof. The
// retried request gets no nested challenge handling: a second 402 is an
// error.
func (c *Client) retry(ctx context.Context, req *http.Request, payload *Payload, settlement *SettlementResult) (*http.Response, error) {
	retried := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("payment: rewind request body: %w", err)
		}
		retried.Body = body
	}

	proof, err := json.Marshal(Proof{
		TransactionHash: settlement.TransactionHash,
		Payload:         *payload,
	})
	if err != nil {
		return nil, err
	}
	retried.Header.Set(PaymentProofHeader, base64.StdEncoding.EncodeToString(proof))

	resp, err := c.resource.Do(ctx, retried)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		resp.Body.Close()
		return nil, ErrUnexpectedSecondChallenge
	}
	return resp, nil
}

// parseChallenge extracts the payment requirement from a 402 response:
// header-embedded JSON preferred, body fallback. The response body is
// consumed either way.
func parseChallenge(resp *http.Response) (*Requirement, error) {
	defer resp.Body.Close()

	if h := resp.Header.Get(PaymentRequiredHeader); h != "" {
		var req Requirement
		if err := json.Unmarshal([]byte(h), &req); err == nil && req.Amount != "" {
			return &req, nil
		}
		return nil, ErrMalformedChallenge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrMalformedChallenge
	}
	var req Requirement
	if err := json.Unmarshal(body, &req); err != nil || req.Amount == "" {
		return nil, ErrMalformedChallenge
	}
	return &req, nil
}
