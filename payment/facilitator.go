package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parlakisik/agent-passport/internal/httpclient"
)

// FacilitatorClient drives the two-phase exchange with the settlement
// facilitator. The facilitator is an opaque verify/settle oracle; this
// client never interprets chain state itself.
type FacilitatorClient struct {
	baseURL string
	http    *httpclient.Client
}

// NewFacilitatorClient points at a facilitator base URL. Each call
// carries its own timeout via the underlying client.
func NewFacilitatorClient(baseURL string, timeout time.Duration) *FacilitatorClient {
	return &FacilitatorClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpclient.New("facilitator", timeout),
	}
}

type facilitatorRequest struct {
	Payment *Payload `json:"payment"`
}

type verifyResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

type settleResponse struct {
	TransactionHash string `json:"transactionHash,omitempty"`
	BlockNumber     int64  `json:"blockNumber,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Verify asks the facilitator to validate a signed payload. An invalid
// payload surfaces as *PaymentRejectedError with the facilitator's
// reason verbatim.
func (c *FacilitatorClient) Verify(ctx context.Context, p *Payload) error {
	var resp verifyResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/verify", facilitatorRequest{Payment: p}, &resp); err != nil {
		return &PaymentRejectedError{Stage: "verify", Reason: rejectionReason(err)}
	}
	if !resp.Valid {
		reason := resp.Error
		if reason == "" {
			reason = "payment declared invalid"
		}
		return &PaymentRejectedError{Stage: "verify", Reason: reason}
	}
	return nil
}

// Settle submits a verified payload for settlement. Only a response with
// a transaction hash counts as settled; anything else is a rejection and
// must never be treated as paid.
func (c *FacilitatorClient) Settle(ctx context.Context, p *Payload) (*SettlementResult, error) {
	var resp settleResponse
	if err := c.http.PostJSON(ctx, c.baseURL+"/settle", facilitatorRequest{Payment: p}, &resp); err != nil {
		return nil, &PaymentRejectedError{Stage: "settle", Reason: rejectionReason(err)}
	}
	if resp.Error != "" || resp.TransactionHash == "" {
		reason := resp.Error
		if reason == "" {
			reason = "settlement returned no transaction hash"
		}
		return nil, &PaymentRejectedError{Stage: "settle", Reason: reason}
	}
	return &SettlementResult{
		Success:         true,
		TransactionHash: resp.TransactionHash,
		BlockNumber:     resp.BlockNumber,
	}, nil
}

// rejectionReason keeps the upstream reason string intact where one
// exists.
func rejectionReason(err error) string {
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) && len(httpErr.Body) > 0 {
		return fmt.Sprintf("%s: %s", httpErr.Status, httpErr.Body)
	}
	return err.Error()
}
