package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedChallenge is returned when a 402 response carries no
	// parseable payment requirement in header or body.
	ErrMalformedChallenge = errors.New("payment: malformed payment challenge")

	// ErrUnexpectedSecondChallenge is returned when the retried request
	// itself answers 402 after a successful settlement. The retry is not
	// payment-protected recursively.
	ErrUnexpectedSecondChallenge = errors.New("payment: second payment challenge after settlement")
)

// ApprovalRequiredError is a hard stop: the challenged amount exceeds the
// configured auto-approve ceiling and no signature was produced. Both
// values are carried so a human-facing layer can prompt for an explicit
// override.
type ApprovalRequiredError struct {
	Amount  string
	Ceiling string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("payment: amount %s exceeds auto-approve ceiling %s", e.Amount, e.Ceiling)
}

// PaymentRejectedError carries the facilitator- or network-provided
// reason for a failed verify or settle step, verbatim.
type PaymentRejectedError struct {
	Stage  string // "verify" or "settle"
	Reason string
}

func (e *PaymentRejectedError) Error() string {
	return fmt.Sprintf("payment: %s rejected: %s", e.Stage, e.Reason)
}
