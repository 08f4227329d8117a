package payment

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/parlakisik/agent-passport/crypto"
	"github.com/parlakisik/agent-passport/identity"
)

type fakeFacilitator struct {
	verifyValid  bool
	verifyReason string
	settleFail   bool
	verifyCalls  int32
	settleCalls  int32
}

func (f *fakeFacilitator) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /verify", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.verifyCalls, 1)
		var req facilitatorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Payment == nil {
			t.Errorf("facilitator got bad verify request: %v", err)
		}
		json.NewEncoder(w).Encode(verifyResponse{Valid: f.verifyValid, Error: f.verifyReason})
	})
	mux.HandleFunc("POST /settle", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.settleCalls, 1)
		if f.settleFail {
			json.NewEncoder(w).Encode(settleResponse{Error: "insufficient balance"})
			return
		}
		json.NewEncoder(w).Encode(settleResponse{TransactionHash: "0xabc123", BlockNumber: 42})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// paidResource answers 402 with a challenge until the settlement proof
// header shows up, then serves the resource.
func paidResource(t *testing.T, amount string, challengeInHeader bool) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	requirement := Requirement{
		Route:    "/v1/annotations",
		Amount:   amount,
		Receiver: "0x3333333333333333333333333333333333333333",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get(PaymentProofHeader) != "" {
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, `{"result":"annotated"}`)
			return
		}
		enc, _ := json.Marshal(requirement)
		if challengeInHeader {
			w.Header().Set(PaymentRequiredHeader, string(enc))
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(enc)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testClient(t *testing.T, facilitatorURL, maxAutoApprove string) (*Client, *ecdsa.PrivateKey) {
	t.Helper()
	kp, err := identity.Derive([]byte("payment test secret"), identity.DefaultDerivationPath)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewClient(Config{
		MaxAutoApprove:    maxAutoApprove,
		Network:           "base",
		ChainID:           8453,
		Token:             "0x2222222222222222222222222222222222222222",
		VerifyingContract: "0x1111111111111111111111111111111111111111",
		FacilitatorURL:    facilitatorURL,
	}, kp.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	return c, kp.PrivateKey
}

func TestDoPaysSettlesAndRetries(t *testing.T) {
	// Scenario: a $0.25 resource under a $10.00 ceiling gets signed,
	// settled and retried exactly once, ending in 200.
	for _, challengeInHeader := range []bool{true, false} {
		name := "challenge in body"
		if challengeInHeader {
			name = "challenge in header"
		}
		t.Run(name, func(t *testing.T) {
			fac := &fakeFacilitator{verifyValid: true}
			facSrv := fac.server(t)
			resource, calls := paidResource(t, "$0.25", challengeInHeader)

			c, _ := testClient(t, facSrv.URL, "$10.00")
			req, _ := http.NewRequest(http.MethodGet, resource.URL+"/v1/annotations", nil)
			resp, err := c.Do(context.Background(), req)
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d, want 200", resp.StatusCode)
			}
			if got := atomic.LoadInt32(calls); got != 2 {
				t.Errorf("resource calls = %d, want 2 (challenge + one retry)", got)
			}
			if fac.verifyCalls != 1 || fac.settleCalls != 1 {
				t.Errorf("facilitator calls = %d/%d, want 1/1", fac.verifyCalls, fac.settleCalls)
			}
		})
	}
}

func TestDoAttachesSettlementProof(t *testing.T) {
	fac := &fakeFacilitator{verifyValid: true}
	facSrv := fac.server(t)

	var gotProof string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get(PaymentProofHeader); h != "" {
			gotProof = h
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set(PaymentRequiredHeader, `{"route":"/r","amount":"$0.10","receiver":"0x3333333333333333333333333333333333333333"}`)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c, _ := testClient(t, facSrv.URL, "$10.00")
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	raw, err := base64.StdEncoding.DecodeString(gotProof)
	if err != nil {
		t.Fatalf("proof header is not base64: %v", err)
	}
	var proof Proof
	if err := json.Unmarshal(raw, &proof); err != nil {
		t.Fatalf("proof header is not JSON: %v", err)
	}
	if proof.TransactionHash != "0xabc123" {
		t.Errorf("proof tx = %s, want 0xabc123", proof.TransactionHash)
	}
	if signer, err := RecoverPayloadSigner(c.Domain(), &proof.Payload); err != nil || !signer.Equal(c.Sender()) {
		t.Errorf("proof payload signer = %s (err %v), want %s", signer, err, c.Sender())
	}
}

func TestDoApprovalRequired(t *testing.T) {
	// Scenario: a $50.00 resource under a $10.00 ceiling stops hard
	// before signing; the facilitator is never contacted.
	fac := &fakeFacilitator{verifyValid: true}
	facSrv := fac.server(t)
	resource, calls := paidResource(t, "$50.00", true)

	c, _ := testClient(t, facSrv.URL, "$10.00")
	req, _ := http.NewRequest(http.MethodGet, resource.URL, nil)
	_, err := c.Do(context.Background(), req)

	var approval *ApprovalRequiredError
	if !errors.As(err, &approval) {
		t.Fatalf("Do() error = %v, want *ApprovalRequiredError", err)
	}
	if approval.Amount != "$50.00" || approval.Ceiling != "$10.00" {
		t.Errorf("ApprovalRequiredError = %+v, want $50.00/$10.00", approval)
	}
	if fac.verifyCalls != 0 || fac.settleCalls != 0 {
		t.Error("facilitator was contacted despite the approval stop")
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Errorf("resource calls = %d, want 1 (no retry)", got)
	}
}

func TestDoPaymentRejectedOnVerify(t *testing.T) {
	// Scenario: facilitator declares the payment invalid; the original
	// request is never retried.
	fac := &fakeFacilitator{verifyValid: false, verifyReason: "unknown sender"}
	facSrv := fac.server(t)
	resource, calls := paidResource(t, "$0.25", true)

	c, _ := testClient(t, facSrv.URL, "$10.00")
	req, _ := http.NewRequest(http.MethodGet, resource.URL, nil)
	_, err := c.Do(context.Background(), req)

	var rejected *PaymentRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Do() error = %v, want *PaymentRejectedError", err)
	}
	if rejected.Stage != "verify" || rejected.Reason != "unknown sender" {
		t.Errorf("PaymentRejectedError = %+v", rejected)
	}
	if fac.settleCalls != 0 {
		t.Error("settle was called after a failed verify")
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Errorf("resource calls = %d, want 1 (no retry)", got)
	}
}

func TestDoPaymentRejectedOnSettle(t *testing.T) {
	fac := &fakeFacilitator{verifyValid: true, settleFail: true}
	facSrv := fac.server(t)
	resource, calls := paidResource(t, "$0.25", true)

	c, _ := testClient(t, facSrv.URL, "$10.00")
	req, _ := http.NewRequest(http.MethodGet, resource.URL, nil)
	_, err := c.Do(context.Background(), req)

	var rejected *PaymentRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Do() error = %v, want *PaymentRejectedError", err)
	}
	if rejected.Stage != "settle" || rejected.Reason != "insufficient balance" {
		t.Errorf("PaymentRejectedError = %+v", rejected)
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Errorf("resource calls = %d, want 1 (failed settlement is not paid)", got)
	}
}

func TestDoUnexpectedSecondChallenge(t *testing.T) {
	fac := &fakeFacilitator{verifyValid: true}
	facSrv := fac.server(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Always demands payment, even with proof attached.
		w.Header().Set(PaymentRequiredHeader, `{"route":"/r","amount":"$0.10","receiver":"0x3333333333333333333333333333333333333333"}`)
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c, _ := testClient(t, facSrv.URL, "$10.00")
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := c.Do(context.Background(), req); !errors.Is(err, ErrUnexpectedSecondChallenge) {
		t.Errorf("Do() error = %v, want ErrUnexpectedSecondChallenge", err)
	}
}

func TestDoMalformedChallenge(t *testing.T) {
	fac := &fakeFacilitator{verifyValid: true}
	facSrv := fac.server(t)

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "empty 402",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusPaymentRequired)
			},
		},
		{
			name: "junk header",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set(PaymentRequiredHeader, "{{{")
				w.WriteHeader(http.StatusPaymentRequired)
			},
		},
		{
			name: "body without amount",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusPaymentRequired)
				io.WriteString(w, `{"route":"/r"}`)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			c, _ := testClient(t, facSrv.URL, "$10.00")
			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			if _, err := c.Do(context.Background(), req); !errors.Is(err, ErrMalformedChallenge) {
				t.Errorf("Do() error = %v, want ErrMalformedChallenge", err)
			}
		})
	}
}

func TestSignPaymentNonceMonotonic(t *testing.T) {
	c, _ := testClient(t, "http://127.0.0.1:0", "$10.00")
	requirement := &Requirement{
		Amount:   "$1.00",
		Receiver: "0x3333333333333333333333333333333333333333",
	}
	a, err := c.SignPayment(requirement)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.SignPayment(requirement)
	if err != nil {
		t.Fatal(err)
	}
	if b.Nonce <= a.Nonce {
		t.Errorf("nonces not strictly increasing: %d then %d", a.Nonce, b.Nonce)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{MaxAutoApprove: "$1.00"}, nil); !errors.Is(err, identity.ErrNoSigner) {
		t.Errorf("NewClient(nil key) error = %v, want ErrNoSigner", err)
	}
	key, _ := crypto.GenerateKey()
	if _, err := NewClient(Config{MaxAutoApprove: "nope"}, key); err == nil {
		t.Error("NewClient() accepted a junk ceiling")
	}
}

func TestDoPassesThroughNon402(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	c, _ := testClient(t, "http://127.0.0.1:0", "$10.00")
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want non-402 passed through", resp.StatusCode)
	}
}
