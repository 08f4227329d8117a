package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parlakisik/agent-passport/identity"
	"github.com/parlakisik/agent-passport/registry"
	"github.com/parlakisik/agent-passport/reputation"
)

// router mirrors httpapi.NewRouter; defined here to keep the test inside
// the package without an import cycle.
func testRouter(svc *Service) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/agents", svc.HandleRegisterAgent)
	mux.HandleFunc("GET /v1/agents", svc.HandleListAgents)
	mux.HandleFunc("GET /v1/agents/", svc.HandleAgentGet)
	mux.HandleFunc("POST /v1/agents/", svc.HandleAgentPost)
	mux.HandleFunc("DELETE /v1/agents/", svc.HandleAgentRevoke)
	return mux
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	issuer := identity.NewPassportIssuer([]byte("service test secret"))
	svc := New(registry.NewMemoryStore(), issuer)
	svc.Now = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	srv := httptest.NewServer(testRouter(svc))
	t.Cleanup(srv.Close)
	return srv
}

const registerBody = `{
	"namespace": "genomics",
	"agent_name": "annotator",
	"capabilities": ["annotate", "search"],
	"spending_caps": {"max_per_transaction": "$10", "max_daily": "$100"},
	"pricing": "$0.25",
	"sla": {"response_time_ms": 1000, "availability": 0.99, "accuracy": 0.99}
}`

func register(t *testing.T, srv *httptest.Server) registry.Agent {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/agents", "application/json", strings.NewReader(registerBody))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	var agent registry.Agent
	if err := json.NewDecoder(resp.Body).Decode(&agent); err != nil {
		t.Fatal(err)
	}
	return agent
}

func TestRegisterAgent(t *testing.T) {
	srv := testServer(t)
	agent := register(t, srv)

	if agent.DID != "did:agent:genomics/annotator-1.0.0" {
		t.Errorf("DID = %s", agent.DID)
	}
	if !identity.VerifyPassport(&agent.Passport) {
		t.Error("registered passport does not verify")
	}
	if agent.Reputation.UptimePercent != 100 {
		t.Errorf("fresh reputation = %+v", agent.Reputation)
	}

	// Same DID twice is a conflict.
	resp, err := http.Post(srv.URL+"/v1/agents", "application/json", strings.NewReader(registerBody))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", resp.StatusCode)
	}
}

func TestRegisterAgentValidation(t *testing.T) {
	srv := testServer(t)
	resp, err := http.Post(srv.URL+"/v1/agents", "application/json", strings.NewReader(`{"namespace":"genomics"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetAgentAndPassportVerify(t *testing.T) {
	srv := testServer(t)
	agent := register(t, srv)

	resp, err := http.Get(srv.URL + "/v1/agents/" + agent.DID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var got registry.Agent
	json.NewDecoder(resp.Body).Decode(&got)
	if got.DID != agent.DID {
		t.Errorf("got DID = %s", got.DID)
	}

	resp, err = http.Get(srv.URL + "/v1/agents/" + agent.DID + "/passport/verify")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var verdict map[string]any
	json.NewDecoder(resp.Body).Decode(&verdict)
	if verdict["valid"] != true {
		t.Errorf("passport verify = %v, want true", verdict["valid"])
	}
}

func TestGetAgentNotFound(t *testing.T) {
	srv := testServer(t)
	resp, err := http.Get(srv.URL + "/v1/agents/did:agent:x/ghost-1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRecordOutcomeUpdatesReputation(t *testing.T) {
	srv := testServer(t)
	agent := register(t, srv)

	post := func(body string) OutcomeResponse {
		t.Helper()
		resp, err := http.Post(srv.URL+"/v1/agents/"+agent.DID+"/outcomes", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("outcome status = %d", resp.StatusCode)
		}
		var out OutcomeResponse
		json.NewDecoder(resp.Body).Decode(&out)
		return out
	}

	out := post(`{"success": true, "response_time_ms": 200}`)
	if out.Reputation.TotalJobs != 1 || out.Reputation.SuccessfulJobs != 1 {
		t.Errorf("reputation after success = %+v", out.Reputation)
	}
	if out.OutcomeID == "" {
		t.Error("outcome id missing")
	}

	out = post(`{"success": false, "response_time_ms": 400}`)
	if out.Reputation.TotalJobs != 2 || out.Reputation.FailedJobs != 1 {
		t.Errorf("reputation after failure = %+v", out.Reputation)
	}

	// The update persisted.
	resp, err := http.Get(srv.URL + "/v1/agents/" + agent.DID + "/reputation")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var rep reputation.AgentReputation
	json.NewDecoder(resp.Body).Decode(&rep)
	if rep.TotalJobs != 2 {
		t.Errorf("persisted TotalJobs = %d, want 2", rep.TotalJobs)
	}
}

func TestSLACheck(t *testing.T) {
	srv := testServer(t)
	agent := register(t, srv)

	resp, err := http.Post(srv.URL+"/v1/agents/"+agent.DID+"/sla-check", "application/json",
		strings.NewReader(`{"observed_response_time_ms": 5000}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var report reputation.ComplianceReport
	json.NewDecoder(resp.Body).Decode(&report)
	if report.Compliant {
		t.Error("5000ms against a 1000ms SLA reported compliant")
	}
	if len(report.Violations) != 1 {
		t.Errorf("violations = %v", report.Violations)
	}
}

func TestRevokeAgent(t *testing.T) {
	srv := testServer(t)
	agent := register(t, srv)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/agents/"+agent.DID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status = %d, want 204", resp.StatusCode)
	}

	resp, _ = http.Get(srv.URL + "/v1/agents/" + agent.DID)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after revoke = %d, want 404", resp.StatusCode)
	}
}
