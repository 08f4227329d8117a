// Package service implements the registry HTTP handlers: agent
// registration, lookup, revocation, job outcome recording and SLA
// checks.
package service

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parlakisik/agent-passport/identity"
	"github.com/parlakisik/agent-passport/registry"
	"github.com/parlakisik/agent-passport/reputation"
)

type Service struct {
	store  registry.Store
	issuer *identity.PassportIssuer

	// Now is overridable in tests.
	Now func() time.Time
}

func New(st registry.Store, issuer *identity.PassportIssuer) *Service {
	return &Service{store: st, issuer: issuer, Now: time.Now}
}

type RegisterAgentRequest struct {
	Namespace    string                `json:"namespace"`
	AgentName    string                `json:"agent_name"`
	Version      string                `json:"version,omitempty"`
	Capabilities []string              `json:"capabilities"`
	SpendingCaps identity.SpendingCaps `json:"spending_caps"`
	Description  string                `json:"description,omitempty"`
	Pricing      string                `json:"pricing,omitempty"`
	SLA          reputation.AgentSLA   `json:"sla"`
}

func (s *Service) HandleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req RegisterAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Namespace == "" || req.AgentName == "" {
		http.Error(w, "namespace and agent_name are required", http.StatusBadRequest)
		return
	}

	passport, err := s.issuer.Create(identity.CreatePassportRequest{
		Namespace:    req.Namespace,
		AgentName:    req.AgentName,
		Version:      req.Version,
		Capabilities: req.Capabilities,
		SpendingCaps: req.SpendingCaps,
		Description:  req.Description,
	})
	if errors.Is(err, identity.ErrNoSigner) {
		http.Error(w, "no signer available", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	now := s.Now().UTC()
	agent := registry.Agent{
		DID:        passport.DID,
		Passport:   *passport,
		SLA:        req.SLA,
		Pricing:    req.Pricing,
		Reputation: reputation.NewReputation(now),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.PutAgent(ctx, agent); err != nil {
		if errors.Is(err, registry.ErrAlreadyExists) {
			http.Error(w, "agent already registered", http.StatusConflict)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "agent registered",
		"did", agent.DID,
		"wallet", passport.WalletAddress,
		"pricing", agent.Pricing,
	)
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Service) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if agents == nil {
		agents = []registry.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// HandleAgentGet serves GET /v1/agents/{did}[/reputation|/passport/verify].
// DIDs contain slashes, so subresources are routed by suffix.
func (s *Service) HandleAgentGet(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/agents/")

	switch {
	case strings.HasSuffix(rest, "/passport/verify"):
		did := strings.TrimSuffix(rest, "/passport/verify")
		agent, ok := s.fetch(w, r, did)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"did":   agent.DID,
			"valid": identity.VerifyPassport(&agent.Passport),
		})

	case strings.HasSuffix(rest, "/reputation"):
		agent, ok := s.fetch(w, r, strings.TrimSuffix(rest, "/reputation"))
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, agent.Reputation)

	default:
		agent, ok := s.fetch(w, r, rest)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, agent)
	}
}

// HandleAgentRevoke serves DELETE /v1/agents/{did}. Deletion is the
// revocation mechanism; passports carry no revoked flag.
func (s *Service) HandleAgentRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	did := strings.TrimPrefix(r.URL.Path, "/v1/agents/")
	if did == "" {
		http.Error(w, "did is required", http.StatusBadRequest)
		return
	}
	if err := s.store.DeleteAgent(ctx, did); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			http.Error(w, "agent not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	slog.InfoContext(ctx, "agent revoked", "did", did)
	w.WriteHeader(http.StatusNoContent)
}

type OutcomeRequest struct {
	Success        bool  `json:"success"`
	ResponseTimeMs int64 `json:"response_time_ms"`
}

type OutcomeResponse struct {
	OutcomeID  string                     `json:"outcome_id"`
	DID        string                     `json:"did"`
	Reputation reputation.AgentReputation `json:"reputation"`
}

type SLACheckRequest struct {
	ObservedResponseTimeMs int64 `json:"observed_response_time_ms"`
}

// HandleAgentPost serves POST /v1/agents/{did}/outcomes and
// POST /v1/agents/{did}/sla-check.
func (s *Service) HandleAgentPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rest := strings.TrimPrefix(r.URL.Path, "/v1/agents/")

	switch {
	case strings.HasSuffix(rest, "/outcomes"):
		did := strings.TrimSuffix(rest, "/outcomes")
		var req OutcomeRequest
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		updated, err := s.store.UpdateAgent(ctx, did, func(a *registry.Agent) error {
			a.Reputation = reputation.Update(a.Reputation, a.SLA, req.Success, req.ResponseTimeMs, s.Now())
			return nil
		})
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				http.Error(w, "agent not found", http.StatusNotFound)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		outcomeID := uuid.NewString()
		slog.InfoContext(ctx, "job outcome recorded",
			"outcome_id", outcomeID,
			"did", did,
			"success", req.Success,
			"response_time_ms", req.ResponseTimeMs,
			"score", updated.Reputation.Score,
		)
		writeJSON(w, http.StatusOK, OutcomeResponse{
			OutcomeID:  outcomeID,
			DID:        did,
			Reputation: updated.Reputation,
		})

	case strings.HasSuffix(rest, "/sla-check"):
		did := strings.TrimSuffix(rest, "/sla-check")
		var req SLACheckRequest
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		agent, ok := s.fetch(w, r, did)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, reputation.CheckSLACompliance(agent.SLA, agent.Reputation, req.ObservedResponseTimeMs))

	default:
		http.Error(w, "unknown operation", http.StatusNotFound)
	}
}

func (s *Service) fetch(w http.ResponseWriter, r *http.Request, did string) (*registry.Agent, bool) {
	if did == "" {
		http.Error(w, "did is required", http.StatusBadRequest)
		return nil, false
	}
	agent, err := s.store.GetAgent(r.Context(), did)
	if errors.Is(err, registry.ErrNotFound) {
		http.Error(w, "agent not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	return agent, true
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	defer func() { _ = r.Body.Close() }()
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
