// Package registry is the durable store of agent records keyed by DID.
// One record per DID, single writer per DID expected; concurrent writers
// to the same DID must go through UpdateAgent.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/parlakisik/agent-passport/identity"
	"github.com/parlakisik/agent-passport/reputation"
)

var (
	ErrNotFound      = errors.New("registry: agent not found")
	ErrAlreadyExists = errors.New("registry: agent already registered")
	ErrConflict      = errors.New("registry: concurrent update conflict")
)

// Agent is the persisted record for one registered agent: the full
// passport, its SLA, what it charges per call, and its running
// reputation.
type Agent struct {
	DID        string                     `json:"did" bson:"did"`
	Passport   identity.Passport          `json:"passport" bson:"passport"`
	SLA        reputation.AgentSLA        `json:"sla" bson:"sla"`
	Pricing    string                     `json:"pricing,omitempty" bson:"pricing,omitempty"` // per-call price, e.g. "$0.25"
	Reputation reputation.AgentReputation `json:"reputation" bson:"reputation"`
	CreatedAt  time.Time                  `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time                  `json:"updated_at" bson:"updated_at"`
}

// Store is the agent registry. GetAgent returns ErrNotFound for unknown
// DIDs; PutAgent returns ErrAlreadyExists for a second registration of
// the same DID. DeleteAgent is how a passport is revoked.
type Store interface {
	PutAgent(ctx context.Context, a Agent) error
	GetAgent(ctx context.Context, did string) (*Agent, error)
	DeleteAgent(ctx context.Context, did string) error
	ListAgents(ctx context.Context) ([]Agent, error)

	// UpdateAgent applies fn to the current record under the store's
	// per-key write exclusion and persists the result atomically. fn
	// returning an error aborts the update.
	UpdateAgent(ctx context.Context, did string, fn func(*Agent) error) (*Agent, error)
}
