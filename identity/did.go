package identity

import (
	"fmt"
	"strings"
)

// DefaultDIDMethod is the DID method used for agents issued by this module.
const DefaultDIDMethod = "agent"

// DID names an agent within a namespace. The canonical string form is
// did:<method>:<namespace>/<agentName>-<version>. A DID is immutable once
// issued; a new agent version gets a new DID.
type DID struct {
	Method    string `json:"method"`
	Namespace string `json:"namespace"`
	AgentName string `json:"agent_name"`
	Version   string `json:"version"`
}

// NewDID builds a DID with the default method. An empty version defaults
// to "1.0.0".
func NewDID(namespace, agentName, version string) DID {
	if version == "" {
		version = "1.0.0"
	}
	return DID{
		Method:    DefaultDIDMethod,
		Namespace: namespace,
		AgentName: agentName,
		Version:   version,
	}
}

// String renders the canonical form.
func (d DID) String() string {
	return fmt.Sprintf("did:%s:%s/%s-%s", d.Method, d.Namespace, d.AgentName, d.Version)
}

// ParseDID parses the canonical string form. The version is everything
// after the last hyphen, so agent names may themselves contain hyphens.
func ParseDID(s string) (DID, error) {
	rest, ok := strings.CutPrefix(s, "did:")
	if !ok {
		return DID{}, fmt.Errorf("identity: %q is not a DID", s)
	}
	method, rest, ok := strings.Cut(rest, ":")
	if !ok || method == "" {
		return DID{}, fmt.Errorf("identity: DID %q has no method", s)
	}
	namespace, rest, ok := strings.Cut(rest, "/")
	if !ok || namespace == "" || rest == "" {
		return DID{}, fmt.Errorf("identity: DID %q has no namespace/name", s)
	}
	i := strings.LastIndexByte(rest, '-')
	if i <= 0 || i == len(rest)-1 {
		return DID{}, fmt.Errorf("identity: DID %q has no version", s)
	}
	return DID{
		Method:    method,
		Namespace: namespace,
		AgentName: rest[:i],
		Version:   rest[i+1:],
	}, nil
}
