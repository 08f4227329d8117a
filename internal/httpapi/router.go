package httpapi

import (
	"net/http"

	"github.com/parlakisik/agent-passport/internal/service"
)

func NewRouter(svc *service.Service) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/agents", svc.HandleRegisterAgent)
	mux.HandleFunc("GET /v1/agents", svc.HandleListAgents)
	// DIDs contain slashes, so per-agent routes match on the prefix and
	// the handler resolves the subresource.
	mux.HandleFunc("GET /v1/agents/", svc.HandleAgentGet)
	mux.HandleFunc("POST /v1/agents/", svc.HandleAgentPost)
	mux.HandleFunc("DELETE /v1/agents/", svc.HandleAgentRevoke)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return mux
}
