package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"svchub/internal/protocol"
	"svchub/internal/services"
)

// writeJSON writes a JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes the uniform error body {"error":{code,message,data}}.
func writeError(w http.ResponseWriter, err *protocol.Error) {
	writeJSON(w, err.HTTPStatus(), map[string]interface{}{"error": err})
}

// checkAccess runs the authorize -> rate-check stages for an authenticated
// request. targetService may be empty for untargeted endpoints, which skip
// the scope check. Public paths carry no identity and skip both stages.
func (s *Server) checkAccess(r *http.Request, targetService string) *protocol.Error {
	identity := identityFrom(r.Context())
	if identity == nil {
		return nil
	}
	if targetService != "" {
		if err := s.auth.Authorize(identity, targetService); err != nil {
			return err
		}
	}
	return s.auth.CheckRateLimit(identity)
}

// handleHealth reports overall and per-service status. Always public.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.registry.Statuses()

	overall := "ok"
	for _, st := range statuses {
		if st.State == services.StateError {
			overall = "degraded"
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   overall,
		"uptime":   s.started.UTC().Format("2006-01-02T15:04:05Z07:00"),
		"services": statuses,
	})
}

// handleIdentity reports the caller's resolved identity profile, including
// its effective service scope.
func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if identity == nil {
		writeError(w, protocol.NewError(protocol.CodeAuthFailed, "authentication required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       identity.ID,
		"name":     identity.Name,
		"services": identity.AllowedServices(),
	})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	if err := s.checkAccess(r, ""); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": s.registry.Statuses()})
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.checkAccess(r, name); err != nil {
		writeError(w, err)
		return
	}

	status, err := s.registry.Status(name)
	if err != nil {
		writeError(w, protocol.Errorf(protocol.CodeServiceNotFound, "service %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleStartService is idempotent: starting a running service succeeds
// without effect.
func (s *Server) handleStartService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.checkAccess(r, name); err != nil {
		writeError(w, err)
		return
	}
	if !s.registry.Has(name) {
		writeError(w, protocol.Errorf(protocol.CodeServiceNotFound, "service %q not found", name))
		return
	}

	if err := s.registry.Start(r.Context(), name); err != nil {
		writeError(w, protocol.AsError(err))
		return
	}
	status, _ := s.registry.Status(name)
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStopService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.checkAccess(r, name); err != nil {
		writeError(w, err)
		return
	}
	if !s.registry.Has(name) {
		writeError(w, protocol.Errorf(protocol.CodeServiceNotFound, "service %q not found", name))
		return
	}

	if err := s.registry.Stop(r.Context(), name); err != nil {
		writeError(w, protocol.AsError(err))
		return
	}
	status, _ := s.registry.Status(name)
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRestartService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.checkAccess(r, name); err != nil {
		writeError(w, err)
		return
	}
	if !s.registry.Has(name) {
		writeError(w, protocol.Errorf(protocol.CodeServiceNotFound, "service %q not found", name))
		return
	}

	if err := s.registry.Restart(r.Context(), name); err != nil {
		writeError(w, protocol.AsError(err))
		return
	}
	status, _ := s.registry.Status(name)
	writeJSON(w, http.StatusOK, status)
}

// handleExecute routes a request whose target service is bound in the body.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req protocol.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, protocol.NewError(protocol.CodeInvalidParams, "invalid request body"))
		return
	}
	if req.Service == "" {
		writeError(w, protocol.NewError(protocol.CodeInvalidParams, "service must be set"))
		return
	}
	s.execute(w, r, &req)
}

// handleExecuteNamed routes a request whose target service is bound from
// the path; a service in the body is ignored in favor of the path.
func (s *Server) handleExecuteNamed(w http.ResponseWriter, r *http.Request) {
	var req protocol.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, protocol.NewError(protocol.CodeInvalidParams, "invalid request body"))
		return
	}
	req.Service = chi.URLParam(r, "name")
	s.execute(w, r, &req)
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, req *protocol.Request) {
	if err := s.checkAccess(r, req.Service); err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.router.Route(r.Context(), req)
	if err != nil {
		pe := protocol.AsError(err)
		writeJSON(w, pe.HTTPStatus(), protocol.NewErrorResponse(req.ID, pe))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
