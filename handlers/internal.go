package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"prebuildd/headless"
	"prebuildd/models"
)

// InternalHandler serves the callback through which the workspace
// subsystem reports build state changes. It is authenticated with a
// shared secret; the event is published on the headless bus for the
// status maintainer and any waiting retrigger call.
type InternalHandler struct {
	sharedSecret string
	bus          *headless.Bus
}

func NewInternalHandler(sharedSecret string, bus *headless.Bus) *InternalHandler {
	return &InternalHandler{sharedSecret: sharedSecret, bus: bus}
}

type WorkspaceStatusRequest struct {
	State models.PrebuildState `json:"state"`
	Error string               `json:"error,omitempty"`
}

func (h *InternalHandler) HandleWorkspaceStatus(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		log.Printf("⚠️ Unauthorized workspace status callback from %s", r.RemoteAddr)
		writeErrorResponse(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	workspaceID := mux.Vars(r)["workspaceId"]
	var req WorkspaceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.State == "" {
		writeErrorResponse(w, "state is required", http.StatusBadRequest)
		return
	}

	log.Printf("📋 Workspace %s reported state: %s", workspaceID, req.State)
	h.bus.Publish(headless.CompletionEvent{
		WorkspaceID: workspaceID,
		State:       req.State,
		Error:       req.Error,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *InternalHandler) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	provided := strings.TrimPrefix(header, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.sharedSecret)) == 1
}
