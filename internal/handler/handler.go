package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"tunet/internal/domain"
	"tunet/internal/session"
	"tunet/internal/trigger"
)

// Trigger exposes the background runner to the API
type Trigger interface {
	Notify(c trigger.Change)
	Last() (trigger.Outcome, bool)
}

// SessionHandler handles session API requests
type SessionHandler struct {
	sess    *session.Session
	trigger Trigger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sess *session.Session) *SessionHandler {
	return &SessionHandler{sess: sess}
}

// SetTrigger sets the background runner
func (h *SessionHandler) SetTrigger(t Trigger) {
	h.trigger = t
}

// Routes registers the API on r
func (h *SessionHandler) Routes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", h.GetStatus).Methods(http.MethodGet)
	api.HandleFunc("/devices", h.ListDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{query}/drop", h.DropDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/{mac}/name", h.RenameDevice).Methods(http.MethodPut)
	api.HandleFunc("/logon", h.LogOn).Methods(http.MethodPost)
	api.HandleFunc("/refresh", h.Refresh).Methods(http.MethodPost)
	api.HandleFunc("/trigger", h.GetTrigger).Methods(http.MethodGet)
	api.HandleFunc("/trigger", h.PostTrigger).Methods(http.MethodPost)
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// GetStatus returns the session state
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.sess.Status(), http.StatusOK)
}

// ListDevices returns the online devices
func (h *SessionHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.sess.Devices()
	infos := make([]session.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, d.Info())
	}
	writeJSON(w, infos, http.StatusOK)
}

// DropResponse reports the outcome of a drop
type DropResponse struct {
	Device  session.DeviceInfo `json:"device"`
	Dropped bool               `json:"dropped"`
}

// DropDevice forces one device offline
func (h *SessionHandler) DropDevice(w http.ResponseWriter, r *http.Request) {
	query := mux.Vars(r)["query"]

	matches := h.sess.FindDevice(query)
	switch len(matches) {
	case 0:
		writeError(w, "Device not found", query, http.StatusNotFound)
		return
	case 1:
	default:
		writeError(w, "Ambiguous device", query+" matches "+strconv.Itoa(len(matches))+" devices; use the MAC address", http.StatusConflict)
		return
	}

	device := matches[0]
	dropped, err := device.Drop(r.Context())
	if err != nil {
		// Only cancellation surfaces here
		writeError(w, "Drop cancelled", err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, DropResponse{Device: device.Info(), Dropped: dropped}, http.StatusOK)
}

// RenameRequest is the body of a rename
type RenameRequest struct {
	Name string `json:"name"`
}

// RenameDevice sets the display name for a MAC address. The device does not
// have to be online.
func (h *SessionHandler) RenameDevice(w http.ResponseWriter, r *http.Request) {
	mac, err := domain.ParseMac(mux.Vars(r)["mac"])
	if err != nil {
		writeError(w, "Invalid MAC address", err.Error(), http.StatusBadRequest)
		return
	}

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.rename(r.Context(), mac, req.Name); err != nil {
		if errors.Is(err, session.ErrCannotRename) {
			writeError(w, "Cannot rename device", err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("Failed to rename %s: %v", mac, err)
		writeError(w, "Failed to rename device", err.Error(), http.StatusInternalServerError)
		return
	}

	name, _ := h.sess.Names().Lookup(mac)
	writeJSON(w, map[string]string{"mac": mac.String(), "name": name}, http.StatusOK)
}

// rename goes through the online device when there is one so subscribers
// see a renamed event
func (h *SessionHandler) rename(ctx context.Context, mac domain.MacAddress, name string) error {
	if matches := h.sess.FindDevice(mac.String()); len(matches) > 0 && !mac.IsUnknown() {
		return matches[0].SetName(ctx, name)
	}
	return h.sess.Names().Set(ctx, mac, name)
}

// LogOn logs the session on
func (h *SessionHandler) LogOn(w http.ResponseWriter, r *http.Request) {
	opts := session.LogOnOptions{CheckLink: r.URL.Query().Get("check_link") == "true"}

	if err := h.sess.LogOn(r.Context(), opts); err != nil {
		writeSessionError(w, "Failed to log on", err)
		return
	}
	writeJSON(w, h.sess.Status(), http.StatusOK)
}

// RefreshResponse carries the new state and what changed
type RefreshResponse struct {
	Status  session.Status          `json:"status"`
	Changes session.ReconcileResult `json:"changes"`
}

// Refresh re-reads balance, traffic and devices from the portal
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.sess.Refresh(r.Context())
	if err != nil {
		writeSessionError(w, "Failed to refresh", err)
		return
	}
	if err := h.sess.SaveCache(r.Context()); err != nil {
		log.Printf("Failed to save cache: %v", err)
	}
	writeJSON(w, RefreshResponse{Status: h.sess.Status(), Changes: result}, http.StatusOK)
}

// TriggerResponse describes the last background run
type TriggerResponse struct {
	Change     trigger.Change          `json:"change"`
	Action     string                  `json:"action"`
	LogOnErr   string                  `json:"logon_error,omitempty"`
	RefreshErr string                  `json:"refresh_error,omitempty"`
	Changes    session.ReconcileResult `json:"changes"`
}

// GetTrigger returns the last background run
func (h *SessionHandler) GetTrigger(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, "Background runner not enabled", "", http.StatusNotFound)
		return
	}
	out, ok := h.trigger.Last()
	if !ok {
		writeError(w, "No background run yet", "", http.StatusNotFound)
		return
	}

	resp := TriggerResponse{
		Change:  out.Change,
		Action:  out.Action.String(),
		Changes: out.Result,
	}
	if out.LogOnErr != nil {
		resp.LogOnErr = out.LogOnErr.Error()
	}
	if out.RefreshErr != nil {
		resp.RefreshErr = out.RefreshErr.Error()
	}
	writeJSON(w, resp, http.StatusOK)
}

// PostTrigger queues a manual background run
func (h *SessionHandler) PostTrigger(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, "Background runner not enabled", "", http.StatusNotFound)
		return
	}
	h.trigger.Notify(trigger.Change{Kind: trigger.ChangeManual})
	writeJSON(w, map[string]string{"status": "queued"}, http.StatusAccepted)
}

// Helper functions

// statusFor maps a session failure to an HTTP status
func statusFor(err error) int {
	switch session.KindOf(err) {
	case session.KindPassword, session.KindUserName:
		return http.StatusUnauthorized
	case session.KindNone:
		if session.IsCancellation(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func writeSessionError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s: %v", msg, err)
	}

	resp := ErrorResponse{Error: msg, Details: err.Error()}
	if kind := session.KindOf(err); kind != session.KindNone {
		resp.Kind = kind.String()
	}
	writeJSON(w, resp, status)
}

func writeError(w http.ResponseWriter, msg, details string, statusCode int) {
	writeJSON(w, ErrorResponse{Error: msg, Details: details}, statusCode)
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON: %v", err)
	}
}
