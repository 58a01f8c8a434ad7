package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/eaglenode/vpsd/vps"
)

// CommandResponse is the uniform reply rendered for every command.
// Code carries the error kind on failure so the gateway can branch
// without parsing the human-readable message.
type CommandResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// createRequest is the body of /api/vps/create.
type createRequest struct {
	Name   string  `json:"name"`
	Image  string  `json:"image,omitempty"`
	Memory string  `json:"memory,omitempty"`
	CPUs   float64 `json:"cpus,omitempty"`
}

type nameRequest struct {
	Name  string `json:"name"`
	Force bool   `json:"force,omitempty"`
}

type execRequest struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// RegisterVPSHandlers registers the lifecycle command endpoints on mux.
func RegisterVPSHandlers(mux *http.ServeMux, manager *vps.Manager) {
	mux.HandleFunc("/api/ping", pingHandler)
	mux.HandleFunc("/api/vps/create", createHandler(manager))
	mux.HandleFunc("/api/vps/list", listHandler(manager))
	mux.HandleFunc("/api/vps/status", statusHandler(manager))
	mux.HandleFunc("/api/vps/start", transitionHandler(manager, "start"))
	mux.HandleFunc("/api/vps/stop", transitionHandler(manager, "stop"))
	mux.HandleFunc("/api/vps/restart", transitionHandler(manager, "restart"))
	mux.HandleFunc("/api/vps/delete", deleteHandler(manager))
	mux.HandleFunc("/api/vps/exec", execHandler(manager))
	mux.HandleFunc("/api/vps/backup", backupHandler(manager))
	mux.HandleFunc("/api/vps/restore", restoreHandler(manager))
}

// callerFrom extracts the caller identity resolved by the chat
// gateway. The gateway is trusted; vpsd does not authenticate callers
// itself.
func callerFrom(r *http.Request) vps.Caller {
	caller := vps.Caller{ID: strings.TrimSpace(r.Header.Get("X-Caller-Id"))}
	if roles := r.Header.Get("X-Caller-Roles"); roles != "" {
		for _, role := range strings.Split(roles, ",") {
			if role = strings.TrimSpace(role); role != "" {
				caller.Roles = append(caller.Roles, role)
			}
		}
	}
	return caller
}

func writeResponse(w http.ResponseWriter, status int, resp CommandResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Error encoding command response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeResponse(w, httpStatusFor(err), CommandResponse{
		Success: false,
		Code:    string(vps.KindOf(err)),
		Message: err.Error(),
	})
}

// httpStatusFor maps error kinds onto HTTP statuses. The gateway only
// looks at the body, but well-behaved statuses keep proxies and logs
// honest.
func httpStatusFor(err error) int {
	switch vps.KindOf(err) {
	case vps.KindNotManaged, vps.KindRuntimeObjectMissing:
		return http.StatusNotFound
	case vps.KindPermissionDenied:
		return http.StatusForbidden
	case vps.KindDuplicateName:
		return http.StatusConflict
	case vps.KindPolicyViolation, vps.KindQuotaExceeded:
		return http.StatusUnprocessableEntity
	case vps.KindRuntimeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeResponse(w, http.StatusBadRequest, CommandResponse{
			Success: false,
			Code:    "bad_request",
			Message: fmt.Sprintf("invalid request body: %v", err),
		})
		return false
	}
	return true
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func requireCaller(w http.ResponseWriter, caller vps.Caller) bool {
	if caller.ID == "" {
		writeResponse(w, http.StatusBadRequest, CommandResponse{
			Success: false,
			Code:    "bad_request",
			Message: "missing X-Caller-Id header",
		})
		return false
	}
	return true
}

func pingHandler(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, http.StatusOK, CommandResponse{
		Success: true,
		Message: "Pong! vpsd is active.",
	})
}

func createHandler(manager *vps.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		caller := callerFrom(r)
		if !requireCaller(w, caller) {
			return
		}
		var req createRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" {
			writeResponse(w, http.StatusBadRequest, CommandResponse{
				Success: false, Code: "bad_request", Message: "name is required",
			})
			return
		}

		rec, err := manager.Create(r.Context(), req.Name, req.Image, caller, vps.ResourceLimits{
			Memory: req.Memory,
			CPUs:   req.CPUs,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeResponse(w, http.StatusOK, CommandResponse{
			Success: true,
			Message: fmt.Sprintf("VPS %s created successfully (container %s)", rec.Name, rec.Container.ShortID),
			Data:    rec,
		})
	}
}

func listHandler(manager *vps.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFrom(r)
		if !requireCaller(w, caller) {
			return
		}
		instances := manager.List(r.Context(), caller)
		writeResponse(w, http.StatusOK, CommandResponse{
			Success: true,
			Message: fmt.Sprintf("you own %d instance(s)", len(instances)),
			Data:    instances,
		})
	}
}

func statusHandler(manager *vps.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFrom(r)
		if !requireCaller(w, caller) {
			return
		}
		name := r.URL.Query().Get("name")
		if name == "" {
			writeResponse(w, http.StatusBadRequest, CommandResponse{
				Success: false, Code: "bad_request", Message: "name is required",
			})
			return
		}
		status, err := manager.Status(r.Context(), name, caller)
		if err != nil {
			writeError(w, err)
			return
		}
		message := fmt.Sprintf("VPS %s is %s", status.Name, status.Status)
		if status.Status == vps.StatusMissing {
			message = fmt.Sprintf("VPS %s has no backing container; delete it to clean up", status.Name)
		}
		writeResponse(w, http.StatusOK, CommandResponse{
			Success: true,
			Message: message,
			Data:    status,
		})
	}
}

func transitionHandler(manager *vps.Manager, verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		caller := callerFrom(r)
		if !requireCaller(w, caller) {
			return
		}
		var req nameRequest
		if !decodeBody(w, r, &req) {
			return
		}

		var err error
		switch verb {
		case "start":
			err = manager.Start(r.Context(), req.Name, caller)
		case "stop":
			err = manager.Stop(r.Context(), req.Name, caller)
		case "restart":
			err = manager.Restart(r.Context(), req.Name, caller)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeResponse(w, http.StatusOK, CommandResponse{
			Success: true,
			Message: fmt.Sprintf("VPS %s %s requested", req.Name, verb),
		})
	}
}

func deleteHandler(manager *vps.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		caller := callerFrom(r)
		if !requireCaller(w, caller) {
			return
		}
		var req nameRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := manager.Delete(r.Context(), req.Name, caller, req.Force); err != nil {
			writeError(w, err)
			return
		}
		writeResponse(w, http.StatusOK, CommandResponse{
			Success: true,
			Message: fmt.Sprintf("VPS %s deleted", req.Name),
		})
	}
}

func execHandler(manager *vps.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		caller := callerFrom(r)
		if !requireCaller(w, caller) {
			return
		}
		var req execRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Command == "" {
			writeResponse(w, http.StatusBadRequest, CommandResponse{
				Success: false, Code: "bad_request", Message: "command is required",
			})
			return
		}
		result, err := manager.Exec(r.Context(), req.Name, caller, req.Command)
		if err != nil {
			writeError(w, err)
			return
		}
		writeResponse(w, http.StatusOK, CommandResponse{
			Success: true,
			Message: renderExecOutput(result),
			Data:    result,
		})
	}
}

// renderExecOutput combines the captured streams into one display
// string, stderr last so errors stay visible after chat truncation.
func renderExecOutput(result vps.ExecResult) string {
	var parts []string
	if result.Stdout != "" {
		parts = append(parts, result.Stdout)
	}
	if result.Stderr != "" {
		parts = append(parts, "stderr:\n"+result.Stderr)
	}
	if len(parts) == 0 {
		return "(no output)"
	}
	return strings.Join(parts, "\n")
}

func backupHandler(manager *vps.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		caller := callerFrom(r)
		if !requireCaller(w, caller) {
			return
		}
		if err := manager.Save(caller); err != nil {
			writeError(w, err)
			return
		}
		writeResponse(w, http.StatusOK, CommandResponse{
			Success: true,
			Message: "registry backed up",
		})
	}
}

func restoreHandler(manager *vps.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}
		caller := callerFrom(r)
		if !requireCaller(w, caller) {
			return
		}
		if err := manager.Restore(caller); err != nil {
			writeError(w, err)
			return
		}
		writeResponse(w, http.StatusOK, CommandResponse{
			Success: true,
			Message: "registry restored from durable storage",
		})
	}
}
