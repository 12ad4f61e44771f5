package httpapi

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"qms/transaction-service/internal/models"
)

type serverServiceRequest struct {
	ServiceID string `json:"service_id"`
	// AverageDuration is in minutes.
	AverageDuration *float64 `json:"average_duration"`
}

type createServerRequest struct {
	DepartmentID string                 `json:"department_id"`
	Name         string                 `json:"name"`
	Services     []serverServiceRequest `json:"services"`
}

type renameServerRequest struct {
	Name string `json:"name"`
}

type syncServicesRequest struct {
	Services []serverServiceRequest `json:"services"`
}

type serverServiceResponse struct {
	ServiceID              string  `json:"service_id"`
	AverageDuration        float64 `json:"average_duration"`
	AverageDurationSeconds int64   `json:"average_duration_seconds"`
}

type serverResponse struct {
	ServerID     string                  `json:"server_id"`
	DepartmentID string                  `json:"department_id"`
	Name         string                  `json:"name"`
	Services     []serverServiceResponse `json:"services"`
}

func (h *Handler) handleServers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, permissionServersManage); !ok {
		return
	}
	requestID := requestIDFromRequest(r)
	switch r.Method {
	case http.MethodGet:
		departmentID := strings.TrimSpace(r.URL.Query().Get("department_id"))
		servers, err := h.servers.ListServers(r.Context(), departmentID)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, requestID, status, code, message)
			return
		}
		resp := make([]serverResponse, 0, len(servers))
		for _, server := range servers {
			resp = append(resp, toServerResponse(server))
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req createServerRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		req.DepartmentID = strings.TrimSpace(req.DepartmentID)
		req.Name = strings.TrimSpace(req.Name)
		if req.DepartmentID == "" || req.Name == "" {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "department_id and name are required")
			return
		}
		services, ok := parseServerServices(w, r, req.Services)
		if !ok {
			return
		}
		created, err := h.servers.CreateServer(r.Context(), models.Server{
			DepartmentID: req.DepartmentID,
			Name:         req.Name,
		}, services)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, requestID, status, code, message)
			return
		}
		writeJSON(w, http.StatusCreated, toServerResponse(created))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleServerRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/servers/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if parts[0] == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "services") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, ok := requirePermission(w, r, permissionServersManage); !ok {
		return
	}
	if len(parts) == 2 {
		h.handleServerServices(w, r, parts[0])
		return
	}

	serverID := parts[0]
	requestID := requestIDFromRequest(r)
	switch r.Method {
	case http.MethodGet:
		server, err := h.servers.GetServer(r.Context(), serverID)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, requestID, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, toServerResponse(server))
	case http.MethodPut, http.MethodPatch:
		var req renameServerRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "name is required")
			return
		}
		updated, err := h.servers.RenameServer(r.Context(), serverID, name)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, requestID, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, toServerResponse(updated))
	case http.MethodDelete:
		if err := h.servers.DeleteServer(r.Context(), serverID); err != nil {
			status, code, message := mapError(err)
			writeError(w, requestID, status, code, message)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleServerServices replaces the full set of services a server offers.
func (h *Handler) handleServerServices(w http.ResponseWriter, r *http.Request, serverID string) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req syncServicesRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	services, ok := parseServerServices(w, r, req.Services)
	if !ok {
		return
	}
	updated, err := h.servers.SyncServerServices(r.Context(), serverID, services)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, message)
		return
	}
	writeJSON(w, http.StatusOK, toServerResponse(updated))
}

func parseServerServices(w http.ResponseWriter, r *http.Request, items []serverServiceRequest) ([]models.ServerService, bool) {
	out := make([]models.ServerService, 0, len(items))
	for _, item := range items {
		serviceID := strings.TrimSpace(item.ServiceID)
		if serviceID == "" {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "service_id is required")
			return nil, false
		}
		if item.AverageDuration == nil || *item.AverageDuration < 0 || math.IsNaN(*item.AverageDuration) || math.IsInf(*item.AverageDuration, 0) {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "average_duration must be a non-negative number of minutes")
			return nil, false
		}
		out = append(out, models.ServerService{
			ServiceID:       serviceID,
			AverageDuration: time.Duration(*item.AverageDuration * float64(time.Minute)).Truncate(time.Second),
		})
	}
	return out, true
}

func toServerResponse(server models.ServerDetail) serverResponse {
	resp := serverResponse{
		ServerID:     server.ServerID,
		DepartmentID: server.DepartmentID,
		Name:         server.Name,
		Services:     make([]serverServiceResponse, 0, len(server.Services)),
	}
	for _, service := range server.Services {
		resp.Services = append(resp.Services, serverServiceResponse{
			ServiceID:              service.ServiceID,
			AverageDuration:        minutes(service.AverageDuration),
			AverageDurationSeconds: seconds(service.AverageDuration),
		})
	}
	return resp
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}
