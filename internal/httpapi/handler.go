package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strings"
	"time"

	"qms/transaction-service/internal/engine"
	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/store"

	"github.com/google/uuid"
)

// Service is the engine surface the handlers drive.
type Service interface {
	Enqueue(ctx context.Context, user models.User, req engine.EnqueueRequest) (engine.EnqueueResult, error)
	AdvanceFlow(ctx context.Context, actor models.User, transactionID string) (engine.AdvanceResult, error)
	EstimateWait(ctx context.Context, queueID string) (time.Duration, error)
	UpdateQueueStatus(ctx context.Context, queueID, action string) (models.Queue, error)
	QueueAudit(ctx context.Context, queueID string) (engine.QueueAudit, error)
	ListQueuesForUser(ctx context.Context, userID string, day models.BusinessDay) ([]engine.QueueView, error)
	ListFlowTransactions(ctx context.Context, userID string, day models.BusinessDay) ([]models.Transaction, error)
	AvailableDepartments(ctx context.Context, userID string, day models.BusinessDay) ([]engine.DepartmentAvailability, error)
	Today() models.BusinessDay
}

var _ Service = (*engine.Engine)(nil)

type Handler struct {
	service Service
	servers store.ServerAdmin
}

type enqueueRequest struct {
	DepartmentID string `json:"department_id"`
	ServiceID    string `json:"service_id"`
	FlowID       string `json:"flow_id"`
	Guest        bool   `json:"guest"`
}

type enqueueResponse struct {
	Status             bool           `json:"status"`
	Message            string         `json:"message,omitempty"`
	RequestID          string         `json:"request_id,omitempty"`
	TransactionID      string         `json:"transaction_id,omitempty"`
	QueueID            string         `json:"queue_id,omitempty"`
	PriorityNumber     string         `json:"priority_number,omitempty"`
	WaitingTime        float64        `json:"waiting_time"`
	WaitingTimeSeconds int64          `json:"waiting_time_seconds"`
	Error              *responseError `json:"error,omitempty"`
}

type waitingTimeResponse struct {
	QueueID            string  `json:"queue_id"`
	WaitingTime        float64 `json:"waiting_time"`
	WaitingTimeSeconds int64   `json:"waiting_time_seconds"`
}

type advanceResponse struct {
	Transaction        models.Transaction   `json:"transaction"`
	Completed          models.StepInstance  `json:"completed"`
	Closed             models.Queue         `json:"closed"`
	Started            *models.StepInstance `json:"started,omitempty"`
	Queue              *models.Queue        `json:"queue,omitempty"`
	WaitingTime        float64              `json:"waiting_time"`
	WaitingTimeSeconds int64                `json:"waiting_time_seconds"`
	Finished           bool                 `json:"finished"`
}

type queueViewResponse struct {
	models.Queue
	Department         models.Department `json:"department"`
	WaitingTime        float64           `json:"waiting_time"`
	WaitingTimeSeconds int64             `json:"waiting_time_seconds"`
	TotalQueues        int               `json:"total_queues"`
}

type myQueuesResponse struct {
	Day              models.BusinessDay   `json:"day"`
	Queues           []queueViewResponse  `json:"queues"`
	FlowTransactions []models.Transaction `json:"flow_transactions"`
}

type departmentResponse struct {
	models.Department
	TotalQueues int              `json:"total_queues"`
	Services    []models.Service `json:"services"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(service Service, servers store.ServerAdmin) *Handler {
	return &Handler{service: service, servers: servers}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/api/transactions", h.handleTransactions)
	mux.HandleFunc("/api/transactions/", h.handleTransactionActions)
	mux.HandleFunc("/api/queues/", h.handleQueueRoutes)
	mux.HandleFunc("/api/me/queues", h.handleMyQueues)
	mux.HandleFunc("/api/me/departments", h.handleMyDepartments)
	mux.HandleFunc("/api/admin/servers", h.handleServers)
	mux.HandleFunc("/api/admin/servers/", h.handleServerRoutes)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	requestID := requestIDFromRequest(r)

	var req enqueueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.DepartmentID = strings.TrimSpace(req.DepartmentID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.FlowID = strings.TrimSpace(req.FlowID)

	result, err := h.service.Enqueue(r.Context(), user, engine.EnqueueRequest{
		DepartmentID: req.DepartmentID,
		ServiceID:    req.ServiceID,
		FlowID:       req.FlowID,
		Guest:        req.Guest,
	})
	if err != nil {
		status, code, message := mapError(err)
		writeJSON(w, status, enqueueResponse{
			Status:    false,
			Message:   message,
			RequestID: requestID,
			Error:     &responseError{Code: code, Message: message},
		})
		return
	}
	writeJSON(w, http.StatusOK, enqueueResponse{
		Status:             true,
		Message:            result.Message,
		RequestID:          requestID,
		TransactionID:      result.TransactionID,
		QueueID:            result.QueueID,
		PriorityNumber:     result.PriorityNumber,
		WaitingTime:        minutes(result.WaitingTime),
		WaitingTimeSeconds: seconds(result.WaitingTime),
	})
}

func (h *Handler) handleTransactionActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "advance" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	transactionID := parts[0]
	if !isValidUUID(transactionID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "transaction_id must be a UUID")
		return
	}

	result, err := h.service.AdvanceFlow(r.Context(), user, transactionID)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, message)
		return
	}
	writeJSON(w, http.StatusOK, advanceResponse{
		Transaction:        result.Transaction,
		Completed:          result.Completed,
		Closed:             result.Closed,
		Started:            result.Started,
		Queue:              result.Queue,
		WaitingTime:        minutes(result.WaitingTime),
		WaitingTimeSeconds: seconds(result.WaitingTime),
		Finished:           result.Finished,
	})
}

func (h *Handler) handleQueueRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queues/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[1] == "waiting-time":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleWaitingTime(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleQueueAction(w, r, parts[0], parts[2])
	case len(parts) == 2 && parts[1] == "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleQueueEvents(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleWaitingTime(w http.ResponseWriter, r *http.Request, queueID string) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	if !isValidUUID(queueID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "queue_id must be a UUID")
		return
	}
	wait, err := h.service.EstimateWait(r.Context(), queueID)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, message)
		return
	}
	writeJSON(w, http.StatusOK, waitingTimeResponse{
		QueueID:            queueID,
		WaitingTime:        minutes(wait),
		WaitingTimeSeconds: seconds(wait),
	})
}

func (h *Handler) handleQueueAction(w http.ResponseWriter, r *http.Request, queueID, action string) {
	if _, ok := requirePermission(w, r, permissionQueueManage); !ok {
		return
	}
	if !isValidUUID(queueID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "queue_id must be a UUID")
		return
	}
	switch action {
	case "call", "skip", "requeue", "serve":
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	queue, err := h.service.UpdateQueueStatus(r.Context(), queueID, action)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, message)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

func (h *Handler) handleQueueEvents(w http.ResponseWriter, r *http.Request, queueID string) {
	if _, ok := requirePermission(w, r, permissionAuditRead); !ok {
		return
	}
	if !isValidUUID(queueID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "queue_id must be a UUID")
		return
	}
	audit, err := h.service.QueueAudit(r.Context(), queueID)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, message)
		return
	}
	if audit.Events == nil {
		audit.Events = []store.QueueEvent{}
	}
	writeJSON(w, http.StatusOK, audit)
}

func (h *Handler) handleMyQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	day, ok := h.dayFromQuery(w, r)
	if !ok {
		return
	}

	views, err := h.service.ListQueuesForUser(r.Context(), user.UserID, day)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, message)
		return
	}
	txns, err := h.service.ListFlowTransactions(r.Context(), user.UserID, day)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, message)
		return
	}

	resp := myQueuesResponse{
		Day:              day,
		Queues:           make([]queueViewResponse, 0, len(views)),
		FlowTransactions: txns,
	}
	if resp.FlowTransactions == nil {
		resp.FlowTransactions = []models.Transaction{}
	}
	for _, view := range views {
		resp.Queues = append(resp.Queues, queueViewResponse{
			Queue:              view.Queue,
			Department:         view.Department,
			WaitingTime:        minutes(view.WaitingTime),
			WaitingTimeSeconds: seconds(view.WaitingTime),
			TotalQueues:        view.OpenQueues,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleMyDepartments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	day, ok := h.dayFromQuery(w, r)
	if !ok {
		return
	}

	available, err := h.service.AvailableDepartments(r.Context(), user.UserID, day)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, message)
		return
	}
	resp := make([]departmentResponse, 0, len(available))
	for _, item := range available {
		services := item.Services
		if services == nil {
			services = []models.Service{}
		}
		resp = append(resp, departmentResponse{
			Department:  item.Department,
			TotalQueues: item.OpenQueues,
			Services:    services,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) dayFromQuery(w http.ResponseWriter, r *http.Request) (models.BusinessDay, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("day"))
	if raw == "" {
		return h.service.Today(), true
	}
	day, err := models.ParseBusinessDay(raw)
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "day must be YYYY-MM-DD")
		return "", false
	}
	return day, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func minutes(d time.Duration) float64 {
	return d.Minutes()
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

func mapError(err error) (int, string, string) {
	var engErr *engine.Error
	if !errors.As(err, &engErr) {
		return mapStoreError(err)
	}
	switch engErr.Kind {
	case engine.KindInvalidRequest:
		return http.StatusBadRequest, string(engErr.Kind), engErr.Message
	case engine.KindDuplicateQueue, engine.KindInvalidState:
		return http.StatusConflict, string(engErr.Kind), engErr.Message
	case engine.KindFlowNotFound, engine.KindDepartmentNotFound, engine.KindServiceNotFound,
		engine.KindQueueNotFound, engine.KindTransactionNotFound:
		return http.StatusNotFound, string(engErr.Kind), engErr.Message
	case engine.KindAccessDenied:
		return http.StatusForbidden, string(engErr.Kind), engErr.Message
	case engine.KindQueueCreationFailed:
		return http.StatusUnprocessableEntity, string(engErr.Kind), engErr.Message
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

// mapStoreError covers the admin routes, which call the store directly.
func mapStoreError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrServerNotFound):
		return http.StatusNotFound, "server_not_found", "Server not found."
	case errors.Is(err, store.ErrDepartmentNotFound):
		return http.StatusNotFound, "department_not_found", "Department not found."
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "Service not found."
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
