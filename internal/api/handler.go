package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arthapay/payouts/internal/domain"
	"github.com/arthapay/payouts/internal/payout"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payout_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"method", "endpoint"})

	payoutOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_requests_total",
		Help: "Payout attempts by terminal status",
	}, []string{"status"})
)

const gatewayFallbackMsg = "Payout could not be processed by the gateway"

type Handler struct {
	coordinator *payout.Coordinator
}

func NewHandler(c *payout.Coordinator) *Handler {
	return &Handler{coordinator: c}
}

type statusCheckRequest struct {
	RequestID string `json:"requestId"`
	TxnID     string `json:"txnId"`
	EnquiryID string `json:"enquiryId,omitempty"`
}

func (h *Handler) InitiatePayout(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/payouts"))
	defer timer.ObserveDuration()

	var req *domain.PayoutRequest
	if r.Body != nil {
		var body domain.PayoutRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			req = &body
		}
	}

	txn, err := h.coordinator.Initiate(r.Context(), bearerToken(r), req)
	if err != nil {
		h.respondFailure(w, err, "POST", "/payouts")
		if txn != nil {
			payoutOutcomes.WithLabelValues(txn.Status).Inc()
		}
		return
	}

	payoutOutcomes.WithLabelValues(txn.Status).Inc()
	h.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"payoutTransaction": map[string]string{
			"requestId":     txn.RequestID,
			"status":        txn.Status,
			"utr":           txn.UTR,
			"transactionId": txn.TransactionID,
		},
	}, "POST", "/payouts")
}

func (h *Handler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/payouts/status"))
	defer timer.ObserveDuration()

	var req statusCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/payouts/status")
		return
	}

	result, err := h.coordinator.Status(r.Context(), bearerToken(r), req.RequestID, req.TxnID, req.EnquiryID)
	if err != nil {
		h.respondFailure(w, err, "POST", "/payouts/status")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]string{
			"txnId":           result.TxnID,
			"txnStatus":       result.Status,
			"utrNo":           result.UTR,
			"txnDate":         result.TxnDate,
			"payoutEnquiryId": result.EnquiryID,
		},
	}, "POST", "/payouts/status")
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.coordinator.Balance(r.Context(), bearerToken(r))
	if err != nil {
		h.respondFailure(w, err, "GET", "/balance")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    map[string]int64{"walletBalance": balance},
	}, "GET", "/balance")
}

func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestId"]
	txn, err := h.coordinator.Lookup(r.Context(), bearerToken(r), requestID)
	if err != nil {
		h.respondFailure(w, err, "GET", "/payouts/{requestId}")
		return
	}
	if txn == nil {
		h.respondError(w, http.StatusNotFound, "Payout not found", "GET", "/payouts/{requestId}")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"payoutTransaction": txn,
	}, "GET", "/payouts/{requestId}")
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

// respondFailure maps the error taxonomy onto HTTP statuses.
func (h *Handler) respondFailure(w http.ResponseWriter, err error, method, endpoint string) {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		h.respondError(w, http.StatusUnauthorized, authErr.Msg, method, endpoint)
		return
	}
	if errors.Is(err, domain.ErrQuotaExceeded) {
		h.respondError(w, http.StatusForbidden, err.Error(), method, endpoint)
		return
	}
	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		h.respondError(w, http.StatusBadRequest, valErr.Msg, method, endpoint)
		return
	}
	if errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrDuplicateRequest) {
		h.respondError(w, http.StatusBadRequest, err.Error(), method, endpoint)
		return
	}
	if errors.Is(err, domain.ErrNoConnector) {
		h.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success":    false,
			"message":    err.Error(),
			"needsSetup": true,
		}, method, endpoint)
		return
	}
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) {
		msg := gwErr.Description
		if msg == "" {
			msg = gatewayFallbackMsg
		}
		h.respondError(w, http.StatusBadRequest, msg, method, endpoint)
		return
	}
	h.respondError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]interface{}{"success": false, "message": msg}, method, endpoint)
}
