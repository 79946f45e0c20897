package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ysprod/plancosmique-sub004/internal/domain"
	"github.com/ysprod/plancosmique-sub004/internal/service"
	"github.com/ysprod/plancosmique-sub004/pkg/httputil"
	"github.com/ysprod/plancosmique-sub004/pkg/validator"
)

// FulfillmentHandler handles HTTP requests for fulfillment sessions.
type FulfillmentHandler struct {
	orchestrator *service.Orchestrator
	logger       *slog.Logger
}

// NewFulfillmentHandler creates a new fulfillment HTTP handler.
func NewFulfillmentHandler(o *service.Orchestrator, logger *slog.Logger) *FulfillmentHandler {
	return &FulfillmentHandler{orchestrator: o, logger: logger}
}

// --- Request DTOs ---

// StartSessionRequest is the JSON request body for starting a session. The
// token comes from the gateway redirect query string; it may be empty, which
// resolves to a terminal error state without any network call.
type StartSessionRequest struct {
	Token string `json:"token"`
}

// PayWithOfferingsRequest is the JSON request body for the offering payment path.
type PayWithOfferingsRequest struct {
	ConsultationID string `json:"consultation_id"`
	Category       string `json:"category" validate:"required,oneof=animal vegetal beverage"`
}

// SessionResponse is the discriminated session state plus the intents the
// presentation layer may trigger.
type SessionResponse struct {
	*domain.Session
	Intents []domain.Intent `json:"intents"`
}

func sessionResponse(s *domain.Session) SessionResponse {
	return SessionResponse{Session: s, Intents: s.AvailableIntents()}
}

// --- Handlers ---

// StartSession handles POST /api/v1/fulfillment
func (h *FulfillmentHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	session, err := h.orchestrator.StartSession(r.Context(), userID, req.Token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: sessionResponse(session)})
}

// GetSession handles GET /api/v1/fulfillment/{id}
func (h *FulfillmentHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	session, err := h.orchestrator.GetSession(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: sessionResponse(session)})
}

// Retry handles POST /api/v1/fulfillment/{id}/retry
func (h *FulfillmentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	session, err := h.orchestrator.Retry(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: sessionResponse(session)})
}

// PayWithOfferings handles POST /api/v1/fulfillment/{id}/offerings
func (h *FulfillmentHandler) PayWithOfferings(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req PayWithOfferingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	session, err := h.orchestrator.PayWithOfferings(r.Context(), id.String(), req.ConsultationID, domain.OfferingCategory(req.Category))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: sessionResponse(session)})
}

// CancelRedirect handles POST /api/v1/fulfillment/{id}/cancel-redirect
func (h *FulfillmentHandler) CancelRedirect(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	session, err := h.orchestrator.CancelRedirect(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: sessionResponse(session)})
}
