package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ysprod/plancosmique-sub004/internal/domain"
	apperrors "github.com/ysprod/plancosmique-sub004/pkg/errors"
	"github.com/ysprod/plancosmique-sub004/pkg/logger"
)

// Generic fallback messages, used only when the backend provided none.
const (
	fallbackVerifyMessage  = "Erreur lors de la vérification du paiement"
	fallbackFulfillMessage = "Erreur lors du traitement du paiement"
)

// VerifyPayment checks a payment token against the gateway and returns the
// normalized payment record. A backend rejection carries the server-provided
// message verbatim; context cancellation propagates unchanged so aborted
// requests are never reported as verification failures.
func (c *Client) VerifyPayment(ctx context.Context, token string) (*domain.PaymentRecord, error) {
	ctx, cancel := withTimeout(ctx, c.timeouts.Verify)
	defer cancel()

	type verifyRequest struct {
		Token string `json:"token"`
	}

	type verifyResponse struct {
		Success bool `json:"success"`
		Data    struct {
			ID           string                `json:"_id"`
			Amount       float64               `json:"amount"`
			Status       string                `json:"status"`
			PersonalInfo []domain.PersonalInfo `json:"personalInfo"`
		} `json:"data"`
		Message string `json:"message"`
	}

	resp, err := c.postJSON(ctx, "/api/payments/verify", verifyRequest{Token: token})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		c.logger.ErrorContext(ctx, "payment verification call failed",
			slog.String("token", logger.TokenPreview(token)),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.VerificationFailed(fallbackVerifyMessage)
	}
	defer resp.Body.Close()

	var payload verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperrors.VerificationFailed(fallbackVerifyMessage)
	}

	if !payload.Success || resp.StatusCode != http.StatusOK {
		message := payload.Message
		if message == "" {
			message = fallbackVerifyMessage
		}
		c.logger.WarnContext(ctx, "payment verification rejected",
			slog.String("token", logger.TokenPreview(token)),
			slog.Int("status", resp.StatusCode),
			slog.String("message", message),
		)
		return nil, apperrors.VerificationFailed(message)
	}

	record := &domain.PaymentRecord{
		ID:           payload.Data.ID,
		Amount:       payload.Data.Amount,
		RawStatus:    payload.Data.Status,
		PersonalInfo: payload.Data.PersonalInfo,
	}

	c.logger.InfoContext(ctx, "payment verified",
		slog.String("token", logger.TokenPreview(token)),
		slog.String("payment_id", record.ID),
		slog.Float64("amount", record.Amount),
	)

	return record, nil
}

// ProcessConsultation asks the backend to fulfill the resource purchased with
// token. The backend is idempotent on token: a replay returns success=false
// with an already-processed message rather than duplicating the resource.
// The raw result is returned even on rejection so the caller can capture a
// consultation ID or download URL produced by a partially-successful run.
func (c *Client) ProcessConsultation(ctx context.Context, token string, record *domain.PaymentRecord) (domain.FulfillmentResult, error) {
	ctx, cancel := withTimeout(ctx, c.timeouts.Fulfill)
	defer cancel()

	type processRequest struct {
		Token       string                `json:"token"`
		PaymentData *domain.PaymentRecord `json:"paymentData"`
	}

	type processResponse struct {
		Success        bool   `json:"success"`
		ConsultationID string `json:"consultationId"`
		DownloadURL    string `json:"downloadUrl"`
		AlreadyUsed    bool   `json:"alreadyUsed"`
		Message        string `json:"message"`
	}

	resp, err := c.postJSON(ctx, "/api/consultations/process", processRequest{
		Token:       token,
		PaymentData: record,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.FulfillmentResult{}, err
		}
		c.logger.ErrorContext(ctx, "fulfillment call failed",
			slog.String("token", logger.TokenPreview(token)),
			slog.String("error", err.Error()),
		)
		return domain.FulfillmentResult{}, apperrors.FulfillmentFailed(fallbackFulfillMessage)
	}
	defer resp.Body.Close()

	var payload processResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.FulfillmentResult{}, fmt.Errorf("decode fulfillment response: %w", err)
	}

	result := domain.FulfillmentResult{
		Success:        payload.Success,
		ConsultationID: payload.ConsultationID,
		DownloadURL:    payload.DownloadURL,
		AlreadyUsed:    payload.AlreadyUsed,
		Message:        payload.Message,
	}
	if result.Message == "" && !result.Success {
		result.Message = fallbackFulfillMessage
	}

	c.logger.InfoContext(ctx, "fulfillment processed",
		slog.String("token", logger.TokenPreview(token)),
		slog.String("outcome", result.Classify().String()),
		slog.String("consultation_id", result.ConsultationID),
	)

	return result, nil
}
