package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ysprod/plancosmique-sub004/internal/domain"
	"github.com/ysprod/plancosmique-sub004/pkg/httpclient"
)

// MarkConsultationPaid patches the consultation record's status to paid with
// the given payment method. This is phase 2 of the offering payment path;
// a failure here is surfaced distinctly by the coordinator, never retried
// silently.
func (c *Client) MarkConsultationPaid(ctx context.Context, consultationID, paymentMethod string) error {
	ctx, cancel := withTimeout(ctx, c.timeouts.Offerings)
	defer cancel()

	type statusPatch struct {
		Status        string `json:"status"`
		PaymentMethod string `json:"paymentMethod"`
	}

	resp, err := c.patchJSON(ctx, "/api/consultations/"+consultationID+"/status", statusPatch{
		Status:        "paid",
		PaymentMethod: paymentMethod,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("mark consultation paid: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return httpclient.ParseResponseError(resp, "consultation status")
	}

	c.logger.InfoContext(ctx, "consultation marked paid",
		slog.String("consultation_id", consultationID),
		slog.String("payment_method", paymentMethod),
	)

	return nil
}

// GetAnalysisStatus polls the analysis-generation job attached to a
// consultation. The backend speaks French on the wire (statut/analyse).
func (c *Client) GetAnalysisStatus(ctx context.Context, consultationID string) (domain.AnalysisSnapshot, error) {
	ctx, cancel := withTimeout(ctx, c.timeouts.AnalysisPoll)
	defer cancel()

	type analysisResponse struct {
		Success bool            `json:"success"`
		Statut  string          `json:"statut"`
		Analyse json.RawMessage `json:"analyse"`
		Message string          `json:"message"`
	}

	var payload analysisResponse
	if err := c.getJSON(ctx, "/api/consultations/"+consultationID+"/analysis", &payload); err != nil {
		return domain.AnalysisSnapshot{}, err
	}

	if !payload.Success {
		return domain.AnalysisSnapshot{
			Status:  domain.AnalysisError,
			Message: payload.Message,
		}, nil
	}

	return domain.AnalysisSnapshot{
		Status:   payload.Statut,
		Analysis: payload.Analyse,
		Message:  payload.Message,
	}, nil
}
