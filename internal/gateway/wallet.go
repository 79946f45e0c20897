package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ysprod/plancosmique-sub004/internal/domain"
	"github.com/ysprod/plancosmique-sub004/pkg/httpclient"
)

// ConsumeOfferings debits the chosen offerings from the user's wallet for a
// consultation. This is the economically significant phase of the offering
// payment path: once it succeeds it is never reversed by this client.
func (c *Client) ConsumeOfferings(ctx context.Context, userID, consultationID string, offerings []domain.OfferingSelection) error {
	ctx, cancel := withTimeout(ctx, c.timeouts.Offerings)
	defer cancel()

	type consumeRequest struct {
		UserID         string                     `json:"userId"`
		ConsultationID string                     `json:"consultationId"`
		Offerings      []domain.OfferingSelection `json:"offerings"`
	}

	resp, err := c.postJSON(ctx, "/api/wallet/consume", consumeRequest{
		UserID:         userID,
		ConsultationID: consultationID,
		Offerings:      offerings,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("consume offerings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return httpclient.ParseResponseError(resp, "wallet")
	}

	c.logger.InfoContext(ctx, "offerings consumed",
		slog.String("user_id", userID),
		slog.String("consultation_id", consultationID),
		slog.Int("offerings_count", len(offerings)),
	)

	return nil
}

// GetWallet fetches the user's offering balances.
func (c *Client) GetWallet(ctx context.Context, userID string) ([]domain.WalletOffering, error) {
	type walletResponse struct {
		Success   bool                    `json:"success"`
		Offerings []domain.WalletOffering `json:"offerings"`
	}

	var payload walletResponse
	if err := c.getJSON(ctx, "/api/wallet/"+userID, &payload); err != nil {
		return nil, err
	}
	return payload.Offerings, nil
}

// GetRequiredOfferings fetches the catalog requirements for a consultation.
func (c *Client) GetRequiredOfferings(ctx context.Context, consultationID string) ([]domain.RequiredOffering, error) {
	type requiredResponse struct {
		Success   bool                      `json:"success"`
		Offerings []domain.RequiredOffering `json:"offerings"`
	}

	var payload requiredResponse
	if err := c.getJSON(ctx, "/api/consultations/"+consultationID+"/offerings/required", &payload); err != nil {
		return nil, err
	}
	return payload.Offerings, nil
}
