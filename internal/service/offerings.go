package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ysprod/plancosmique-sub004/internal/domain"
	apperrors "github.com/ysprod/plancosmique-sub004/pkg/errors"
)

// PaymentMethodWalletOfferings is the payment method recorded on a
// consultation paid with wallet offerings.
const PaymentMethodWalletOfferings = "wallet_offerings"

// Error codes for the two phases of the offering payment. A phase-2 failure
// after a successful debit must stay distinguishable from every other error.
const (
	CodeOfferingConsumeFailed   = "OFFERING_CONSUME_FAILED"
	CodeConsultationMarkFailed  = "CONSULTATION_MARK_FAILED"
	markFailedAfterDebitMessage = "Vos offrandes ont été débitées mais la consultation n'a pas pu être marquée comme payée. Contactez le support, ne payez pas une seconde fois."
)

// OfferingGateway is the backend capability the coordinator consumes.
type OfferingGateway interface {
	GetRequiredOfferings(ctx context.Context, consultationID string) ([]domain.RequiredOffering, error)
	GetWallet(ctx context.Context, userID string) ([]domain.WalletOffering, error)
	ConsumeOfferings(ctx context.Context, userID, consultationID string, offerings []domain.OfferingSelection) error
	MarkConsultationPaid(ctx context.Context, consultationID, paymentMethod string) error
}

// OfferingCoordinator runs the two-phase wallet payment: debit the chosen
// offerings, then mark the consultation paid. The debit is the economically
// significant action; it is never reversed and never silently retried.
type OfferingCoordinator struct {
	gateway  OfferingGateway
	debounce time.Duration
	logger   *slog.Logger
}

// NewOfferingCoordinator creates a coordinator. debounce is the fixed delay
// after a successful payment before control passes to analysis tracking, so
// the backend can index the new status before the next query.
func NewOfferingCoordinator(gw OfferingGateway, debounce time.Duration, logger *slog.Logger) *OfferingCoordinator {
	return &OfferingCoordinator{gateway: gw, debounce: debounce, logger: logger}
}

// Pay validates the selection against the catalog and the wallet, debits the
// offerings, and marks the consultation paid. It returns the consumed
// selections on success. Validation failures leave all state untouched; a
// mark-paid failure after a successful debit is returned with the dedicated
// CONSULTATION_MARK_FAILED code.
func (c *OfferingCoordinator) Pay(ctx context.Context, userID, consultationID string, category domain.OfferingCategory) ([]domain.OfferingSelection, error) {
	if userID == "" {
		return nil, apperrors.Unauthorized("Utilisateur non connecté")
	}
	if consultationID == "" {
		return nil, apperrors.InvalidInput("consultation id is required")
	}

	required, err := c.gateway.GetRequiredOfferings(ctx, consultationID)
	if err != nil {
		return nil, abortOr(ctx, err, CodeOfferingConsumeFailed, "Impossible de charger les offrandes requises")
	}

	wallet, err := c.gateway.GetWallet(ctx, userID)
	if err != nil {
		return nil, abortOr(ctx, err, CodeOfferingConsumeFailed, "Impossible de charger votre portefeuille d'offrandes")
	}

	selections, err := domain.ValidateSelection(category, required, wallet)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	// Phase 1: debit the wallet.
	if err := c.gateway.ConsumeOfferings(ctx, userID, consultationID, selections); err != nil {
		return nil, abortOr(ctx, err, CodeOfferingConsumeFailed, "Échec de la consommation des offrandes")
	}

	// Phase 2: mark the consultation paid. Fail forward: the debit stands.
	if err := c.gateway.MarkConsultationPaid(ctx, consultationID, PaymentMethodWalletOfferings); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.ErrorContext(ctx, "consultation mark-paid failed after wallet debit",
			slog.String("user_id", userID),
			slog.String("consultation_id", consultationID),
			slog.String("error", err.Error()),
		)
		return nil, &apperrors.AppError{
			Code:    CodeConsultationMarkFailed,
			Message: markFailedAfterDebitMessage,
			Status:  http.StatusBadGateway,
			Err:     err,
		}
	}

	c.logger.InfoContext(ctx, "consultation paid with offerings",
		slog.String("user_id", userID),
		slog.String("consultation_id", consultationID),
		slog.String("category", string(category)),
	)

	// Let the backend index the new status before the analysis flow queries it.
	if c.debounce > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.debounce):
		}
	}

	return selections, nil
}

// abortOr propagates caller cancellation unchanged and wraps everything else,
// per-call timeouts included, into an AppError with the given code, preferring
// a backend-provided message. A timed-out call with a live caller is a real
// failure, never a silent abort: the remote outcome is unknown.
func abortOr(ctx context.Context, err error, code, fallback string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &apperrors.AppError{
		Code:    code,
		Message: apperrors.Message(err, fallback),
		Status:  http.StatusUnprocessableEntity,
		Err:     err,
	}
}
