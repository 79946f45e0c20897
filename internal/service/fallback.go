package service

import (
	"context"
	"net/http"

	apperrors "github.com/ysprod/plancosmique-sub004/pkg/errors"
)

// CircuitOpenFallback is the gateway circuit breaker's fallback. When the
// circuit is open it returns a structured error with a retry hint instead of
// letting the raw breaker error propagate.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("le service de paiement est temporairement indisponible, veuillez réessayer dans quelques instants")
}
