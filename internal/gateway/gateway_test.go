package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysprod/plancosmique-sub004/internal/domain"
	apperrors "github.com/ysprod/plancosmique-sub004/pkg/errors"
	"github.com/ysprod/plancosmique-sub004/pkg/httpclient"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base := httpclient.New(httpclient.Config{
		Timeout:      5 * time.Second,
		MaxRetries:   0,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: time.Millisecond,
	})
	return NewClient(base, srv.URL, newTestLogger(), Timeouts{})
}

func TestVerifyPayment_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/payments/verify", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tok_abc123", body["token"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"_id":    "pay_1",
				"amount": 49.99,
				"status": "succeeded",
				"personalInfo": []map[string]string{
					{"full_name": "Awa Diop", "birth_date": "1990-04-12"},
				},
			},
		})
	})

	record, err := client.VerifyPayment(context.Background(), "tok_abc123")
	require.NoError(t, err)

	assert.Equal(t, "pay_1", record.ID)
	assert.Equal(t, 49.99, record.Amount)
	assert.Equal(t, "succeeded", record.RawStatus)
	require.Len(t, record.PersonalInfo, 1)
	assert.Equal(t, "Awa Diop", record.PersonalInfo[0].FullName)
}

// A rejection carries the server message verbatim, never a generic fallback.
func TestVerifyPayment_RejectionKeepsServerMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"message": "gateway down",
		})
	})

	_, err := client.VerifyPayment(context.Background(), "tok_abc123")
	require.Error(t, err)

	assert.ErrorIs(t, err, apperrors.ErrVerification)
	assert.Equal(t, "gateway down", apperrors.Message(err, "fallback"))
}

func TestVerifyPayment_RejectionWithoutMessageUsesFallback(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false})
	})

	_, err := client.VerifyPayment(context.Background(), "tok_abc123")
	require.Error(t, err)
	assert.Equal(t, fallbackVerifyMessage, apperrors.Message(err, ""))
}

// An aborted verification is reported as a cancellation, never as a
// verification failure.
func TestVerifyPayment_AbortPropagates(t *testing.T) {
	started := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection; with the body
		// unread, a client disconnect never cancels r.Context() and the
		// handler (and srv.Close) would block forever.
		_, _ = io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := client.VerifyPayment(ctx, "tok_abc123")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperrors.ErrVerification)
}

func TestProcessConsultation_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/consultations/process", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":        true,
			"consultationId": "cons_42",
			"downloadUrl":    "",
		})
	})

	result, err := client.ProcessConsultation(context.Background(), "tok_abc123", &domain.PaymentRecord{ID: "pay_1"})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeFulfilled, result.Classify())
	assert.Equal(t, "cons_42", result.ConsultationID)
}

// A replay answer still carries the consultation ID from the prior run.
func TestProcessConsultation_AlreadyUsedKeepsIDs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":        false,
			"message":        "Paiement déjà traité",
			"consultationId": "cons_42",
		})
	})

	result, err := client.ProcessConsultation(context.Background(), "tok_abc123", &domain.PaymentRecord{ID: "pay_1"})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeAlreadyUsed, result.Classify())
	assert.Equal(t, "cons_42", result.ConsultationID)
	assert.Equal(t, "Paiement déjà traité", result.Message)
}

func TestMarkConsultationPaid(t *testing.T) {
	var gotMethod, gotPath atomic.Value
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod.Store(r.Method)
		gotPath.Store(r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "paid", body["status"])
		assert.Equal(t, "wallet_offerings", body["paymentMethod"])

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	err := client.MarkConsultationPaid(context.Background(), "cons_42", "wallet_offerings")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, gotMethod.Load())
	assert.Equal(t, "/api/consultations/cons_42/status", gotPath.Load())
}

func TestMarkConsultationPaid_BackendRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"message": "consultation introuvable",
		})
	})

	err := client.MarkConsultationPaid(context.Background(), "cons_42", "wallet_offerings")
	require.Error(t, err)
	assert.Equal(t, "consultation introuvable", apperrors.Message(err, ""))
}

func TestGetAnalysisStatus_FrenchWireFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/consultations/cons_42/analysis", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"statut":  "generating_chart",
			"analyse": nil,
		})
	})

	snapshot, err := client.GetAnalysisStatus(context.Background(), "cons_42")
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisGeneratingChart, snapshot.Status)
}

func TestGetAnalysisStatus_CompletedCarriesPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"statut":  "completed",
			"analyse": map[string]string{"theme": "ascendant lion"},
		})
	})

	snapshot, err := client.GetAnalysisStatus(context.Background(), "cons_42")
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisCompleted, snapshot.Status)
	assert.JSONEq(t, `{"theme":"ascendant lion"}`, string(snapshot.Analysis))
}

func TestGetAnalysisStatus_BackendErrorFlag(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"message": "analyse indisponible",
		})
	})

	snapshot, err := client.GetAnalysisStatus(context.Background(), "cons_42")
	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisError, snapshot.Status)
	assert.Equal(t, "analyse indisponible", snapshot.Message)
}

func TestConsumeOfferings(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/wallet/consume", r.URL.Path)

		var body struct {
			UserID         string                     `json:"userId"`
			ConsultationID string                     `json:"consultationId"`
			Offerings      []domain.OfferingSelection `json:"offerings"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user_7", body.UserID)
		assert.Equal(t, "cons_42", body.ConsultationID)
		require.Len(t, body.Offerings, 1)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	err := client.ConsumeOfferings(context.Background(), "user_7", "cons_42",
		[]domain.OfferingSelection{{OfferingID: "sage", Quantity: 3}})
	require.NoError(t, err)
}
