package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ysprod/plancosmique-sub004/internal/domain"
	"github.com/ysprod/plancosmique-sub004/internal/event"
	"github.com/ysprod/plancosmique-sub004/internal/replay"
	apperrors "github.com/ysprod/plancosmique-sub004/pkg/errors"
)

// --- Mock Gateway ---

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) VerifyPayment(ctx context.Context, token string) (*domain.PaymentRecord, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentRecord), args.Error(1)
}

func (m *mockGateway) ProcessConsultation(ctx context.Context, token string, record *domain.PaymentRecord) (domain.FulfillmentResult, error) {
	args := m.Called(ctx, token, record)
	return args.Get(0).(domain.FulfillmentResult), args.Error(1)
}

func (m *mockGateway) GetAnalysisStatus(ctx context.Context, consultationID string) (domain.AnalysisSnapshot, error) {
	args := m.Called(ctx, consultationID)
	return args.Get(0).(domain.AnalysisSnapshot), args.Error(1)
}

func (m *mockGateway) GetRequiredOfferings(ctx context.Context, consultationID string) ([]domain.RequiredOffering, error) {
	args := m.Called(ctx, consultationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RequiredOffering), args.Error(1)
}

func (m *mockGateway) GetWallet(ctx context.Context, userID string) ([]domain.WalletOffering, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.WalletOffering), args.Error(1)
}

func (m *mockGateway) ConsumeOfferings(ctx context.Context, userID, consultationID string, offerings []domain.OfferingSelection) error {
	args := m.Called(ctx, userID, consultationID, offerings)
	return args.Error(0)
}

func (m *mockGateway) MarkConsultationPaid(ctx context.Context, consultationID, paymentMethod string) error {
	args := m.Called(ctx, consultationID, paymentMethod)
	return args.Error(0)
}

// --- Test Helpers ---

func newTestOrchestrator(t *testing.T, gw *mockGateway, navigate Navigator) *Orchestrator {
	t.Helper()
	logger := newTestLogger()

	store := replay.NewMemoryStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	tracker := NewTracker(gw, TrackerConfig{Interval: time.Millisecond}, logger)
	offerings := NewOfferingCoordinator(gw, 0, logger)
	redirect := NewRedirectScheduler(1, time.Millisecond, logger)
	events := event.NewProducer(nil, logger)

	o := NewOrchestrator(context.Background(), gw, tracker, offerings, redirect, store, events, navigate, logger)
	t.Cleanup(o.Close)
	return o
}

func waitForStatus(t *testing.T, o *Orchestrator, id string, want domain.SessionStatus) *domain.Session {
	t.Helper()
	var got *domain.Session
	require.Eventually(t, func() bool {
		s, err := o.GetSession(context.Background(), id)
		if err != nil {
			return false
		}
		got = s
		return s.Status == want
	}, 2*time.Second, 2*time.Millisecond, "session never reached %s (last: %+v)", want, got)
	return got
}

func paidRecord() *domain.PaymentRecord {
	return &domain.PaymentRecord{ID: "pay_1", Amount: 35, RawStatus: "succeeded"}
}

// --- Tests ---

// An empty token is a terminal error with the exact user message and no
// network call of any kind.
func TestStartSession_EmptyTokenNoNetworkCall(t *testing.T) {
	gw := &mockGateway{}
	o := newTestOrchestrator(t, gw, nil)

	session, err := o.StartSession(context.Background(), "user_7", "")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusError, session.Status)
	assert.Equal(t, "Token de paiement manquant", session.Message)
	gw.AssertNotCalled(t, "VerifyPayment", mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "ProcessConsultation", mock.Anything, mock.Anything, mock.Anything)
}

// A verification rejection surfaces the server message verbatim.
func TestStartSession_VerifyFailureKeepsServerMessage(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, "tok_1").
		Return(nil, apperrors.VerificationFailed("gateway down"))

	o := newTestOrchestrator(t, gw, nil)
	session, err := o.StartSession(context.Background(), "user_7", "tok_1")
	require.NoError(t, err)

	got := waitForStatus(t, o, session.ID, domain.StatusError)
	assert.Equal(t, "gateway down", got.Message)
}

// A verify call that times out per-call (the run itself still alive) is a
// terminal failure with recovery intents, never a session stuck in pending.
func TestStartSession_VerifyTimeoutIsAFailure(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, "tok_1").
		Return(nil, fmt.Errorf("call backend: %w", context.DeadlineExceeded))

	o := newTestOrchestrator(t, gw, nil)
	session, err := o.StartSession(context.Background(), "user_7", "tok_1")
	require.NoError(t, err)

	got := waitForStatus(t, o, session.ID, domain.StatusError)
	assert.Equal(t, fallbackVerifyMessage, got.Message)
	assert.Contains(t, got.AvailableIntents(), domain.IntentRetry)
}

func TestStartSession_GatewayReportsPaymentFailed(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, "tok_1").
		Return(&domain.PaymentRecord{ID: "pay_1", RawStatus: domain.RawStatusFailed}, nil)

	o := newTestOrchestrator(t, gw, nil)
	session, _ := o.StartSession(context.Background(), "user_7", "tok_1")

	got := waitForStatus(t, o, session.ID, domain.StatusFailure)
	assert.Equal(t, MsgPaymentFailed, got.Message)
	gw.AssertNotCalled(t, "ProcessConsultation", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartSession_GatewayReportsPaymentPending(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, "tok_1").
		Return(&domain.PaymentRecord{ID: "pay_1", RawStatus: domain.RawStatusPending}, nil)

	o := newTestOrchestrator(t, gw, nil)
	session, _ := o.StartSession(context.Background(), "user_7", "tok_1")

	got := waitForStatus(t, o, session.ID, domain.StatusNoPaid)
	assert.Equal(t, MsgPaymentNotMade, got.Message)
}

// A replayed token enters already_used, not error, and still captures the
// consultation ID from the prior run.
func TestStartSession_AlreadyUsedIsNotAnError(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, "tok_1").Return(paidRecord(), nil)
	gw.On("ProcessConsultation", mock.Anything, "tok_1", mock.Anything).
		Return(domain.FulfillmentResult{
			Success:        false,
			Message:        "Paiement déjà traité",
			ConsultationID: "cons_42",
		}, nil)

	o := newTestOrchestrator(t, gw, nil)
	session, _ := o.StartSession(context.Background(), "user_7", "tok_1")

	got := waitForStatus(t, o, session.ID, domain.StatusAlreadyUsed)
	assert.Equal(t, "cons_42", got.ConsultationID)
	assert.Equal(t, "Paiement déjà traité", got.Message)
}

// A fulfillment rejection that is not a replay is an error carrying the
// backend message, and the IDs are still captured.
func TestStartSession_FulfillmentFailureCapturesIDs(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, "tok_1").Return(paidRecord(), nil)
	gw.On("ProcessConsultation", mock.Anything, "tok_1", mock.Anything).
		Return(domain.FulfillmentResult{
			Success:        false,
			Message:        "Solde marchand insuffisant",
			ConsultationID: "cons_42",
		}, nil)

	o := newTestOrchestrator(t, gw, nil)
	session, _ := o.StartSession(context.Background(), "user_7", "tok_1")

	got := waitForStatus(t, o, session.ID, domain.StatusError)
	assert.Equal(t, "Solde marchand insuffisant", got.Message)
	assert.Equal(t, "cons_42", got.ConsultationID)
}

// Book purchase: no consultation to track, the session goes paid and the
// redirect countdown navigates to the download URL.
func TestStartSession_BookPurchaseRedirectsToDownload(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, "tok_1").Return(paidRecord(), nil)
	gw.On("ProcessConsultation", mock.Anything, "tok_1", mock.Anything).
		Return(domain.FulfillmentResult{
			Success:     true,
			DownloadURL: "https://cdn.example.com/book.pdf",
		}, nil)

	nav := &navRecorder{}
	o := newTestOrchestrator(t, gw, nav.navigate)
	session, _ := o.StartSession(context.Background(), "user_7", "tok_1")

	waitForStatus(t, o, session.ID, domain.StatusPaid)

	require.Eventually(t, func() bool {
		return len(nav.calls()) == 1
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, "https://cdn.example.com/book.pdf", nav.calls()[0])
}

// Consultation purchase: fulfillment kicks off analysis tracking; on
// completion the session carries the final progress and redirects.
func TestStartSession_ConsultationTracksAnalysisToCompletion(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, "tok_1").Return(paidRecord(), nil)
	gw.On("ProcessConsultation", mock.Anything, "tok_1", mock.Anything).
		Return(domain.FulfillmentResult{Success: true, ConsultationID: "cons_42"}, nil)
	gw.On("GetAnalysisStatus", mock.Anything, "cons_42").
		Return(domain.AnalysisSnapshot{Status: domain.AnalysisGeneratingChart}, nil).Once()
	gw.On("GetAnalysisStatus", mock.Anything, "cons_42").
		Return(domain.AnalysisSnapshot{Status: domain.AnalysisCompleted}, nil)

	nav := &navRecorder{}
	o := newTestOrchestrator(t, gw, nav.navigate)
	session, _ := o.StartSession(context.Background(), "user_7", "tok_1")

	require.Eventually(t, func() bool {
		s, err := o.GetSession(context.Background(), session.ID)
		return err == nil && s.Status == domain.StatusPaid && s.Analysis != nil && s.Analysis.Done
	}, 2*time.Second, 2*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(nav.calls()) == 1
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, "/consultations/cons_42", nav.calls()[0])
}

// An analysis failure after a successful payment is a job failure: the
// session errors with the job message, never a payment-failure message.
func TestStartSession_AnalysisFailureIsNotAPaymentFailure(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, "tok_1").Return(paidRecord(), nil)
	gw.On("ProcessConsultation", mock.Anything, "tok_1", mock.Anything).
		Return(domain.FulfillmentResult{Success: true, ConsultationID: "cons_42"}, nil)
	gw.On("GetAnalysisStatus", mock.Anything, "cons_42").
		Return(domain.AnalysisSnapshot{Status: domain.AnalysisError, Message: "génération impossible"}, nil)

	o := newTestOrchestrator(t, gw, nil)
	session, _ := o.StartSession(context.Background(), "user_7", "tok_1")

	got := waitForStatus(t, o, session.ID, domain.StatusError)
	assert.Equal(t, "génération impossible", got.Message)
	assert.NotEqual(t, MsgPaymentFailed, got.Message)
}

// A second session for a token already marked paid is answered from the
// replay store without touching the gateway again.
func TestStartSession_ReplayStoreShortCircuits(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, "tok_1").Return(paidRecord(), nil).Once()
	gw.On("ProcessConsultation", mock.Anything, "tok_1", mock.Anything).
		Return(domain.FulfillmentResult{Success: true, DownloadURL: "https://cdn.example.com/book.pdf"}, nil).Once()

	o := newTestOrchestrator(t, gw, nil)
	first, _ := o.StartSession(context.Background(), "user_7", "tok_1")
	waitForStatus(t, o, first.ID, domain.StatusPaid)

	second, err := o.StartSession(context.Background(), "user_7", "tok_1")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusAlreadyUsed, second.Status)
	assert.Equal(t, "https://cdn.example.com/book.pdf", second.DownloadURL)
	gw.AssertExpectations(t)
}

// Retry reruns the whole pipeline from pending.
func TestRetry_RestartsPipeline(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, "tok_1").
		Return(nil, apperrors.VerificationFailed("gateway down")).Once()
	gw.On("VerifyPayment", mock.Anything, "tok_1").Return(paidRecord(), nil)
	gw.On("ProcessConsultation", mock.Anything, "tok_1", mock.Anything).
		Return(domain.FulfillmentResult{Success: true, DownloadURL: "https://cdn.example.com/book.pdf"}, nil)

	o := newTestOrchestrator(t, gw, nil)
	session, _ := o.StartSession(context.Background(), "user_7", "tok_1")
	waitForStatus(t, o, session.ID, domain.StatusError)

	_, err := o.Retry(context.Background(), session.ID)
	require.NoError(t, err)

	waitForStatus(t, o, session.ID, domain.StatusPaid)
}

func TestRetry_UnknownSession(t *testing.T) {
	gw := &mockGateway{}
	o := newTestOrchestrator(t, gw, nil)

	_, err := o.Retry(context.Background(), "b2c7a6a0-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// Cancelling the redirect before the countdown elapses prevents navigation.
func TestCancelRedirect_PreventsNavigation(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, "tok_1").Return(paidRecord(), nil)
	gw.On("ProcessConsultation", mock.Anything, "tok_1", mock.Anything).
		Return(domain.FulfillmentResult{Success: true, DownloadURL: "https://cdn.example.com/book.pdf"}, nil)

	nav := &navRecorder{}
	logger := newTestLogger()
	store := replay.NewMemoryStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	// Slow countdown so the test can reliably cancel before it elapses.
	tracker := NewTracker(gw, TrackerConfig{Interval: time.Millisecond}, logger)
	offerings := NewOfferingCoordinator(gw, 0, logger)
	redirect := NewRedirectScheduler(5, 50*time.Millisecond, logger)
	events := event.NewProducer(nil, logger)
	o := NewOrchestrator(context.Background(), gw, tracker, offerings, redirect, store, events, nav.navigate, logger)
	t.Cleanup(o.Close)

	session, _ := o.StartSession(context.Background(), "user_7", "tok_1")
	waitForStatus(t, o, session.ID, domain.StatusPaid)

	// Wait until the countdown is armed, then cancel it.
	require.Eventually(t, func() bool {
		s, err := o.GetSession(context.Background(), session.ID)
		return err == nil && s.Countdown >= 0
	}, 2*time.Second, 2*time.Millisecond)

	_, err := o.CancelRedirect(context.Background(), session.ID)
	require.NoError(t, err)

	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, nav.calls(), "navigation fired after cancel-redirect")
}

// Idle terminal sessions are swept; fresh ones and pending ones are kept.
func TestOrchestrator_EvictsIdleTerminalSessions(t *testing.T) {
	gw := &mockGateway{}
	o := newTestOrchestrator(t, gw, nil)

	session, err := o.StartSession(context.Background(), "user_7", "")
	require.NoError(t, err)
	require.Equal(t, domain.StatusError, session.Status)

	// Not yet idle past the TTL: survives.
	o.evictStale(time.Now())
	_, err = o.GetSession(context.Background(), session.ID)
	require.NoError(t, err)

	o.evictStale(time.Now().Add(sessionTTL + time.Minute))
	_, err = o.GetSession(context.Background(), session.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// The offering payment path: success moves the session to paid and the
// analysis flow takes over.
func TestPayWithOfferings_Success(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, "tok_1").Return(paidRecord(), nil)
	gw.On("ProcessConsultation", mock.Anything, "tok_1", mock.Anything).
		Return(domain.FulfillmentResult{
			Success: false, Message: "Paiement refusé", ConsultationID: "cons_42",
		}, nil)
	gw.On("GetRequiredOfferings", mock.Anything, "cons_42").
		Return([]domain.RequiredOffering{
			{OfferingID: "sage", Quantity: 2, Name: "Sauge", Category: domain.CategoryVegetal},
		}, nil)
	gw.On("GetWallet", mock.Anything, "user_7").
		Return([]domain.WalletOffering{
			{OfferingID: "sage", Quantity: 4, Category: domain.CategoryVegetal},
		}, nil)
	gw.On("ConsumeOfferings", mock.Anything, "user_7", "cons_42",
		[]domain.OfferingSelection{{OfferingID: "sage", Quantity: 2}}).Return(nil)
	gw.On("MarkConsultationPaid", mock.Anything, "cons_42", PaymentMethodWalletOfferings).Return(nil)
	gw.On("GetAnalysisStatus", mock.Anything, "cons_42").
		Return(domain.AnalysisSnapshot{Status: domain.AnalysisCompleted}, nil)

	o := newTestOrchestrator(t, gw, nil)
	session, _ := o.StartSession(context.Background(), "user_7", "tok_1")
	waitForStatus(t, o, session.ID, domain.StatusError)

	got, err := o.PayWithOfferings(context.Background(), session.ID, "", domain.CategoryVegetal)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, got.Status)

	// The analysis flow takes over in the background.
	require.Eventually(t, func() bool {
		s, getErr := o.GetSession(context.Background(), session.ID)
		return getErr == nil && s.Analysis != nil && s.Analysis.Done
	}, 2*time.Second, 2*time.Millisecond)

	gw.AssertExpectations(t)
}

// If the wallet debit succeeded but mark-paid failed, the error is the
// dedicated CONSULTATION_MARK_FAILED state, not a generic failure.
func TestPayWithOfferings_MarkPaidFailureIsDistinguishable(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, "tok_1").Return(paidRecord(), nil)
	gw.On("ProcessConsultation", mock.Anything, "tok_1", mock.Anything).
		Return(domain.FulfillmentResult{
			Success: false, Message: "Paiement refusé", ConsultationID: "cons_42",
		}, nil)
	gw.On("GetRequiredOfferings", mock.Anything, "cons_42").
		Return([]domain.RequiredOffering{
			{OfferingID: "sage", Quantity: 2, Name: "Sauge", Category: domain.CategoryVegetal},
		}, nil)
	gw.On("GetWallet", mock.Anything, "user_7").
		Return([]domain.WalletOffering{
			{OfferingID: "sage", Quantity: 4, Category: domain.CategoryVegetal},
		}, nil)
	gw.On("ConsumeOfferings", mock.Anything, "user_7", "cons_42", mock.Anything).Return(nil)
	gw.On("MarkConsultationPaid", mock.Anything, "cons_42", PaymentMethodWalletOfferings).
		Return(errors.New("backend exploded"))

	o := newTestOrchestrator(t, gw, nil)
	session, _ := o.StartSession(context.Background(), "user_7", "tok_1")
	waitForStatus(t, o, session.ID, domain.StatusError)

	_, err := o.PayWithOfferings(context.Background(), session.ID, "", domain.CategoryVegetal)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, CodeConsultationMarkFailed, appErr.Code)
	assert.NotEqual(t, fallbackVerifyMessage, appErr.Message)

	got, getErr := o.GetSession(context.Background(), session.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.Equal(t, CodeConsultationMarkFailed, got.LastError)
}
