// Package service implements the payment-to-fulfillment pipeline: the session
// state machine, the two-phase offering payment, the analysis progress
// tracker, and the redirect countdown.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ysprod/plancosmique-sub004/internal/domain"
	"github.com/ysprod/plancosmique-sub004/internal/event"
	"github.com/ysprod/plancosmique-sub004/internal/replay"
	"github.com/ysprod/plancosmique-sub004/internal/sequence"
	apperrors "github.com/ysprod/plancosmique-sub004/pkg/errors"
	"github.com/ysprod/plancosmique-sub004/pkg/logger"
)

// User-facing messages for the terminal session states.
const (
	MsgMissingToken   = "Token de paiement manquant"
	MsgPaymentFailed  = "Le paiement a échoué"
	MsgPaymentNotMade = "Le paiement n'a pas encore été effectué"
	MsgAlreadyUsed    = "Ce paiement a déjà été traité"
	MsgPaid           = "Paiement confirmé"
)

// Fallbacks for remote failures that carry no usable message of their own.
const (
	fallbackVerifyMessage  = "Erreur lors de la vérification du paiement"
	fallbackFulfillMessage = "Erreur lors du traitement du paiement"
)

// Terminal sessions are evicted after this long without activity so the
// in-memory session map stays bounded on a long-running server.
const (
	sessionTTL           = 2 * time.Hour
	sessionSweepInterval = 5 * time.Minute
)

// Gateway is the full backend capability set the orchestrator drives.
// *gateway.Client satisfies it.
type Gateway interface {
	VerifyPayment(ctx context.Context, token string) (*domain.PaymentRecord, error)
	ProcessConsultation(ctx context.Context, token string, record *domain.PaymentRecord) (domain.FulfillmentResult, error)
	GetAnalysisStatus(ctx context.Context, consultationID string) (domain.AnalysisSnapshot, error)
	GetRequiredOfferings(ctx context.Context, consultationID string) ([]domain.RequiredOffering, error)
	GetWallet(ctx context.Context, userID string) ([]domain.WalletOffering, error)
	ConsumeOfferings(ctx context.Context, userID, consultationID string, offerings []domain.OfferingSelection) error
	MarkConsultationPaid(ctx context.Context, consultationID, paymentMethod string) error
}

type sessionEntry struct {
	session *domain.Session
	// token is retained in memory only, for explicit retries. Never logged
	// in full and never serialized.
	token          string
	cancelRedirect func()
}

// Orchestrator owns the fulfillment sessions and composes the pipeline parts.
// Sessions live in memory only; the replay-marker store is the only
// out-of-process state.
type Orchestrator struct {
	gateway   Gateway
	tracker   *Tracker
	offerings *OfferingCoordinator
	redirect  *RedirectScheduler
	replay    replay.Store
	events    *event.Producer
	seq       *sequence.Sequencer
	navigate  Navigator
	logger    *slog.Logger

	// baseCtx bounds every background pipeline; canceled on shutdown.
	baseCtx context.Context

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// NewOrchestrator wires the pipeline. navigate may be nil in tests.
func NewOrchestrator(
	baseCtx context.Context,
	gw Gateway,
	tracker *Tracker,
	offerings *OfferingCoordinator,
	redirect *RedirectScheduler,
	replayStore replay.Store,
	events *event.Producer,
	navigate Navigator,
	log *slog.Logger,
) *Orchestrator {
	if navigate == nil {
		navigate = func(string) {}
	}
	o := &Orchestrator{
		gateway:   gw,
		tracker:   tracker,
		offerings: offerings,
		redirect:  redirect,
		replay:    replayStore,
		events:    events,
		seq:       sequence.New(),
		navigate:  navigate,
		logger:    log,
		baseCtx:   baseCtx,
		done:      make(chan struct{}),
		sessions:  make(map[string]*sessionEntry),
	}
	go o.sweep()
	return o
}

// sweep periodically evicts idle terminal sessions until Close.
func (o *Orchestrator) sweep() {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.done:
			return
		case now := <-ticker.C:
			o.evictStale(now)
		}
	}
}

// evictStale drops terminal sessions idle past sessionTTL as of now. Pending
// sessions are never evicted: their pipeline is still running.
func (o *Orchestrator) evictStale(now time.Time) {
	o.mu.Lock()
	var cancels []func()
	for id, entry := range o.sessions {
		if !entry.session.Status.Terminal() || now.Sub(entry.session.UpdatedAt) < sessionTTL {
			continue
		}
		if entry.cancelRedirect != nil {
			cancels = append(cancels, entry.cancelRedirect)
		}
		delete(o.sessions, id)
	}
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func pipelineKey(sessionID string) string {
	return "session:" + sessionID
}

// StartSession creates a fulfillment session for a payment token and starts
// the verification pipeline. An empty token resolves synchronously to the
// error state with no network call. A token already marked as processed in
// the replay store resolves synchronously to already_used.
func (o *Orchestrator) StartSession(ctx context.Context, userID, token string) (*domain.Session, error) {
	now := time.Now().UTC()
	s := &domain.Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		TokenPreview: logger.TokenPreview(token),
		Status:       domain.StatusPending,
		Countdown:    -1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	entry := &sessionEntry{session: s, token: token}

	o.mu.Lock()
	o.sessions[s.ID] = entry
	o.mu.Unlock()

	if token == "" {
		o.mu.Lock()
		s.Status = domain.StatusError
		s.Message = MsgMissingToken
		s.LastError = MsgMissingToken
		s.UpdatedAt = time.Now().UTC()
		o.mu.Unlock()
		sessionsTotal.WithLabelValues(string(domain.StatusError)).Inc()
		return o.snapshot(s.ID)
	}

	if marker, err := o.replay.Lookup(ctx, token); err == nil && marker != nil {
		replayHits.Inc()
		o.mu.Lock()
		s.Status = domain.StatusAlreadyUsed
		s.Message = MsgAlreadyUsed
		s.ConsultationID = marker.ConsultationID
		s.DownloadURL = marker.DownloadURL
		s.UpdatedAt = time.Now().UTC()
		o.mu.Unlock()
		sessionsTotal.WithLabelValues(string(domain.StatusAlreadyUsed)).Inc()
		if snap, snapErr := o.snapshot(s.ID); snapErr == nil {
			o.events.PublishFulfillmentAlreadyUsed(ctx, snap)
		}
		return o.snapshot(s.ID)
	}

	go o.runPipeline(s.ID, userID, token)

	return o.snapshot(s.ID)
}

// GetSession returns a copy of the session's current state.
func (o *Orchestrator) GetSession(_ context.Context, id string) (*domain.Session, error) {
	return o.snapshot(id)
}

// Retry restarts the whole pipeline from pending. Any in-flight run for the
// session is superseded and any armed redirect is disarmed first.
func (o *Orchestrator) Retry(_ context.Context, id string) (*domain.Session, error) {
	o.mu.Lock()
	entry, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return nil, apperrors.NotFound("session", id)
	}
	cancelRedirect := entry.cancelRedirect
	entry.cancelRedirect = nil
	token := entry.token
	userID := entry.session.UserID
	entry.session.Status = domain.StatusPending
	entry.session.Message = ""
	entry.session.LastError = ""
	entry.session.Analysis = nil
	entry.session.Countdown = -1
	entry.session.UpdatedAt = time.Now().UTC()
	o.mu.Unlock()

	if cancelRedirect != nil {
		cancelRedirect()
	}

	if token == "" {
		o.mu.Lock()
		entry.session.Status = domain.StatusError
		entry.session.Message = MsgMissingToken
		entry.session.LastError = MsgMissingToken
		entry.session.UpdatedAt = time.Now().UTC()
		o.mu.Unlock()
		sessionsTotal.WithLabelValues(string(domain.StatusError)).Inc()
		return o.snapshot(id)
	}

	go o.runPipeline(id, userID, token)

	return o.snapshot(id)
}

// CancelRedirect disarms the session's automatic navigation countdown. It is
// the guard behind every manual navigation intent.
func (o *Orchestrator) CancelRedirect(_ context.Context, id string) (*domain.Session, error) {
	o.mu.Lock()
	entry, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return nil, apperrors.NotFound("session", id)
	}
	cancelRedirect := entry.cancelRedirect
	if cancelRedirect != nil {
		entry.cancelRedirect = nil
		entry.session.Countdown = -1
		entry.session.UpdatedAt = time.Now().UTC()
	}
	o.mu.Unlock()

	if cancelRedirect != nil {
		cancelRedirect()
	}
	return o.snapshot(id)
}

// PayWithOfferings runs the offering payment for the session's consultation
// and, on success, moves the session to paid and starts analysis tracking.
// The session's polling loop, if any, is superseded before the wallet is
// touched so the two cannot race.
func (o *Orchestrator) PayWithOfferings(ctx context.Context, id, consultationID string, category domain.OfferingCategory) (*domain.Session, error) {
	o.mu.Lock()
	entry, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return nil, apperrors.NotFound("session", id)
	}
	userID := entry.session.UserID
	if consultationID == "" {
		consultationID = entry.session.ConsultationID
	}
	o.mu.Unlock()

	// Disarm the poller before mutating job state.
	o.seq.Abort(pipelineKey(id))

	selections, err := o.offerings.Pay(ctx, userID, consultationID, category)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == CodeConsultationMarkFailed {
			// The debit went through: record the distinguishable error state.
			o.mu.Lock()
			entry.session.Status = domain.StatusError
			entry.session.Message = appErr.Message
			entry.session.LastError = appErr.Code
			entry.session.ConsultationID = consultationID
			entry.session.UpdatedAt = time.Now().UTC()
			o.mu.Unlock()
			sessionsTotal.WithLabelValues(string(domain.StatusError)).Inc()
			if s, snapErr := o.snapshot(id); snapErr == nil {
				o.events.PublishFulfillmentFailed(ctx, s, appErr.Code)
			}
		}
		return nil, err
	}

	o.mu.Lock()
	entry.session.Status = domain.StatusPaid
	entry.session.Message = MsgPaid
	entry.session.LastError = ""
	entry.session.ConsultationID = consultationID
	entry.session.UpdatedAt = time.Now().UTC()
	o.mu.Unlock()
	sessionsTotal.WithLabelValues(string(domain.StatusPaid)).Inc()

	if s, snapErr := o.snapshot(id); snapErr == nil {
		o.events.PublishOfferingsConsumed(ctx, s, category, selections)
	}

	go o.trackAndRedirect(id, consultationID)

	return o.snapshot(id)
}

// Close supersedes all in-flight pipelines, disarms every redirect, and stops
// the session sweeper. Safe to call more than once.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() { close(o.done) })

	o.mu.Lock()
	var cancels []func()
	for id, entry := range o.sessions {
		o.seq.Abort(pipelineKey(id))
		if entry.cancelRedirect != nil {
			cancels = append(cancels, entry.cancelRedirect)
			entry.cancelRedirect = nil
		}
	}
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// snapshot returns a copy of the session safe to hand to callers.
func (o *Orchestrator) snapshot(id string) (*domain.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}
	cp := *entry.session
	if entry.session.Payment != nil {
		p := *entry.session.Payment
		cp.Payment = &p
	}
	if entry.session.Analysis != nil {
		a := *entry.session.Analysis
		cp.Analysis = &a
	}
	return &cp, nil
}

// runPipeline executes verify → fulfill → (track, redirect) for one session
// generation. A newer run for the same session supersedes this one: all of
// its state writes are discarded and its in-flight requests aborted.
func (o *Orchestrator) runPipeline(id, userID, token string) {
	runCtx, commit := o.seq.Begin(o.baseCtx, pipelineKey(id))
	log := o.logger.With(slog.String("session_id", id), slog.String("token", logger.TokenPreview(token)))
	if userID != "" {
		runCtx = logger.WithUserID(runCtx, userID)
	}

	// apply mutates the session only while this run is still the latest.
	apply := func(mutate func(s *domain.Session)) bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		if !commit() {
			return false
		}
		entry, ok := o.sessions[id]
		if !ok {
			return false
		}
		mutate(entry.session)
		entry.session.UpdatedAt = time.Now().UTC()
		return true
	}

	fail := func(status domain.SessionStatus, message string) {
		if apply(func(s *domain.Session) {
			s.Status = status
			s.Message = message
			s.LastError = message
		}) {
			sessionsTotal.WithLabelValues(string(status)).Inc()
			if s, err := o.snapshot(id); err == nil {
				o.events.PublishFulfillmentFailed(runCtx, s, message)
			}
		}
	}

	// Verify.
	record, err := o.gateway.VerifyPayment(runCtx, token)
	if err != nil {
		if isAbort(runCtx, err) {
			return
		}
		fail(domain.StatusError, apperrors.Message(err, fallbackVerifyMessage))
		return
	}

	if !apply(func(s *domain.Session) { s.Payment = record }) {
		return
	}

	// The gateway may report the transaction itself as failed or not yet
	// completed; neither reaches fulfillment.
	switch record.RawStatus {
	case domain.RawStatusFailed:
		fail(domain.StatusFailure, MsgPaymentFailed)
		return
	case domain.RawStatusPending:
		fail(domain.StatusNoPaid, MsgPaymentNotMade)
		return
	}

	// Fulfill.
	result, err := o.gateway.ProcessConsultation(runCtx, token, record)
	if err != nil {
		if isAbort(runCtx, err) {
			return
		}
		fail(domain.StatusError, apperrors.Message(err, fallbackFulfillMessage))
		return
	}

	// IDs are captured on every path: a partially-successful backend run may
	// still have produced a usable resource.
	captureIDs := func(s *domain.Session) {
		if result.ConsultationID != "" {
			s.ConsultationID = result.ConsultationID
		}
		if result.DownloadURL != "" {
			s.DownloadURL = result.DownloadURL
		}
	}

	switch result.Classify() {
	case domain.OutcomeAlreadyUsed:
		if apply(func(s *domain.Session) {
			captureIDs(s)
			s.Status = domain.StatusAlreadyUsed
			s.Message = result.Message
		}) {
			sessionsTotal.WithLabelValues(string(domain.StatusAlreadyUsed)).Inc()
			o.markReplay(runCtx, token, id, string(domain.StatusAlreadyUsed), result)
			if s, err := o.snapshot(id); err == nil {
				o.events.PublishFulfillmentAlreadyUsed(runCtx, s)
			}
		}
		return

	case domain.OutcomeFailed:
		if apply(func(s *domain.Session) {
			captureIDs(s)
			s.Status = domain.StatusError
			s.Message = result.Message
			s.LastError = result.Message
		}) {
			sessionsTotal.WithLabelValues(string(domain.StatusError)).Inc()
			if s, err := o.snapshot(id); err == nil {
				o.events.PublishFulfillmentFailed(runCtx, s, result.Message)
			}
		}
		return
	}

	// Paid.
	if !apply(func(s *domain.Session) {
		captureIDs(s)
		s.Status = domain.StatusPaid
		s.Message = MsgPaid
		s.LastError = ""
	}) {
		return
	}
	sessionsTotal.WithLabelValues(string(domain.StatusPaid)).Inc()
	o.markReplay(runCtx, token, id, string(domain.StatusPaid), result)
	if s, err := o.snapshot(id); err == nil {
		o.events.PublishFulfillmentCompleted(runCtx, s)
	}
	log.InfoContext(runCtx, "session paid",
		slog.String("consultation_id", result.ConsultationID),
	)

	if result.ConsultationID != "" {
		o.track(runCtx, commit, id, result.ConsultationID)
		return
	}

	// Book purchase: nothing to track, arm the redirect directly.
	o.armRedirect(commit, id)
}

// trackAndRedirect runs analysis tracking for a consultation paid outside the
// token pipeline (offering payment) under a fresh pipeline generation.
func (o *Orchestrator) trackAndRedirect(id, consultationID string) {
	runCtx, commit := o.seq.Begin(o.baseCtx, pipelineKey(id))
	o.track(runCtx, commit, id, consultationID)
}

// track polls the analysis job and, on completion, arms the redirect. A
// tracker failure is a job failure, never presented as a payment failure.
func (o *Orchestrator) track(runCtx context.Context, commit func() bool, id, consultationID string) {
	apply := func(mutate func(s *domain.Session)) bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		if !commit() {
			return false
		}
		entry, ok := o.sessions[id]
		if !ok {
			return false
		}
		mutate(entry.session)
		entry.session.UpdatedAt = time.Now().UTC()
		return true
	}

	_, err := o.tracker.Track(runCtx, consultationID, func(p domain.AnalysisProgress) {
		apply(func(s *domain.Session) {
			prog := p
			s.Analysis = &prog
		})
	})
	if err != nil {
		if isAbort(runCtx, err) {
			return
		}
		if apply(func(s *domain.Session) {
			s.Status = domain.StatusError
			s.Message = apperrors.Message(err, fallbackJobFailedMessage)
			s.LastError = s.Message
		}) {
			sessionsTotal.WithLabelValues(string(domain.StatusError)).Inc()
			if s, snapErr := o.snapshot(id); snapErr == nil {
				o.events.PublishFulfillmentFailed(runCtx, s, s.Message)
			}
		}
		return
	}

	o.armRedirect(commit, id)
}

// armRedirect starts the countdown toward the session's redirect target.
func (o *Orchestrator) armRedirect(commit func() bool, id string) {
	o.mu.Lock()
	if !commit() {
		o.mu.Unlock()
		return
	}
	entry, ok := o.sessions[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	prevCancel := entry.cancelRedirect
	entry.cancelRedirect = nil
	o.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}

	resolver := func() string {
		o.mu.Lock()
		defer o.mu.Unlock()
		if e, ok := o.sessions[id]; ok {
			return e.session.RedirectTarget()
		}
		return "/consultations"
	}
	onTick := func(remaining int) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if e, ok := o.sessions[id]; ok {
			e.session.Countdown = remaining
			e.session.UpdatedAt = time.Now().UTC()
		}
	}

	cancel := o.redirect.Arm(resolver, onTick, o.navigate)

	o.mu.Lock()
	stale := true
	if e, ok := o.sessions[id]; ok && commit() {
		e.cancelRedirect = cancel
		stale = false
	}
	o.mu.Unlock()

	if stale {
		// Superseded while arming: never let the countdown fire.
		cancel()
	}
}

// markReplay records a terminal token outcome; failures only log.
func (o *Orchestrator) markReplay(ctx context.Context, token, sessionID, status string, result domain.FulfillmentResult) {
	err := o.replay.Mark(ctx, token, replay.Marker{
		SessionID:      sessionID,
		Status:         status,
		ConsultationID: result.ConsultationID,
		DownloadURL:    result.DownloadURL,
		MarkedAt:       time.Now().UTC(),
	})
	if err != nil {
		o.logger.WarnContext(ctx, "failed to record replay marker",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// isAbort reports whether err means this run was superseded or its own context
// ended (shutdown, caller cancellation). A per-call gateway timeout with a live
// run context is NOT an abort: it must surface as a terminal failure, never
// strand the session without a recovery action.
func isAbort(runCtx context.Context, err error) bool {
	return runCtx.Err() != nil || errors.Is(err, sequence.ErrSuperseded)
}
