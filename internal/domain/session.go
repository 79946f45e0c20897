package domain

import "time"

// SessionStatus is the discriminant of the state exposed to the UI.
type SessionStatus string

const (
	// StatusPending covers verification and fulfillment in flight.
	StatusPending SessionStatus = "pending"
	// StatusPaid means fulfillment succeeded; the analysis sub-state nests here.
	StatusPaid SessionStatus = "paid"
	// StatusFailure means the gateway reported the payment itself as failed.
	StatusFailure SessionStatus = "failure"
	// StatusNoPaid means the gateway sees the payment as not completed yet.
	StatusNoPaid SessionStatus = "no_paid"
	// StatusAlreadyUsed means the token was processed in a prior run. Not an error.
	StatusAlreadyUsed SessionStatus = "already_used"
	// StatusError is the catch-all terminal failure state.
	StatusError SessionStatus = "error"
)

// Terminal reports whether no further automatic transition occurs from s.
// StatusPaid is terminal for the payment pipeline but still nests the
// analysis tracker and redirect countdown.
func (s SessionStatus) Terminal() bool {
	return s != StatusPending
}

// Intent names a user action the presentation layer may trigger on a session.
type Intent string

const (
	IntentRetry      Intent = "retry"
	IntentViewResult Intent = "view_result"
	IntentDownload   Intent = "download"
	IntentGoHome     Intent = "go_home"
)

// AnalysisProgress is the tracker sub-state nested under StatusPaid.
type AnalysisProgress struct {
	Stage           string `json:"stage"`
	ProgressPercent int    `json:"progress_percent"`
	Label           string `json:"label"`
	Done            bool   `json:"done"`
}

// Session is the single source of truth for one payment-to-fulfillment run.
// It lives in memory only; the payment token itself is never stored, only a
// truncated preview for logs and display.
type Session struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id,omitempty"`
	TokenPreview string        `json:"token_preview"`
	Status       SessionStatus `json:"status"`

	Payment        *PaymentRecord    `json:"payment,omitempty"`
	ConsultationID string            `json:"consultation_id,omitempty"`
	DownloadURL    string            `json:"download_url,omitempty"`
	Analysis       *AnalysisProgress `json:"analysis,omitempty"`

	// Message is the human text shown for the current state. Terminal states
	// always carry one.
	Message string `json:"message,omitempty"`
	// Countdown is the remaining seconds before automatic navigation, or -1
	// when no redirect is armed.
	Countdown int    `json:"countdown"`
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AvailableIntents lists the actions a session in its current state offers.
// Every terminal state offers at least one.
func (s *Session) AvailableIntents() []Intent {
	switch s.Status {
	case StatusPaid:
		intents := []Intent{IntentGoHome}
		if s.DownloadURL != "" {
			intents = append(intents, IntentDownload)
		}
		if s.ConsultationID != "" {
			intents = append(intents, IntentViewResult)
		}
		return intents
	case StatusAlreadyUsed:
		intents := []Intent{IntentGoHome}
		if s.DownloadURL != "" {
			intents = append(intents, IntentDownload)
		}
		if s.ConsultationID != "" {
			intents = append(intents, IntentViewResult)
		}
		return intents
	case StatusFailure, StatusNoPaid, StatusError:
		return []Intent{IntentRetry, IntentGoHome}
	default:
		return []Intent{IntentGoHome}
	}
}

// RedirectTarget resolves the automatic navigation destination: download URL
// first, then the consultation detail page, then the generic list.
func (s *Session) RedirectTarget() string {
	if s.DownloadURL != "" {
		return s.DownloadURL
	}
	if s.ConsultationID != "" {
		return "/consultations/" + s.ConsultationID
	}
	return "/consultations"
}
