package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAlreadyUsedMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"french already processed", "Paiement déjà traité", true},
		{"english already", "Token already processed", true},
		{"english used", "this token was used before", true},
		{"french utilise", "Ce jeton a été utilisé", true},
		{"case insensitive", "DÉJÀ TRAITÉ", true},
		{"genuine failure", "Solde insuffisant", false},
		{"empty", "", false},
		{"unrelated", "internal server error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAlreadyUsedMessage(tt.message))
		})
	}
}

func TestFulfillmentResult_Classify(t *testing.T) {
	tests := []struct {
		name   string
		result FulfillmentResult
		want   FulfillmentOutcome
	}{
		{
			name:   "success",
			result: FulfillmentResult{Success: true},
			want:   OutcomeFulfilled,
		},
		{
			name:   "already used via message",
			result: FulfillmentResult{Success: false, Message: "Paiement déjà traité"},
			want:   OutcomeAlreadyUsed,
		},
		{
			name:   "already used via dedicated field",
			result: FulfillmentResult{Success: false, AlreadyUsed: true, Message: "rejected"},
			want:   OutcomeAlreadyUsed,
		},
		{
			name:   "plain failure",
			result: FulfillmentResult{Success: false, Message: "Solde insuffisant"},
			want:   OutcomeFailed,
		},
		{
			name:   "failure without message",
			result: FulfillmentResult{Success: false},
			want:   OutcomeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Classify())
		})
	}
}

func TestSession_RedirectTarget(t *testing.T) {
	s := &Session{}
	assert.Equal(t, "/consultations", s.RedirectTarget())

	s.ConsultationID = "c-1"
	assert.Equal(t, "/consultations/c-1", s.RedirectTarget())

	// Download URL takes precedence over the detail page.
	s.DownloadURL = "https://cdn.example.com/book.pdf"
	assert.Equal(t, "https://cdn.example.com/book.pdf", s.RedirectTarget())
}

func TestSession_AvailableIntents_NeverEmpty(t *testing.T) {
	for _, status := range []SessionStatus{
		StatusPending, StatusPaid, StatusFailure, StatusNoPaid, StatusAlreadyUsed, StatusError,
	} {
		s := &Session{Status: status}
		assert.NotEmpty(t, s.AvailableIntents(), "status %s must offer at least one action", status)
	}
}

func TestSession_AvailableIntents_PaidWithResources(t *testing.T) {
	s := &Session{Status: StatusPaid, ConsultationID: "c-1", DownloadURL: "https://x/y.pdf"}
	intents := s.AvailableIntents()

	assert.Contains(t, intents, IntentDownload)
	assert.Contains(t, intents, IntentViewResult)
	assert.Contains(t, intents, IntentGoHome)
}
