// Package domain holds the data model of the fulfillment pipeline: the
// gateway's view of a payment, the fulfillment outcome, offering wallets,
// analysis stages, and the session state machine exposed to the UI.
package domain

import "strings"

// PaymentRecord is the gateway's view of a verified transaction. It is
// read-only once created; the pipeline never mutates it.
type PaymentRecord struct {
	ID           string         `json:"id"`
	Amount       float64        `json:"amount"`
	RawStatus    string         `json:"raw_status"`
	PersonalInfo []PersonalInfo `json:"personal_info,omitempty"`
}

// PersonalInfo is the birth data attached to a payment by the gateway,
// forwarded untouched to consultation processing.
type PersonalInfo struct {
	FullName   string `json:"full_name"`
	BirthDate  string `json:"birth_date"`
	BirthTime  string `json:"birth_time,omitempty"`
	BirthPlace string `json:"birth_place,omitempty"`
}

// Raw gateway statuses observed on a verified payment. Anything else is
// treated as paid and handed to fulfillment, which makes the final call.
const (
	RawStatusFailed  = "failed"
	RawStatusPending = "pending"
)

// FulfillmentResult is produced once per token by consultation processing.
// ConsultationID and DownloadURL are captured whenever present, including on
// the already-used and error paths: a partially-successful backend run may
// still have produced a usable resource.
type FulfillmentResult struct {
	Success        bool   `json:"success"`
	ConsultationID string `json:"consultation_id,omitempty"`
	DownloadURL    string `json:"download_url,omitempty"`
	AlreadyUsed    bool   `json:"already_used,omitempty"`
	Message        string `json:"message,omitempty"`
}

// alreadyUsedMarkers is the vocabulary matched (case-insensitive substring)
// against the backend's free-text rejection message to recognize a replayed
// token. Kept small on purpose; the AlreadyUsed field wins when the backend
// sends it.
var alreadyUsedMarkers = []string{
	"already",
	"déjà",
	"used",
	"traité",
	"utilisé",
}

// IsAlreadyUsedMessage reports whether a backend rejection message describes
// a token that was already processed rather than a genuine failure.
func IsAlreadyUsedMessage(message string) bool {
	if message == "" {
		return false
	}
	lower := strings.ToLower(message)
	for _, marker := range alreadyUsedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Classify folds the raw fulfillment response into the three outcomes the
// session machine distinguishes.
func (r FulfillmentResult) Classify() FulfillmentOutcome {
	if r.Success {
		return OutcomeFulfilled
	}
	if r.AlreadyUsed || IsAlreadyUsedMessage(r.Message) {
		return OutcomeAlreadyUsed
	}
	return OutcomeFailed
}

// FulfillmentOutcome is the classification of a fulfillment response.
type FulfillmentOutcome int

const (
	OutcomeFulfilled FulfillmentOutcome = iota
	OutcomeAlreadyUsed
	OutcomeFailed
)

func (o FulfillmentOutcome) String() string {
	switch o {
	case OutcomeFulfilled:
		return "fulfilled"
	case OutcomeAlreadyUsed:
		return "already_used"
	default:
		return "failed"
	}
}
