package domain

import "time"

// Status is the processing state reported for a webhook exchange.
type Status string

const (
	StatusProcessed Status = "Processed"
	StatusError     Status = "Error"
	StatusPending   Status = "Pending"
)

// ParseStatus maps a reply's status field onto a known Status.
// Unknown or empty values report ok=false.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusProcessed, StatusError, StatusPending:
		return Status(s), true
	}
	return "", false
}

// WebhookResponse is the record built after a successful webhook call.
// It is not modified after construction.
type WebhookResponse struct {
	ID           string    `json:"id"`
	ReceivedData FormData  `json:"receivedData"`
	Status       Status    `json:"status"`
	ProcessedAt  time.Time `json:"processedAt"`
	Message      string    `json:"message,omitempty"`
}
