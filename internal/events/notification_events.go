package events

import "time"

// EmailJob is the payload handed to queue-based mail transports.
type EmailJob struct {
	Template  string    `json:"template"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	HTMLBody  string    `json:"htmlBody"`
	At        time.Time `json:"at"`
}
