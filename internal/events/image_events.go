package events

import "time"

type ImageAttached struct {
	AccountID string    `json:"accountId"`
	ImageID   string    `json:"imageId"`
	Previous  string    `json:"previous,omitempty"`
	At        time.Time `json:"at"`
}
