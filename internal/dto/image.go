package dto

import "time"

// ImageJSON delivers an image inline. Data and Thumbnail are standard
// base64 without a data URI prefix.
type ImageJSON struct {
	ID                   string    `json:"id"`
	ContentType          string    `json:"contentType"`
	ThumbnailContentType string    `json:"thumbnailContentType"`
	Width                int       `json:"width"`
	Height               int       `json:"height"`
	Data                 string    `json:"data,omitempty"`
	Thumbnail            string    `json:"thumbnail"`
	CreatedAt            time.Time `json:"createdAt"`
}
