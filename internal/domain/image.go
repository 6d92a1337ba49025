package domain

import "time"

type Image struct {
	ID                   ImageID   `gorm:"type:uuid;primaryKey" db:"id" json:"id"`
	AccountID            AccountID `gorm:"type:uuid;index;not null" db:"account_id" json:"accountId"`
	OriginalBytes        []byte    `gorm:"not null" db:"original_bytes" json:"-"`
	ThumbnailBytes       []byte    `gorm:"not null" db:"thumbnail_bytes" json:"-"`
	ContentType          string    `gorm:"type:text;not null" db:"content_type" json:"contentType"`
	ThumbnailContentType string    `gorm:"type:text;not null" db:"thumbnail_content_type" json:"thumbnailContentType"`
	Width                int       `gorm:"not null" db:"width" json:"width"`
	Height               int       `gorm:"not null" db:"height" json:"height"`
	CreatedAt            time.Time `gorm:"not null" db:"created_at" json:"createdAt"`
}

func (Image) TableName() string { return "images" }
