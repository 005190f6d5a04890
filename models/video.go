package models

import (
	"time"

	"gorm.io/gorm"
)

// Video is an entry in the knowledge center
type Video struct {
	gorm.Model
	Title           string `gorm:"not null" json:"title"`
	Description     string `gorm:"type:text" json:"description"`
	VideoURL        string `gorm:"not null" json:"video_url"`
	ThumbnailURL    string `json:"thumbnail_url"`
	Category        string `gorm:"not null;index" json:"category"`
	Tags            string `json:"tags"` // comma separated
	DurationSeconds int    `gorm:"default:0" json:"duration_seconds"`
	Position        int    `gorm:"default:0" json:"position"`
	Published       bool   `gorm:"default:false;index" json:"published"`
	CreatedByID     uint   `json:"created_by_id"`

	// Filled per request, not stored
	Progress *VideoProgress `gorm:"-" json:"progress,omitempty"`
}

// VideoProgress tracks how far a member got through a video
type VideoProgress struct {
	gorm.Model
	UserID         uint       `gorm:"not null;uniqueIndex:idx_progress_user_video" json:"user_id"`
	VideoID        uint       `gorm:"not null;uniqueIndex:idx_progress_user_video" json:"video_id"`
	WatchedSeconds int        `gorm:"default:0" json:"watched_seconds"`
	Completed      bool       `gorm:"default:false" json:"completed"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}
