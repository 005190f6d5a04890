package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead statuses mirror emailfinder result statuses plus bounce feedback.
const (
	LeadScraped  = "scraped"
	LeadCached   = "cached"
	LeadVerified = "verified"
	LeadCatchAll = "catch_all"
	LeadNotFound = "not_found"
	LeadUnknown  = "unknown"
	LeadBounced  = "bounced"
)

// Lead is a person whose academic email address was looked up
type Lead struct {
	gorm.Model
	UserID      uint  `gorm:"not null;index" json:"user_id"`
	FinderJobID *uint `gorm:"index" json:"finder_job_id,omitempty"`

	FirstName    string `gorm:"not null" json:"first_name"`
	LastName     string `gorm:"not null" json:"last_name"`
	Domain       string `gorm:"not null;index" json:"domain"`
	SourceURL    string `json:"source_url,omitempty"`
	Email        string `gorm:"index" json:"email"`
	Pattern      string `json:"pattern,omitempty"`
	Status       string `gorm:"not null;index" json:"status"`
	MXHost       string `json:"mx_host,omitempty"`
	CatchAll     bool   `gorm:"default:false" json:"catch_all"`
	ProbesUsed   int    `gorm:"default:0" json:"probes_used"`
	Candidates   string `gorm:"type:text" json:"candidates"` // comma separated, in try order
	Organization string `json:"organization,omitempty"`
	Details      string `gorm:"type:text" json:"details,omitempty"`
	Notes        string `gorm:"type:text" json:"notes,omitempty"`

	Company   string     `json:"company,omitempty"`
	Position  string     `json:"position,omitempty"`
	BouncedAt *time.Time `json:"bounced_at,omitempty"`
}

// FinderJob is a background bulk lookup
type FinderJob struct {
	gorm.Model
	UserID uint   `gorm:"not null;index" json:"user_id"`
	Name   string `json:"name"`
	Status string `gorm:"default:'processing'" json:"status"` // processing, completed, failed

	Total         int `gorm:"default:0" json:"total"`
	Processed     int `gorm:"default:0" json:"processed"`
	VerifiedCount int `gorm:"default:0" json:"verified_count"`
	CatchAllCount int `gorm:"default:0" json:"catch_all_count"`
	NotFoundCount int `gorm:"default:0" json:"not_found_count"`
	FailedCount   int `gorm:"default:0" json:"failed_count"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Leads       []Lead     `gorm:"foreignKey:FinderJobID" json:"leads,omitempty"`
}

// DomainPattern persists which address template a mail domain uses
type DomainPattern struct {
	gorm.Model
	Domain     string    `gorm:"not null;uniqueIndex" json:"domain"`
	Pattern    string    `gorm:"not null" json:"pattern"`
	Source     string    `json:"source"` // scraped, verified
	HitCount   int       `gorm:"default:0" json:"hit_count"`
	LastUsedAt time.Time `json:"last_used_at"`
}
