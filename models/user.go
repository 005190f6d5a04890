package models

import (
	"time"

	"gorm.io/gorm"
)

// Approval states a member account moves through.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// User represents a member account
type User struct {
	gorm.Model

	// Authentication fields
	Email         string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash  string    `json:"-"`
	EmailVerified bool      `gorm:"default:false" json:"email_verified"`
	OTP           string    `json:"-"`
	OTPExpiresAt  time.Time `json:"-"`
	OTPAttempts   int       `gorm:"default:0" json:"-"`
	ResetToken    string    `json:"-"`
	ResetExpires  time.Time `json:"-"`
	TokenVersion  int       `gorm:"default:1" json:"-"`

	// Google OAuth fields
	GoogleID       *string `gorm:"uniqueIndex" json:"google_id,omitempty"`
	GoogleImageURL *string `json:"google_image_url,omitempty"`

	// Profile information
	Name          string `json:"name"`
	Title         string `json:"title"`
	Institution   string `json:"institution"`
	ResearchField string `json:"research_field"`
	Bio           string `gorm:"type:text" json:"bio"`
	LinkedInURL   string `json:"linkedin_url"`
	AvatarURL     string `json:"avatar_url"`
	Timezone      string `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive        bool       `gorm:"default:true" json:"is_active"`
	IsAdmin         bool       `gorm:"default:false" json:"is_admin"`
	ApprovalStatus  string     `gorm:"default:'pending';index" json:"approval_status"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApprovedBy      *uint      `json:"approved_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`

	// Membership dues
	MembershipPaidUntil *time.Time `json:"membership_paid_until,omitempty"`
	StripeCustomerID    *string    `gorm:"index" json:"-"`

	// Relations
	RefreshTokens []RefreshToken `gorm:"foreignKey:UserID" json:"-"`
	Leads         []Lead         `gorm:"foreignKey:UserID" json:"-"`
}

// IsApproved reports whether the member may use gated features.
func (u *User) IsApproved() bool {
	return u.IsAdmin || u.ApprovalStatus == ApprovalApproved
}

// HasActiveMembership reports whether dues are paid through now.
func (u *User) HasActiveMembership(now time.Time) bool {
	return u.MembershipPaidUntil != nil && u.MembershipPaidUntil.After(now)
}

// RefreshToken is a server-side record of an issued refresh token
type RefreshToken struct {
	gorm.Model
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	SessionID string    `gorm:"not null;uniqueIndex" json:"session_id"`
	TokenHash string    `gorm:"not null" json:"-"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	IsRevoked bool      `gorm:"default:false" json:"is_revoked"`
}
