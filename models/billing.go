package models

import (
	"time"

	"gorm.io/gorm"
)

// Payment records a membership dues payment attempt
type Payment struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Amount        int64  `gorm:"not null" json:"amount"` // in cents
	Currency      string `gorm:"default:'usd'" json:"currency"`
	PaymentStatus string `gorm:"default:'pending'" json:"payment_status"` // pending, succeeded, failed
	Description   string `json:"description"`

	StripePaymentIntentID string     `gorm:"uniqueIndex" json:"stripe_payment_intent_id"`
	StripeChargeID        string     `json:"stripe_charge_id,omitempty"`
	ReceiptURL            string     `json:"receipt_url,omitempty"`
	FailureMessage        string     `json:"failure_message,omitempty"`
	PaidAt                *time.Time `json:"paid_at,omitempty"`
	CoversUntil           *time.Time `json:"covers_until,omitempty"`

	User User `json:"-"`
}
