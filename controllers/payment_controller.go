package controller

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"

	"scifounders/config"
	"scifounders/middleware"
	"scifounders/models"
	"scifounders/utils"
)

const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"

	// MembershipPeriod is how long one dues payment covers.
	MembershipPeriod = 365 * 24 * time.Hour
)

// IntentCreator opens a Stripe PaymentIntent for a member.
type IntentCreator func(c *fiber.Ctx, user *models.User, amount int64, currency string) (*stripe.PaymentIntent, error)

type PaymentController struct {
	DB     *gorm.DB
	Logger *logrus.Entry

	Price        int64
	Currency     string
	CreateIntent IntentCreator
	// ConstructEvent verifies the webhook signature and decodes the event.
	ConstructEvent func(c *fiber.Ctx) (stripe.Event, error)
	Now            func() time.Time
}

func NewPaymentController(db *gorm.DB, logger *logrus.Entry) *PaymentController {
	return &PaymentController{
		DB:       db,
		Logger:   logger,
		Price:    config.AppConfig.MembershipPriceCents,
		Currency: string(stripe.CurrencyUSD),
		CreateIntent: func(c *fiber.Ctx, user *models.User, amount int64, currency string) (*stripe.PaymentIntent, error) {
			return utils.CreateMembershipIntent(c.UserContext(), user, amount, currency)
		},
		ConstructEvent: utils.ConstructStripeEvent,
		Now:            time.Now,
	}
}

// CreateMembershipIntent starts a dues payment for the current member
func (pc *PaymentController) CreateMembershipIntent(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if pc.Price <= 0 {
		return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "Membership payments are not configured", nil)
	}

	pi, err := pc.CreateIntent(c, user, pc.Price, pc.Currency)
	if err != nil {
		utils.LogError("stripe_intent_failed", err, map[string]interface{}{"user_id": user.ID})
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Failed to process payment", nil)
	}

	payment := models.Payment{
		UserID:                user.ID,
		Amount:                pc.Price,
		Currency:              pc.Currency,
		PaymentStatus:         PaymentPending,
		Description:           "Annual membership",
		StripePaymentIntentID: pi.ID,
	}
	if err := pc.DB.Create(&payment).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to process transaction", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"client_secret":   pi.ClientSecret,
		"payment_id":      payment.ID,
		"amount":          payment.Amount,
		"currency":        payment.Currency,
		"publishable_key": config.AppConfig.StripePublishableKey,
	}))
}

// ListPayments returns the current member's payments, newest first
func (pc *PaymentController) ListPayments(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var payments []models.Payment
	if err := pc.DB.Where("user_id = ?", user.ID).Order("created_at DESC, id DESC").Find(&payments).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch payments", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"payments":              payments,
		"membership_paid_until": user.MembershipPaidUntil,
		"active":                user.HasActiveMembership(pc.Now()),
	}))
}

// HandleWebhook handles Stripe webhook events
func (pc *PaymentController) HandleWebhook(c *fiber.Ctx) error {
	event, err := pc.ConstructEvent(c)
	if err != nil {
		return err
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Error parsing payment intent", err)
		}
		if event.Type == "payment_intent.succeeded" {
			err = pc.paymentSucceeded(&pi)
		} else {
			err = pc.paymentFailed(&pi)
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Intents created outside this API are acknowledged and ignored.
			pc.Logger.WithField("payment_intent_id", pi.ID).Warn("Payment not found for webhook")
			return c.SendStatus(fiber.StatusOK)
		}
		if err != nil {
			utils.LogError("stripe_webhook_failed", err, map[string]interface{}{"event_id": event.ID, "type": event.Type})
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update payment", nil)
		}
	}

	return c.SendStatus(fiber.StatusOK)
}

// paymentSucceeded marks the payment paid and extends the membership by one
// period from whichever is later, now or the current expiry. Replayed events
// are no-ops.
func (pc *PaymentController) paymentSucceeded(pi *stripe.PaymentIntent) error {
	return pc.DB.Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.Where("stripe_payment_intent_id = ?", pi.ID).First(&payment).Error; err != nil {
			return err
		}
		if payment.PaymentStatus == PaymentSucceeded {
			return nil
		}

		var user models.User
		if err := tx.First(&user, payment.UserID).Error; err != nil {
			return err
		}

		now := pc.Now()
		start := now
		if user.MembershipPaidUntil != nil && user.MembershipPaidUntil.After(now) {
			start = *user.MembershipPaidUntil
		}
		until := start.Add(MembershipPeriod)

		updates := map[string]interface{}{
			"payment_status":  PaymentSucceeded,
			"paid_at":         now,
			"covers_until":    until,
			"failure_message": "",
		}
		if pi.LatestCharge != nil {
			updates["stripe_charge_id"] = pi.LatestCharge.ID
			updates["receipt_url"] = pi.LatestCharge.ReceiptURL
		}
		// Only the delivery that flips the status may extend the membership.
		claim := tx.Model(&models.Payment{}).
			Where("id = ? AND payment_status <> ?", payment.ID, PaymentSucceeded).
			Updates(updates)
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected != 1 {
			return nil
		}

		userUpdates := map[string]interface{}{"membership_paid_until": until}
		if pi.Customer != nil && user.StripeCustomerID == nil {
			userUpdates["stripe_customer_id"] = pi.Customer.ID
		}
		if err := tx.Model(&user).Updates(userUpdates).Error; err != nil {
			return err
		}

		utils.LogEvent("membership_paid", map[string]interface{}{
			"user_id": user.ID,
			"until":   until,
		})
		return nil
	})
}

func (pc *PaymentController) paymentFailed(pi *stripe.PaymentIntent) error {
	var payment models.Payment
	if err := pc.DB.Where("stripe_payment_intent_id = ?", pi.ID).First(&payment).Error; err != nil {
		return err
	}
	if payment.PaymentStatus == PaymentSucceeded {
		return nil
	}

	message := "Payment failed"
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		message = "Payment failed: " + pi.LastPaymentError.Msg
	}
	return pc.DB.Model(&models.Payment{}).
		Where("id = ? AND payment_status <> ?", payment.ID, PaymentSucceeded).
		Updates(map[string]interface{}{
			"payment_status":  PaymentFailed,
			"failure_message": message,
		}).Error
}
