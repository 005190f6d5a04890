package utils

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"

	"scifounders/config"
	"scifounders/models"
)

// ConstructStripeEvent securely constructs and verifies a Stripe webhook event
func ConstructStripeEvent(c *fiber.Ctx) (stripe.Event, error) {
	payload := c.Body()
	if len(payload) == 0 {
		return stripe.Event{}, fiber.NewError(fiber.StatusBadRequest, "Failed to read request body")
	}

	signature := c.Get("Stripe-Signature")
	if signature == "" {
		logrus.Warn("Missing Stripe-Signature header")
		return stripe.Event{}, fiber.NewError(fiber.StatusBadRequest, "Missing Stripe-Signature header")
	}

	// Tolerate clock drift between Stripe and this host.
	event, err := webhook.ConstructEventWithOptions(
		payload,
		signature,
		config.AppConfig.StripeWebhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                5 * time.Minute,
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		prefix := signature
		if len(prefix) > 10 {
			prefix = prefix[:10] + "..."
		}
		logrus.WithError(err).WithField("signature_prefix", prefix).Error("Failed to verify webhook signature")
		return stripe.Event{}, fiber.NewError(fiber.StatusBadRequest, "Invalid webhook signature")
	}

	logrus.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	}).Info("Stripe webhook event verified")

	return event, nil
}

// CreateMembershipIntent opens a PaymentIntent for one year of dues.
func CreateMembershipIntent(ctx context.Context, user *models.User, amount int64, currency string) (*stripe.PaymentIntent, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:       stripe.Int64(amount),
		Currency:     stripe.String(currency),
		Description:  stripe.String("SciFounders annual membership"),
		ReceiptEmail: stripe.String(user.Email),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatUint(uint64(user.ID), 10))
	params.AddMetadata("purpose", "membership")
	if user.StripeCustomerID != nil {
		params.Customer = user.StripeCustomerID
	}

	return paymentintent.New(params)
}
