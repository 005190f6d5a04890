package controller_test

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"scifounders/config"
	controller "scifounders/controllers"
	"scifounders/models"
	"scifounders/utils"
)

const testWebhookSecret = "whsec_test"

func sendWebhook(t *testing.T, env *testEnv, payload string) int {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(fiber.MethodPost, "/billing/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func intentEvent(eventType, intentID, extra string) string {
	return fmt.Sprintf(`{"id":"evt_%s","object":"event","type":%q,"data":{"object":{"id":%q,"object":"payment_intent"%s}}}`,
		intentID, eventType, intentID, extra)
}

func TestMembershipIntent(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.member("grace@yale.edu", models.ApprovalApproved, false)

	var gotAmount int64
	pc := controller.NewPaymentController(env.db, logrus.WithField("component", "test"))
	pc.CreateIntent = func(_ *fiber.Ctx, u *models.User, amount int64, currency string) (*stripe.PaymentIntent, error) {
		gotAmount = amount
		return &stripe.PaymentIntent{ID: "pi_" + u.Email, ClientSecret: "secret_1"}, nil
	}

	app := fiber.New(fiber.Config{ErrorHandler: utils.FiberErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", user)
		return c.Next()
	})
	app.Post("/intent", pc.CreateMembershipIntent)
	app.Get("/payments", pc.ListPayments)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/intent", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data := dataOf(t, resp)
	assert.Equal(t, "secret_1", data["client_secret"])
	assert.Equal(t, float64(19900), data["amount"])
	assert.Equal(t, "usd", data["currency"])
	assert.Equal(t, int64(19900), gotAmount)

	var payment models.Payment
	require.NoError(t, env.db.Where("user_id = ?", user.ID).First(&payment).Error)
	assert.Equal(t, controller.PaymentPending, payment.PaymentStatus)
	assert.Equal(t, "pi_grace@yale.edu", payment.StripePaymentIntentID)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/payments", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data = dataOf(t, resp)
	assert.Len(t, data["payments"], 1)
	assert.Equal(t, false, data["active"])

	pc.CreateIntent = func(*fiber.Ctx, *models.User, int64, string) (*stripe.PaymentIntent, error) {
		return nil, errors.New("card network down")
	}
	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/intent", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)

	pc.Price = 0
	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/intent", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestStripeWebhook(t *testing.T) {
	env := newTestEnv(t)
	config.AppConfig.StripeWebhookSecret = testWebhookSecret
	user, token := env.member("grace@yale.edu", models.ApprovalApproved, false)

	// Dues already paid for another month stack on top of the current expiry.
	paidUntil := time.Now().Add(30 * 24 * time.Hour)
	require.NoError(t, env.db.Model(user).Update("membership_paid_until", paidUntil).Error)
	require.NoError(t, env.db.Create(&models.Payment{
		UserID: user.ID, Amount: 19900, Currency: "usd",
		PaymentStatus: controller.PaymentPending, StripePaymentIntentID: "pi_1",
	}).Error)
	require.NoError(t, env.db.Create(&models.Payment{
		UserID: user.ID, Amount: 19900, Currency: "usd",
		PaymentStatus: controller.PaymentPending, StripePaymentIntentID: "pi_2",
	}).Error)

	req := httptest.NewRequest(fiber.MethodPost, "/billing/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	succeeded := intentEvent("payment_intent.succeeded", "pi_1",
		`,"customer":"cus_9","latest_charge":{"id":"ch_1","object":"charge","receipt_url":"https://pay.stripe.com/receipts/1"}`)
	require.Equal(t, fiber.StatusOK, sendWebhook(t, env, succeeded))

	var payment models.Payment
	require.NoError(t, env.db.Where("stripe_payment_intent_id = ?", "pi_1").First(&payment).Error)
	assert.Equal(t, controller.PaymentSucceeded, payment.PaymentStatus)
	assert.Equal(t, "ch_1", payment.StripeChargeID)
	assert.Equal(t, "https://pay.stripe.com/receipts/1", payment.ReceiptURL)
	require.NotNil(t, payment.PaidAt)

	var stored models.User
	require.NoError(t, env.db.First(&stored, user.ID).Error)
	require.NotNil(t, stored.MembershipPaidUntil)
	assert.WithinDuration(t, paidUntil.Add(controller.MembershipPeriod), *stored.MembershipPaidUntil, time.Second)
	require.NotNil(t, stored.StripeCustomerID)
	assert.Equal(t, "cus_9", *stored.StripeCustomerID)

	// Replays do not extend the membership twice.
	require.Equal(t, fiber.StatusOK, sendWebhook(t, env, succeeded))
	var replayed models.User
	require.NoError(t, env.db.First(&replayed, user.ID).Error)
	assert.WithinDuration(t, *stored.MembershipPaidUntil, *replayed.MembershipPaidUntil, time.Millisecond)

	// A late failure for a paid intent is ignored.
	require.Equal(t, fiber.StatusOK, sendWebhook(t, env, intentEvent("payment_intent.payment_failed", "pi_1", "")))
	require.NoError(t, env.db.Where("stripe_payment_intent_id = ?", "pi_1").First(&payment).Error)
	assert.Equal(t, controller.PaymentSucceeded, payment.PaymentStatus)

	failed := intentEvent("payment_intent.payment_failed", "pi_2",
		`,"last_payment_error":{"message":"Your card was declined."}`)
	require.Equal(t, fiber.StatusOK, sendWebhook(t, env, failed))
	require.NoError(t, env.db.Where("stripe_payment_intent_id = ?", "pi_2").First(&payment).Error)
	assert.Equal(t, controller.PaymentFailed, payment.PaymentStatus)
	assert.Equal(t, "Payment failed: Your card was declined.", payment.FailureMessage)

	require.Equal(t, fiber.StatusOK, sendWebhook(t, env, intentEvent("payment_intent.succeeded", "pi_unknown", "")))
	require.Equal(t, fiber.StatusOK, sendWebhook(t, env, `{"id":"evt_x","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`))

	resp = env.request(fiber.MethodGet, "/api/v1/billing/payments", token, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data := dataOf(t, resp)
	assert.Equal(t, true, data["active"])
	assert.Len(t, data["payments"], 2)
}

func TestStripeWebhookConcurrentDeliveriesExtendOnce(t *testing.T) {
	env := newTestEnv(t)
	config.AppConfig.StripeWebhookSecret = testWebhookSecret
	user, _ := env.member("ada@mit.edu", models.ApprovalApproved, false)
	require.NoError(t, env.db.Create(&models.Payment{
		UserID: user.ID, Amount: 19900, Currency: "usd",
		PaymentStatus: controller.PaymentPending, StripePaymentIntentID: "pi_race",
	}).Error)

	payload := intentEvent("payment_intent.succeeded", "pi_race", "")
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})

	const deliveries = 5
	statuses := make([]int, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(fiber.MethodPost, "/billing/webhook", strings.NewReader(payload))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Stripe-Signature", signed.Header)
			resp, err := env.app.Test(req, -1)
			if err == nil {
				statuses[i] = resp.StatusCode
			}
		}(i)
	}
	wg.Wait()
	for _, status := range statuses {
		assert.Equal(t, fiber.StatusOK, status)
	}

	var stored models.User
	require.NoError(t, env.db.First(&stored, user.ID).Error)
	require.NotNil(t, stored.MembershipPaidUntil)
	assert.WithinDuration(t, time.Now().Add(controller.MembershipPeriod), *stored.MembershipPaidUntil, 10*time.Second)
}
