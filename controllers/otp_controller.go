package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"scifounders/config"
	"scifounders/middleware"
	"scifounders/utils"
)

type VerifyOTPRequest struct {
	OTP string `json:"otp" validate:"required,len=6,numeric"`
}

// VerifyOTP confirms the signed-in member's email address.
func VerifyOTP(c *fiber.Ctx) error {
	var req VerifyOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	user := middleware.CurrentUser(c)
	if user.EmailVerified {
		return c.JSON(fiber.Map{
			"message": "Email already verified",
		})
	}

	if err := utils.CheckOTP(config.DB, user, req.OTP); err != nil {
		return otpErrorResponse(c, err)
	}

	user.EmailVerified = true
	if err := config.DB.Model(user).Update("email_verified", true).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update user",
		})
	}

	utils.LogEvent("email_verified", map[string]interface{}{"user_id": user.ID})
	return c.JSON(fiber.Map{
		"message": "Email verified",
	})
}

// ResendOTP mails a fresh verification code, at most once per cooldown.
func ResendOTP(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if user.EmailVerified {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Email already verified",
		})
	}

	if canResend, remaining := utils.CanResendOTP(user); !canResend {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":       "OTP was recently sent",
			"retry_after": int(remaining.Seconds()),
		})
	}

	otp, err := utils.GenerateOTP()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate OTP",
		})
	}

	if err := utils.SaveOTP(config.DB, user, otp); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save OTP",
		})
	}

	if err := utils.Notifications.SendOTPEmail(user.Email, otp); err != nil {
		utils.LogError("otp_email_failed", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to send OTP",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Verification code sent",
	})
}

func otpErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, utils.ErrOTPTooManyAttempts):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, utils.ErrOTPExpired), errors.Is(err, utils.ErrOTPInvalid):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": err.Error(),
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to verify OTP",
		})
	}
}
