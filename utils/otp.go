package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/big"
	"time"

	"gorm.io/gorm"

	"scifounders/models"
)

const (
	OTPLength         = 6
	OTPExpiry         = 15 * time.Minute
	MaxOTPAttempts    = 5
	OTPResendCooldown = 1 * time.Minute
)

var (
	ErrOTPExpired         = errors.New("verification code has expired")
	ErrOTPInvalid         = errors.New("invalid verification code")
	ErrOTPTooManyAttempts = errors.New("too many attempts, request a new code")
)

func GenerateOTP() (string, error) {
	const digits = "0123456789"
	otp := make([]byte, OTPLength)

	for i := range otp {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		otp[i] = digits[num.Int64()]
	}

	return string(otp), nil
}

func GenerateSecureToken() (string, error) {
	token := make([]byte, 32)
	if _, err := rand.Read(token); err != nil {
		return "", err
	}
	return hex.EncodeToString(token), nil
}

// SaveOTP stores a fresh code on the user and resets the attempt counter.
func SaveOTP(db *gorm.DB, user *models.User, otp string) error {
	user.OTP = otp
	user.OTPExpiresAt = time.Now().Add(OTPExpiry)
	user.OTPAttempts = 0

	return db.Model(user).Updates(map[string]interface{}{
		"otp":            user.OTP,
		"otp_expires_at": user.OTPExpiresAt,
		"otp_attempts":   0,
	}).Error
}

// CheckOTP compares otp with the stored code. A match clears the code;
// a miss counts against MaxOTPAttempts.
func CheckOTP(db *gorm.DB, user *models.User, otp string) error {
	if user.OTP == "" || time.Now().After(user.OTPExpiresAt) {
		return ErrOTPExpired
	}
	if user.OTPAttempts >= MaxOTPAttempts {
		return ErrOTPTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(user.OTP), []byte(otp)) != 1 {
		user.OTPAttempts++
		if err := db.Model(user).Update("otp_attempts", user.OTPAttempts).Error; err != nil {
			return err
		}
		return ErrOTPInvalid
	}

	user.OTP = ""
	user.OTPAttempts = 0
	return db.Model(user).Updates(map[string]interface{}{
		"otp":          "",
		"otp_attempts": 0,
	}).Error
}

// CanResendOTP reports whether the cooldown since the last code has passed.
func CanResendOTP(user *models.User) (bool, time.Duration) {
	if user.OTPExpiresAt.IsZero() {
		return true, 0
	}
	sentAt := user.OTPExpiresAt.Add(-OTPExpiry)
	remaining := time.Until(sentAt.Add(OTPResendCooldown))
	if remaining <= 0 {
		return true, 0
	}
	return false, remaining
}
