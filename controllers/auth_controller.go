package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"scifounders/config"
	"scifounders/middleware"
	"scifounders/models"
	"scifounders/utils"
)

type RegisterRequest struct {
	Email         string `json:"email" validate:"required,email"`
	Password      string `json:"password" validate:"required,min=8"`
	Name          string `json:"name" validate:"required,max=100"`
	Institution   string `json:"institution" validate:"omitempty,max=200"`
	ResearchField string `json:"research_field" validate:"omitempty,max=200"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

type AuthResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	SessionID    string       `json:"session_id,omitempty"`
	User         *models.User `json:"user"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type VerifyResetOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6"`
}

type ResetPasswordRequest struct {
	Email      string `json:"email" validate:"required,email"`
	ResetToken string `json:"reset_token" validate:"required"`
	Password   string `json:"password" validate:"required,min=8"`
}

type UpdateProfileRequest struct {
	Name          *string `json:"name" validate:"omitempty,min=1,max=100"`
	Title         *string `json:"title" validate:"omitempty,max=100"`
	Institution   *string `json:"institution" validate:"omitempty,max=200"`
	ResearchField *string `json:"research_field" validate:"omitempty,max=200"`
	Bio           *string `json:"bio" validate:"omitempty,max=4000"`
	LinkedInURL   *string `json:"linkedin_url" validate:"omitempty,url"`
	AvatarURL     *string `json:"avatar_url" validate:"omitempty,url"`
	Timezone      *string `json:"timezone" validate:"omitempty,max=64"`
}

const resetTokenTTL = 30 * time.Minute

func Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var existingUser models.User
	if err := config.DB.Where("email = ?", req.Email).First(&existingUser).Error; err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Email already registered",
		})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to hash password",
		})
	}

	user := models.User{
		Email:          req.Email,
		PasswordHash:   string(hashedPassword),
		Name:           strings.TrimSpace(req.Name),
		Institution:    req.Institution,
		ResearchField:  req.ResearchField,
		IsActive:       true,
		ApprovalStatus: models.ApprovalPending,
		TokenVersion:   1,
	}
	// Bootstrap admins skip the approval queue.
	if config.AppConfig.IsAdminEmail(user.Email) {
		now := time.Now()
		user.IsAdmin = true
		user.ApprovalStatus = models.ApprovalApproved
		user.ApprovedAt = &now
	}

	if err := config.DB.Create(&user).Error; err != nil {
		utils.LogError("user_create_failed", err, map[string]interface{}{"email": user.Email})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create user",
		})
	}

	tokens, err := issueSession(c, &user, "")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate tokens",
		})
	}

	// Verification mail problems never fail registration.
	if otp, err := utils.GenerateOTP(); err != nil {
		utils.LogError("otp_generate_failed", err, map[string]interface{}{"user_id": user.ID})
	} else if err := utils.SaveOTP(config.DB, &user, otp); err != nil {
		utils.LogError("otp_save_failed", err, map[string]interface{}{"user_id": user.ID})
	} else if err := utils.Notifications.SendOTPEmail(user.Email, otp); err != nil {
		utils.LogError("otp_email_failed", err, map[string]interface{}{"user_id": user.ID})
	}

	utils.LogEvent("user_registered", map[string]interface{}{
		"user_id":         user.ID,
		"approval_status": user.ApprovalStatus,
	})

	return c.Status(fiber.StatusCreated).JSON(AuthResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		SessionID:    tokens.SessionID,
		User:         &user,
	})
}

func Login(c *fiber.Ctx) error {
	var req LoginRequest
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

	var user models.User
	if err := config.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid email or password",
		})
	}

	// Google-only accounts have no password hash.
	if user.PasswordHash == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid email or password",
		})
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid email or password",
		})
	}

	if !user.IsActive {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Account is not active",
		})
	}

	now := time.Now()
	user.LastLoginAt = &now
	config.DB.Model(&user).Update("last_login_at", now)

	tokens, err := issueSession(c, &user, "")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate tokens",
		})
	}

	return c.JSON(AuthResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		SessionID:    tokens.SessionID,
		User:         &user,
	})
}

func Logout(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	sessionID, _ := c.Locals("sessionID").(string)

	if err := config.DB.Model(&models.RefreshToken{}).
		Where("user_id = ? AND session_id = ?", user.ID, sessionID).
		Update("is_revoked", true).Error; err != nil {
		utils.LogError("logout_revoke_failed", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to end session",
		})
	}

	c.ClearCookie("access_token", "refresh_token")
	return c.JSON(fiber.Map{
		"message": "Logged out",
	})
}

func ChangePassword(c *fiber.Ctx) error {
	var req ChangePasswordRequest
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

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid current password",
		})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to hash password",
		})
	}

	// The version bump invalidates every access token already issued.
	err = config.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(user).Updates(map[string]interface{}{
			"password_hash": string(hashedPassword),
			"token_version": gorm.Expr("token_version + 1"),
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.RefreshToken{}).
			Where("user_id = ? AND is_revoked = ?", user.ID, false).
			Update("is_revoked", true).Error
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update password",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Password changed successfully",
	})
}

// RefreshToken rotates the refresh token of an existing session.
func RefreshToken(c *fiber.Ctx) error {
	var req RefreshTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.RefreshToken == "" {
		req.RefreshToken = c.Cookies("refresh_token")
	}
	if req.RefreshToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "refresh_token is required",
		})
	}

	claims, err := utils.ParseJWTToken(req.RefreshToken)
	if err != nil || claims.TokenType != utils.TokenTypeRefresh {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid refresh token",
		})
	}

	var stored models.RefreshToken
	if err := config.DB.Where("session_id = ? AND user_id = ?", claims.SessionID, claims.UserID).First(&stored).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Session not found",
		})
	}
	if stored.IsRevoked || time.Now().After(stored.ExpiresAt) || stored.TokenHash != utils.HashToken(req.RefreshToken) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Session has been revoked",
		})
	}

	var user models.User
	if err := config.DB.First(&user, claims.UserID).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "User not found",
		})
	}
	if !user.IsActive || user.TokenVersion != claims.TokenVersion {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid token version",
		})
	}

	tokens, err := issueSession(c, &user, stored.SessionID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate tokens",
		})
	}

	return c.JSON(fiber.Map{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"session_id":    tokens.SessionID,
	})
}

func ForgotPassword(c *fiber.Ctx) error {
	var req ForgotPasswordRequest
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

	// Don't reveal if user doesn't exist
	genericResponse := fiber.Map{
		"message": "If an account exists, a reset code will be sent",
	}

	var user models.User
	if err := config.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		return c.JSON(genericResponse)
	}

	if canResend, remaining := utils.CanResendOTP(&user); !canResend {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":       "Please wait before requesting another reset",
			"retry_after": int(remaining.Seconds()),
		})
	}

	otp, err := utils.GenerateOTP()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate OTP",
		})
	}

	if err := utils.SaveOTP(config.DB, &user, otp); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save OTP",
		})
	}

	if err := utils.Notifications.SendPasswordResetOTPEmail(user.Email, otp); err != nil {
		utils.LogError("reset_email_failed", err, map[string]interface{}{"user_id": user.ID})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to send OTP email",
		})
	}

	return c.JSON(genericResponse)
}

func VerifyResetPasswordOTP(c *fiber.Ctx) error {
	var req VerifyResetOTPRequest
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

	var user models.User
	if err := config.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired OTP",
		})
	}

	if err := utils.CheckOTP(config.DB, &user, req.OTP); err != nil {
		return otpErrorResponse(c, err)
	}

	resetToken, err := utils.GenerateSecureToken()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate reset token",
		})
	}

	// Only the hash is kept server side.
	if err := config.DB.Model(&user).Updates(map[string]interface{}{
		"reset_token":   utils.HashToken(resetToken),
		"reset_expires": time.Now().Add(resetTokenTTL),
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update user record",
		})
	}

	return c.JSON(fiber.Map{
		"message":     "OTP verified successfully",
		"reset_token": resetToken,
	})
}

func ResetPassword(c *fiber.Ctx) error {
	var req ResetPasswordRequest
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

	var user models.User
	if err := config.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid reset token",
		})
	}

	if user.ResetToken == "" || user.ResetToken != utils.HashToken(req.ResetToken) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid reset token",
		})
	}
	if time.Now().After(user.ResetExpires) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Expired reset token",
		})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to hash password",
		})
	}

	err = config.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"password_hash": string(hashedPassword),
			"reset_token":   "",
			"token_version": gorm.Expr("token_version + 1"),
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.RefreshToken{}).
			Where("user_id = ? AND is_revoked = ?", user.ID, false).
			Update("is_revoked", true).Error
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update password",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Password reset successfully",
	})
}

func GetCurrentUser(c *fiber.Ctx) error {
	return c.JSON(middleware.CurrentUser(c))
}

func UpdateProfile(c *fiber.Ctx) error {
	var req UpdateProfileRequest
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
	updates := make(map[string]interface{})
	set := func(column string, field *string, v *string) {
		if v != nil {
			*field = strings.TrimSpace(*v)
			updates[column] = *field
		}
	}
	set("name", &user.Name, req.Name)
	set("title", &user.Title, req.Title)
	set("institution", &user.Institution, req.Institution)
	set("research_field", &user.ResearchField, req.ResearchField)
	set("bio", &user.Bio, req.Bio)
	set("linked_in_url", &user.LinkedInURL, req.LinkedInURL)
	set("avatar_url", &user.AvatarURL, req.AvatarURL)
	set("timezone", &user.Timezone, req.Timezone)

	if len(updates) > 0 {
		if err := config.DB.Model(user).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update profile",
			})
		}
	}

	return c.JSON(user)
}

// issueSession signs a token pair and stores the refresh token hash. A
// non-empty sessionID rotates that session instead of opening a new one.
func issueSession(c *fiber.Ctx, user *models.User, sessionID string) (*utils.TokenPair, error) {
	tokens, err := utils.GenerateJWTToken(user, sessionID)
	if err != nil {
		return nil, err
	}

	record := models.RefreshToken{
		UserID:    user.ID,
		SessionID: tokens.SessionID,
		TokenHash: utils.HashToken(tokens.RefreshToken),
		UserAgent: c.Get("User-Agent"),
		IPAddress: c.IP(),
		ExpiresAt: tokens.ExpiresAt,
	}

	if sessionID == "" {
		err = config.DB.Create(&record).Error
	} else {
		err = config.DB.Model(&models.RefreshToken{}).
			Where("session_id = ?", sessionID).
			Updates(map[string]interface{}{
				"token_hash": record.TokenHash,
				"expires_at": record.ExpiresAt,
				"user_agent": record.UserAgent,
				"ip_address": record.IPAddress,
			}).Error
	}
	if err != nil {
		utils.LogError("session_store_failed", err, map[string]interface{}{"user_id": user.ID})
		return nil, err
	}
	return tokens, nil
}

func googleOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     config.AppConfig.Google.ClientID,
		ClientSecret: config.AppConfig.Google.ClientSecret,
		RedirectURL:  config.AppConfig.Google.RedirectURI,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}
}

func GoogleOAuth(c *fiber.Ctx) error {
	if config.AppConfig.Google.ClientID == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Google sign-in is not configured",
		})
	}

	state, err := utils.GenerateSecureToken()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate state token",
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Expires:  time.Now().Add(10 * time.Minute),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})

	url := googleOAuthConfig().AuthCodeURL(state, oauth2.AccessTypeOffline)
	return c.Redirect(url, fiber.StatusTemporaryRedirect)
}

func GoogleOAuthCallback(c *fiber.Ctx) error {
	state := c.Query("state")
	cookieState := c.Cookies("oauth_state")

	if state == "" || cookieState == "" || state != cookieState {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid state parameter",
		})
	}
	c.ClearCookie("oauth_state")

	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Authorization code not provided",
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 15*time.Second)
	defer cancel()

	oauthConfig := googleOAuthConfig()
	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		utils.LogError("google_exchange_failed", err, nil)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to exchange token",
		})
	}

	client := oauthConfig.Client(ctx, token)
	resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to get user info",
		})
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		utils.LogError("google_userinfo_failed", errors.New(string(body)), map[string]interface{}{"status": resp.StatusCode})
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Google API error",
		})
	}

	var googleUser struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Name     string `json:"name"`
		Picture  string `json:"picture"`
		Verified bool   `json:"verified_email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&googleUser); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to parse user info",
		})
	}
	if googleUser.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Google account email is required",
		})
	}
	googleUser.Email = strings.ToLower(googleUser.Email)

	var user models.User
	err = config.DB.Where("email = ?", googleUser.Email).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			Email:          googleUser.Email,
			Name:           googleUser.Name,
			GoogleID:       &googleUser.ID,
			GoogleImageURL: &googleUser.Picture,
			AvatarURL:      googleUser.Picture,
			EmailVerified:  googleUser.Verified,
			IsActive:       true,
			ApprovalStatus: models.ApprovalPending,
			TokenVersion:   1,
		}
		if config.AppConfig.IsAdminEmail(user.Email) {
			now := time.Now()
			user.IsAdmin = true
			user.ApprovalStatus = models.ApprovalApproved
			user.ApprovedAt = &now
		}
		if err := config.DB.Create(&user).Error; err != nil {
			utils.LogError("google_user_create_failed", err, map[string]interface{}{"email": user.Email})
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create user",
			})
		}
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Database error",
		})
	default:
		updates := make(map[string]interface{})
		if user.GoogleID == nil || *user.GoogleID != googleUser.ID {
			updates["google_id"] = googleUser.ID
		}
		if user.GoogleImageURL == nil || *user.GoogleImageURL != googleUser.Picture {
			updates["google_image_url"] = googleUser.Picture
		}
		if !user.EmailVerified && googleUser.Verified {
			updates["email_verified"] = true
		}
		if len(updates) > 0 {
			if err := config.DB.Model(&user).Updates(updates).Error; err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "Failed to update user",
				})
			}
		}
	}

	if !user.IsActive {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Account is not active",
		})
	}

	tokens, err := issueSession(c, &user, "")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate tokens",
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    tokens.AccessToken,
		Expires:  time.Now().Add(utils.AccessTokenTTL),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
	c.Cookie(&fiber.Cookie{
		Name:     "refresh_token",
		Value:    tokens.RefreshToken,
		Expires:  tokens.ExpiresAt,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})

	return c.JSON(AuthResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		SessionID:    tokens.SessionID,
		User:         &user,
	})
}
