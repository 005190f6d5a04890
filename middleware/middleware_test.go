package middleware_test

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"scifounders/config"
	"scifounders/middleware"
	"scifounders/models"
	"scifounders/utils"
)

func setup(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}))
	t.Cleanup(func() { sqlDB.Close() })

	prev := config.AppConfig
	config.AppConfig = config.Config{JWTSecret: "middleware-secret"}
	t.Cleanup(func() { config.AppConfig = prev })
	return db
}

func createUser(t *testing.T, db *gorm.DB, u models.User) (*models.User, string) {
	t.Helper()
	u.IsActive = true
	u.TokenVersion = 1
	require.NoError(t, db.Create(&u).Error)
	pair, err := utils.GenerateJWTToken(&u, "")
	require.NoError(t, err)
	return &u, pair.AccessToken
}

func call(t *testing.T, app *fiber.App, path string, headers map[string]string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestProtectedAndGates(t *testing.T) {
	db := setup(t)
	_, pendingToken := createUser(t, db, models.User{Email: "pending@mit.edu", ApprovalStatus: models.ApprovalPending})
	_, memberToken := createUser(t, db, models.User{Email: "member@mit.edu", ApprovalStatus: models.ApprovalApproved})
	_, adminToken := createUser(t, db, models.User{Email: "admin@mit.edu", ApprovalStatus: models.ApprovalPending, IsAdmin: true})
	stale, staleToken := createUser(t, db, models.User{Email: "stale@mit.edu", ApprovalStatus: models.ApprovalApproved})
	require.NoError(t, db.Model(stale).Update("token_version", 2).Error)
	inactive, inactiveToken := createUser(t, db, models.User{Email: "inactive@mit.edu", ApprovalStatus: models.ApprovalApproved})
	require.NoError(t, db.Model(inactive).Update("is_active", false).Error)

	ok := func(c *fiber.Ctx) error { return c.SendString(middleware.CurrentUser(c).Email) }
	app := fiber.New()
	app.Get("/me", middleware.Protected(db), ok)
	app.Get("/members", middleware.Protected(db), middleware.Approved(), ok)
	app.Get("/admin", middleware.Protected(db), middleware.AdminOnly(), ok)
	app.Get("/unguarded", middleware.Approved(), ok)

	bearer := func(token string) map[string]string { return map[string]string{"Authorization": "Bearer " + token} }

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    int
	}{
		{"missing token", "/me", nil, fiber.StatusUnauthorized},
		{"malformed header", "/me", map[string]string{"Authorization": "Token abc"}, fiber.StatusUnauthorized},
		{"garbage token", "/me", bearer("abc.def.ghi"), fiber.StatusUnauthorized},
		{"cookie token", "/me", map[string]string{"Cookie": "access_token=" + pendingToken}, fiber.StatusOK},
		{"pending member", "/me", bearer(pendingToken), fiber.StatusOK},
		{"stale token version", "/me", bearer(staleToken), fiber.StatusUnauthorized},
		{"inactive account", "/me", bearer(inactiveToken), fiber.StatusForbidden},
		{"pending blocked from members", "/members", bearer(pendingToken), fiber.StatusForbidden},
		{"approved member", "/members", bearer(memberToken), fiber.StatusOK},
		{"admin bypasses approval", "/members", bearer(adminToken), fiber.StatusOK},
		{"member is not admin", "/admin", bearer(memberToken), fiber.StatusForbidden},
		{"admin", "/admin", bearer(adminToken), fiber.StatusOK},
		{"approval without auth", "/unguarded", nil, fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, call(t, app, tt.path, tt.headers))
		})
	}
}

func TestRefreshTokenRejectedAsAccess(t *testing.T) {
	db := setup(t)
	u := models.User{Email: "member@mit.edu", IsActive: true, TokenVersion: 1}
	require.NoError(t, db.Create(&u).Error)
	pair, err := utils.GenerateJWTToken(&u, "")
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/me", middleware.Protected(db), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, "/me", map[string]string{"Authorization": "Bearer " + pair.RefreshToken}))
}

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.CORS(middleware.DefaultCORSConfig("https://scifounders.org")))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	req := httptest.NewRequest(fiber.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://scifounders.org")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://scifounders.org", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Equal(t, "3600", resp.Header.Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(fiber.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestFinderRateLimiter(t *testing.T) {
	app := fiber.New()
	users := map[string]*models.User{
		"1": {Model: gorm.Model{ID: 1}},
		"2": {Model: gorm.Model{ID: 2}},
	}
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", users[c.Get("X-User")])
		return c.Next()
	})
	app.Post("/find", middleware.FinderRateLimiter(2, nil), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	post := func(user string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/find", nil)
		req.Header.Set("X-User", user)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, post("1"))
	assert.Equal(t, fiber.StatusOK, post("1"))
	assert.Equal(t, fiber.StatusTooManyRequests, post("1"))
	// Limits are per member.
	assert.Equal(t, fiber.StatusOK, post("2"))
}

func TestAuthRateLimiter(t *testing.T) {
	app := fiber.New()
	app.Post("/login", middleware.AuthRateLimiter(1, nil), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i, want := range []int{fiber.StatusOK, fiber.StatusTooManyRequests} {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/login", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, "attempt %d", i+1)
	}
}
