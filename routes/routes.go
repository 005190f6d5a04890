package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	controller "scifounders/controllers"
	"scifounders/middleware"
)

const accessLogFormat = "[${time}] ${status} - ${latency} ${method} ${path}\n"

// Dependencies are the long-lived services handlers share.
type Dependencies struct {
	DB       *gorm.DB
	Finder   controller.EmailFinder
	Queue    controller.BulkQueue
	Verifier controller.AddressChecker
	Hub      *controller.CommunityHub

	// LimiterStorage backs the rate limiters; nil keeps counters in memory.
	LimiterStorage fiber.Storage
	FinderPerMin   int
	AuthPerMin     int
}

func componentLogger(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}

func SetupAuthRoutes(app *fiber.App, deps Dependencies) {
	authLogger := componentLogger("auth")

	// Auth routes group with logging middleware
	auth := app.Group("/auth", logger.New(logger.Config{Format: accessLogFormat}))

	// Public auth endpoints (no authentication required). The limiter is
	// attached per route so it does not leak onto the rest of /auth.
	limit := middleware.AuthRateLimiter(deps.AuthPerMin, deps.LimiterStorage)
	auth.Post("/register", limit, controller.Register)
	auth.Post("/login", limit, controller.Login)
	auth.Post("/forgot-password", limit, controller.ForgotPassword)
	auth.Post("/verify-reset-otp", limit, controller.VerifyResetPasswordOTP)
	auth.Post("/reset-password", limit, controller.ResetPassword)
	auth.Post("/refresh", limit, controller.RefreshToken)

	// Google OAuth routes
	auth.Get("/google", controller.GoogleOAuth)
	auth.Get("/google/callback", controller.GoogleOAuthCallback)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected(deps.DB))
	protectedAuth.Post("/logout", controller.Logout)
	protectedAuth.Post("/change-password", controller.ChangePassword)
	protectedAuth.Get("/me", controller.GetCurrentUser)
	protectedAuth.Put("/me", controller.UpdateProfile)

	// OTP routes group
	otp := app.Group("/otp", logger.New(logger.Config{Format: accessLogFormat}), middleware.Protected(deps.DB))
	otp.Post("/verify", controller.VerifyOTP)
	otp.Post("/resend", controller.ResendOTP)

	authLogger.Info("Authentication routes initialized successfully")
}

func SetupAPIRoutes(app *fiber.App, deps Dependencies) {
	db := deps.DB

	adminController := controller.NewAdminController(db, componentLogger("admin"))
	videoController := controller.NewVideoController(db, componentLogger("videos"))
	sprintController := controller.NewSprintController(db, componentLogger("sprint"))
	communityController := controller.NewCommunityController(db, componentLogger("community"), deps.Hub)
	finderController := controller.NewFinderController(db, componentLogger("finder"), deps.Finder, deps.Queue, deps.Verifier)
	leadController := controller.NewLeadController(db, componentLogger("leads"))
	paymentController := controller.NewPaymentController(db, componentLogger("billing"))

	// Stripe calls the webhook without a session.
	app.Post("/billing/webhook", paymentController.HandleWebhook)

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(db), logger.New(logger.Config{Format: accessLogFormat}))

	// Dues are payable while an application is still pending.
	billing := api.Group("/billing")
	billing.Post("/intent", paymentController.CreateMembershipIntent)
	billing.Get("/payments", paymentController.ListPayments)

	members := api.Group("", middleware.Approved())

	// Knowledge center
	videos := members.Group("/videos")
	videos.Get("/", videoController.ListVideos)
	videos.Get("/categories", videoController.ListCategories)
	videos.Get("/:id", videoController.GetVideo)
	videos.Put("/:id/progress", videoController.UpdateProgress)

	// Sprint
	sprintGroup := members.Group("/sprint")
	sprintGroup.Get("/", sprintController.GetSubmission)
	sprintGroup.Get("/questionnaire", sprintController.GetQuestionnaire)
	sprintGroup.Post("/steps/:step", sprintController.SubmitStep)
	sprintGroup.Post("/complete", sprintController.Complete)
	sprintGroup.Post("/reset", sprintController.Reset)
	sprintGroup.Get("/tasks", sprintController.ListTasks)
	sprintGroup.Patch("/tasks/:id", sprintController.UpdateTask)

	// Community
	community := members.Group("/community")
	community.Get("/live", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, websocket.New(deps.Hub.ServeWS))
	community.Get("/posts", communityController.ListPosts)
	community.Post("/posts", communityController.CreatePost)
	community.Get("/posts/:id", communityController.GetPost)
	community.Put("/posts/:id", communityController.UpdatePost)
	community.Delete("/posts/:id", communityController.DeletePost)
	community.Post("/posts/:id/comments", communityController.CreateComment)
	community.Post("/posts/:id/like", communityController.ToggleLike)
	community.Delete("/comments/:id", communityController.DeleteComment)

	// Job polling is registered ahead of the limiter so it does not spend lookups.
	members.Get("/finder/jobs", finderController.ListJobs)
	members.Get("/finder/jobs/:id", finderController.GetJob)

	// Email finder with per-member rate limiting
	finder := members.Group("/finder", middleware.FinderRateLimiter(deps.FinderPerMin, deps.LimiterStorage))
	finder.Post("/find", finderController.Find)
	finder.Post("/bulk", finderController.Bulk)
	finder.Post("/verify", finderController.Verify)

	// Lead routes
	lead := members.Group("/leads")
	lead.Get("/", leadController.GetLeads)
	lead.Get("/export", leadController.ExportLeads)
	lead.Get("/:id", leadController.GetLead)
	lead.Put("/:id", leadController.UpdateLead)
	lead.Delete("/:id", leadController.DeleteLead)

	// Admin dashboard
	admin := api.Group("/admin", middleware.AdminOnly())
	admin.Get("/stats", adminController.GetDashboardStats)
	admin.Get("/users", adminController.ListUsers)
	admin.Post("/users/:id/approve", adminController.ApproveUser)
	admin.Post("/users/:id/reject", adminController.RejectUser)
	admin.Post("/users/:id/admin", adminController.SetAdmin)
	admin.Post("/videos", videoController.CreateVideo)
	admin.Put("/videos/:id", videoController.UpdateVideo)
	admin.Delete("/videos/:id", videoController.DeleteVideo)
	admin.Get("/finder/patterns", finderController.ListPatterns)
	admin.Delete("/finder/patterns/:domain", finderController.ForgetPattern)

	// Moderation lives beside the posts it acts on.
	community.Post("/posts/:id/pin", middleware.AdminOnly(), communityController.TogglePin)
	community.Post("/posts/:id/lock", middleware.AdminOnly(), communityController.ToggleLock)

	componentLogger("api").Info("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	if deps.FinderPerMin <= 0 {
		deps.FinderPerMin = 20
	}
	if deps.AuthPerMin <= 0 {
		deps.AuthPerMin = 30
	}

	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Setup auth routes
	SetupAuthRoutes(app, deps)

	// Setup API routes
	SetupAPIRoutes(app, deps)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
