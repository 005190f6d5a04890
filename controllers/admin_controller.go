package controller

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"scifounders/middleware"
	"scifounders/models"
	"scifounders/utils"
)

type AdminController struct {
	DB     *gorm.DB
	Logger *logrus.Entry
}

func NewAdminController(db *gorm.DB, logger *logrus.Entry) *AdminController {
	return &AdminController{
		DB:     db,
		Logger: logger,
	}
}

type UserStats struct {
	Total         int64            `json:"total"`
	ByStatus      map[string]int64 `json:"by_status"`
	SignupsLast30 int64            `json:"signups_last_30_days"`
}

type SprintStats struct {
	Started        int64   `json:"started"`
	Completed      int64   `json:"completed"`
	TasksTotal     int64   `json:"tasks_total"`
	TasksDone      int64   `json:"tasks_done"`
	CompletionRate float64 `json:"task_completion_rate"`
}

type ContentStats struct {
	Videos          int64 `json:"videos"`
	PublishedVideos int64 `json:"published_videos"`
	Posts           int64 `json:"posts"`
	Comments        int64 `json:"comments"`
}

type FinderStats struct {
	Leads          int64            `json:"leads"`
	LeadsByStatus  map[string]int64 `json:"leads_by_status"`
	CachedDomains  int64            `json:"cached_domains"`
	PatternHits    int64            `json:"pattern_hits"`
	BulkJobsActive int64            `json:"bulk_jobs_active"`
}

type DashboardStats struct {
	Users   UserStats    `json:"users"`
	Sprint  SprintStats  `json:"sprint"`
	Content ContentStats `json:"content"`
	Finder  FinderStats  `json:"finder"`
}

type RejectUserRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=1000"`
}

type SetAdminRequest struct {
	IsAdmin bool `json:"is_admin"`
}

type statusCount struct {
	Status string
	Count  int64
}

// GetDashboardStats aggregates membership, sprint, community and finder numbers.
func (ac *AdminController) GetDashboardStats(c *fiber.Ctx) error {
	var stats DashboardStats
	db := ac.DB.WithContext(c.UserContext())

	var byApproval []statusCount
	if err := db.Model(&models.User{}).
		Select("approval_status AS status, COUNT(*) AS count").
		Group("approval_status").
		Scan(&byApproval).Error; err != nil {
		ac.Logger.WithError(err).Error("Failed to count users")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get user stats", err)
	}
	stats.Users.ByStatus = make(map[string]int64, len(byApproval))
	for _, row := range byApproval {
		stats.Users.ByStatus[row.Status] = row.Count
		stats.Users.Total += row.Count
	}
	db.Model(&models.User{}).
		Where("created_at >= ?", time.Now().AddDate(0, 0, -30)).
		Count(&stats.Users.SignupsLast30)

	db.Model(&models.SprintSubmission{}).Count(&stats.Sprint.Started)
	db.Model(&models.SprintSubmission{}).Where("completed_at IS NOT NULL").Count(&stats.Sprint.Completed)
	db.Model(&models.SprintTask{}).Count(&stats.Sprint.TasksTotal)
	db.Model(&models.SprintTask{}).Where("status = ?", models.TaskDone).Count(&stats.Sprint.TasksDone)
	if stats.Sprint.TasksTotal > 0 {
		stats.Sprint.CompletionRate = float64(stats.Sprint.TasksDone) / float64(stats.Sprint.TasksTotal) * 100
	}

	db.Model(&models.Video{}).Count(&stats.Content.Videos)
	db.Model(&models.Video{}).Where("published = ?", true).Count(&stats.Content.PublishedVideos)
	db.Model(&models.Post{}).Count(&stats.Content.Posts)
	db.Model(&models.Comment{}).Count(&stats.Content.Comments)

	var byLead []statusCount
	if err := db.Model(&models.Lead{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&byLead).Error; err != nil {
		ac.Logger.WithError(err).Error("Failed to count leads")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get finder stats", err)
	}
	stats.Finder.LeadsByStatus = make(map[string]int64, len(byLead))
	for _, row := range byLead {
		stats.Finder.LeadsByStatus[row.Status] = row.Count
		stats.Finder.Leads += row.Count
	}
	db.Model(&models.DomainPattern{}).Count(&stats.Finder.CachedDomains)
	db.Model(&models.DomainPattern{}).Select("COALESCE(SUM(hit_count), 0)").Scan(&stats.Finder.PatternHits)
	db.Model(&models.FinderJob{}).Where("status = ?", "processing").Count(&stats.Finder.BulkJobsActive)

	return c.JSON(utils.SuccessResponse(stats))
}

// ListUsers pages through members, optionally filtered by approval status
// and a name/email/institution search.
func (ac *AdminController) ListUsers(c *fiber.Ctx) error {
	page, limit, offset := utils.Pagination(c, 20, 100)

	query := ac.DB.WithContext(c.UserContext()).Model(&models.User{})
	if status := c.Query("status"); status != "" {
		switch status {
		case models.ApprovalPending, models.ApprovalApproved, models.ApprovalRejected:
			query = query.Where("approval_status = ?", status)
		default:
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid status filter", nil)
		}
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(name) LIKE ? OR LOWER(institution) LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count users", err)
	}

	var users []models.User
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get users", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Success: true,
		Data:    users,
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

func (ac *AdminController) ApproveUser(c *fiber.Ctx) error {
	admin := middleware.CurrentUser(c)
	user, err := ac.findUser(c)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := ac.DB.Model(user).Updates(map[string]interface{}{
		"approval_status":  models.ApprovalApproved,
		"approved_at":      now,
		"approved_by":      admin.ID,
		"rejection_reason": "",
	}).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to approve user", err)
	}
	user.ApprovalStatus = models.ApprovalApproved
	user.ApprovedAt = &now
	user.ApprovedBy = &admin.ID
	user.RejectionReason = ""

	if err := utils.Notifications.SendApprovalEmail(user.Email, user.Name); err != nil {
		utils.LogError("approval_email_failed", err, map[string]interface{}{"user_id": user.ID})
	}

	ac.Logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"admin_id": admin.ID,
	}).Info("User approved")

	return c.JSON(utils.SuccessResponse(user))
}

// RejectUser also bumps the token version so issued sessions stop working.
func (ac *AdminController) RejectUser(c *fiber.Ctx) error {
	admin := middleware.CurrentUser(c)

	var req RejectUserRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
		}
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	user, err := ac.findUser(c)
	if err != nil {
		return err
	}
	if user.ID == admin.ID {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "You cannot reject yourself", nil)
	}

	err = ac.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(user).Updates(map[string]interface{}{
			"approval_status":  models.ApprovalRejected,
			"approved_at":      nil,
			"approved_by":      admin.ID,
			"rejection_reason": strings.TrimSpace(req.Reason),
			"token_version":    gorm.Expr("token_version + 1"),
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.RefreshToken{}).
			Where("user_id = ? AND is_revoked = ?", user.ID, false).
			Update("is_revoked", true).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reject user", err)
	}
	user.ApprovalStatus = models.ApprovalRejected
	user.ApprovedAt = nil
	user.RejectionReason = strings.TrimSpace(req.Reason)

	if err := utils.Notifications.SendRejectionEmail(user.Email, user.Name, user.RejectionReason); err != nil {
		utils.LogError("rejection_email_failed", err, map[string]interface{}{"user_id": user.ID})
	}

	ac.Logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"admin_id": admin.ID,
	}).Info("User rejected")

	return c.JSON(utils.SuccessResponse(user))
}

func (ac *AdminController) SetAdmin(c *fiber.Ctx) error {
	admin := middleware.CurrentUser(c)

	var req SetAdminRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	user, err := ac.findUser(c)
	if err != nil {
		return err
	}
	if user.ID == admin.ID && !req.IsAdmin {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "You cannot revoke your own admin access", nil)
	}

	updates := map[string]interface{}{"is_admin": req.IsAdmin}
	if req.IsAdmin && user.ApprovalStatus != models.ApprovalApproved {
		updates["approval_status"] = models.ApprovalApproved
		updates["approved_at"] = time.Now()
		updates["approved_by"] = admin.ID
	}
	if err := ac.DB.Model(user).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update user", err)
	}
	user.IsAdmin = req.IsAdmin
	if _, ok := updates["approval_status"]; ok {
		user.ApprovalStatus = models.ApprovalApproved
	}

	return c.JSON(utils.SuccessResponse(user))
}

// findUser loads the :id user. Errors are *fiber.Error values rendered by
// utils.FiberErrorHandler.
func (ac *AdminController) findUser(c *fiber.Ctx) (*models.User, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid user ID")
	}

	var user models.User
	if err := ac.DB.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "User not found")
		}
		ac.Logger.WithError(err).Error("Failed to load user")
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to get user")
	}
	return &user, nil
}
