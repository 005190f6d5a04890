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

// completionRatio of the duration counts a video as watched.
const completionRatio = 0.9

type VideoController struct {
	DB     *gorm.DB
	Logger *logrus.Entry
}

func NewVideoController(db *gorm.DB, logger *logrus.Entry) *VideoController {
	return &VideoController{
		DB:     db,
		Logger: logger,
	}
}

type VideoRequest struct {
	Title           string `json:"title" validate:"required,max=200"`
	Description     string `json:"description" validate:"omitempty,max=10000"`
	VideoURL        string `json:"video_url" validate:"required,url"`
	ThumbnailURL    string `json:"thumbnail_url" validate:"omitempty,url"`
	Category        string `json:"category" validate:"required,max=100"`
	Tags            string `json:"tags" validate:"omitempty,max=500"`
	DurationSeconds int    `json:"duration_seconds" validate:"min=0"`
	Position        int    `json:"position" validate:"min=0"`
	Published       bool   `json:"published"`
}

type ProgressRequest struct {
	WatchedSeconds int  `json:"watched_seconds" validate:"min=0"`
	Completed      bool `json:"completed"`
}

type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

// ListVideos returns published videos ordered by category then position,
// each with the caller's progress.
func (vc *VideoController) ListVideos(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	page, limit, offset := utils.Pagination(c, 24, 100)

	query := vc.DB.WithContext(c.UserContext()).Model(&models.Video{})
	if !(user.IsAdmin && c.QueryBool("all")) {
		query = query.Where("published = ?", true)
	}
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(tags) LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count videos", err)
	}

	var videos []models.Video
	if err := query.Order("category ASC, position ASC, id ASC").
		Offset(offset).Limit(limit).Find(&videos).Error; err != nil {
		vc.Logger.WithError(err).Error("Failed to list videos")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get videos", err)
	}

	if err := vc.attachProgress(user.ID, videos); err != nil {
		vc.Logger.WithError(err).Warn("Failed to load video progress")
	}

	return c.JSON(utils.PaginatedResponse{
		Success: true,
		Data:    videos,
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

func (vc *VideoController) ListCategories(c *fiber.Ctx) error {
	var categories []CategoryCount
	if err := vc.DB.WithContext(c.UserContext()).Model(&models.Video{}).
		Select("category, COUNT(*) AS count").
		Where("published = ?", true).
		Group("category").
		Order("category ASC").
		Scan(&categories).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get categories", err)
	}
	return c.JSON(utils.SuccessResponse(categories))
}

func (vc *VideoController) GetVideo(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	video, err := vc.findVideo(c, !user.IsAdmin)
	if err != nil {
		return err
	}

	videos := []models.Video{*video}
	if err := vc.attachProgress(user.ID, videos); err != nil {
		vc.Logger.WithError(err).Warn("Failed to load video progress")
	}
	return c.JSON(utils.SuccessResponse(videos[0]))
}

// UpdateProgress upserts the caller's progress. Completion is sticky.
func (vc *VideoController) UpdateProgress(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var req ProgressRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	video, err := vc.findVideo(c, !user.IsAdmin)
	if err != nil {
		return err
	}

	var progress models.VideoProgress
	err = vc.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND video_id = ?", user.ID, video.ID).First(&progress).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			progress = models.VideoProgress{UserID: user.ID, VideoID: video.ID}
		} else if err != nil {
			return err
		}

		progress.WatchedSeconds = ApplyProgress(&progress, video.DurationSeconds, req, time.Now())
		return tx.Save(&progress).Error
	})
	if err != nil {
		vc.Logger.WithError(err).WithField("video_id", video.ID).Error("Failed to save progress")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save progress", err)
	}

	return c.JSON(utils.SuccessResponse(progress))
}

// ApplyProgress folds a progress report into p and returns the watched
// seconds to store. Watched time never exceeds the duration and a
// completed video stays completed.
func ApplyProgress(p *models.VideoProgress, duration int, req ProgressRequest, now time.Time) int {
	watched := req.WatchedSeconds
	if duration > 0 && watched > duration {
		watched = duration
	}
	if watched < p.WatchedSeconds {
		watched = p.WatchedSeconds
	}

	reached := duration > 0 && float64(watched) >= completionRatio*float64(duration)
	if !p.Completed && (req.Completed || reached) {
		p.Completed = true
		p.CompletedAt = &now
	}
	return watched
}

func (vc *VideoController) CreateVideo(c *fiber.Ctx) error {
	admin := middleware.CurrentUser(c)

	var req VideoRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	video := models.Video{CreatedByID: admin.ID}
	applyVideoRequest(&video, req)
	if err := vc.DB.Create(&video).Error; err != nil {
		vc.Logger.WithError(err).Error("Failed to create video")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create video", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(video))
}

func (vc *VideoController) UpdateVideo(c *fiber.Ctx) error {
	var req VideoRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	video, err := vc.findVideo(c, false)
	if err != nil {
		return err
	}

	applyVideoRequest(video, req)
	if err := vc.DB.Save(video).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update video", err)
	}

	return c.JSON(utils.SuccessResponse(video))
}

func (vc *VideoController) DeleteVideo(c *fiber.Ctx) error {
	video, err := vc.findVideo(c, false)
	if err != nil {
		return err
	}

	err = vc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", video.ID).Delete(&models.VideoProgress{}).Error; err != nil {
			return err
		}
		return tx.Delete(video).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete video", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"id": video.ID}))
}

func applyVideoRequest(v *models.Video, req VideoRequest) {
	v.Title = strings.TrimSpace(req.Title)
	v.Description = req.Description
	v.VideoURL = req.VideoURL
	v.ThumbnailURL = req.ThumbnailURL
	v.Category = strings.TrimSpace(req.Category)
	v.Tags = req.Tags
	v.DurationSeconds = req.DurationSeconds
	v.Position = req.Position
	v.Published = req.Published
}

func (vc *VideoController) findVideo(c *fiber.Ctx, publishedOnly bool) (*models.Video, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid video ID")
	}

	query := vc.DB.WithContext(c.UserContext())
	if publishedOnly {
		query = query.Where("published = ?", true)
	}

	var video models.Video
	if err := query.First(&video, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "Video not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to get video")
	}
	return &video, nil
}

func (vc *VideoController) attachProgress(userID uint, videos []models.Video) error {
	if len(videos) == 0 {
		return nil
	}
	ids := make([]uint, len(videos))
	for i, v := range videos {
		ids[i] = v.ID
	}

	var rows []models.VideoProgress
	if err := vc.DB.Where("user_id = ? AND video_id IN ?", userID, ids).Find(&rows).Error; err != nil {
		return err
	}
	byVideo := make(map[uint]*models.VideoProgress, len(rows))
	for i := range rows {
		byVideo[rows[i].VideoID] = &rows[i]
	}
	for i := range videos {
		videos[i].Progress = byVideo[videos[i].ID]
	}
	return nil
}
