package controller

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"scifounders/middleware"
	"scifounders/models"
	"scifounders/sprint"
	"scifounders/utils"
)

type SprintController struct {
	DB            *gorm.DB
	Logger        *logrus.Entry
	Questionnaire *sprint.Questionnaire
	Templates     []sprint.TaskTemplate
}

func NewSprintController(db *gorm.DB, logger *logrus.Entry) *SprintController {
	return &SprintController{
		DB:            db,
		Logger:        logger,
		Questionnaire: sprint.Default(),
		Templates:     sprint.DefaultTemplates(),
	}
}

type SubmitStepRequest struct {
	Answers sprint.Answers `json:"answers"`
}

type UpdateTaskRequest struct {
	Status string `json:"status" validate:"required,oneof=todo in_progress done"`
}

// SprintState is the caller's position in the questionnaire.
type SprintState struct {
	Answers     sprint.Answers `json:"answers"`
	CurrentStep string         `json:"current_step"`
	Path        []string       `json:"path"`
	Progress    int            `json:"progress"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func (sc *SprintController) GetQuestionnaire(c *fiber.Ctx) error {
	return c.JSON(utils.SuccessResponse(sc.Questionnaire.Steps()))
}

func (sc *SprintController) GetSubmission(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	sub, answers, err := sc.loadSubmission(user.ID)
	if err != nil {
		return err
	}
	return c.JSON(utils.SuccessResponse(sc.state(sub, answers)))
}

// SubmitStep merges one step's answers and moves the caller along the
// branch those answers select.
func (sc *SprintController) SubmitStep(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	stepKey := c.Params("step")

	var req SubmitStepRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if req.Answers == nil {
		req.Answers = sprint.Answers{}
	}

	sub, answers, err := sc.loadSubmission(user.ID)
	if err != nil {
		return err
	}

	merged, next, err := sc.Questionnaire.Submit(answers, stepKey, req.Answers)
	if err != nil {
		var verr *sprint.ValidationError
		switch {
		case errors.As(err, &verr):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid answers",
				"fields":  verr.Fields,
			})
		case errors.Is(err, sprint.ErrUnknownStep):
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Unknown step", err)
		case errors.Is(err, sprint.ErrStepNotOnPath):
			return utils.ErrorResponse(c, fiber.StatusConflict, "Step is not on your current path", err)
		default:
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to submit step", err)
		}
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encode answers", err)
	}
	sub.Answers = string(encoded)
	sub.CurrentStep = next
	if err := sc.DB.Save(sub).Error; err != nil {
		sc.Logger.WithError(err).WithField("user_id", user.ID).Error("Failed to save sprint submission")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save answers", err)
	}

	return c.JSON(utils.SuccessResponse(sc.state(sub, merged)))
}

// Complete generates the personalized task list. Generated tasks still in
// todo are replaced; tasks the member already started are kept.
func (sc *SprintController) Complete(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	sub, answers, err := sc.loadSubmission(user.ID)
	if err != nil {
		return err
	}
	if err := sc.Questionnaire.Complete(answers); err != nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Questionnaire is incomplete", err)
	}

	now := time.Now()
	var tasks []models.SprintTask
	err = sc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND status = ? AND template_key <> ''", user.ID, models.TaskTodo).
			Delete(&models.SprintTask{}).Error; err != nil {
			return err
		}

		var started []models.SprintTask
		if err := tx.Where("user_id = ? AND template_key <> ''", user.ID).Find(&started).Error; err != nil {
			return err
		}
		kept := make(map[string]bool, len(started))
		for _, t := range started {
			kept[t.TemplateKey] = true
		}

		for i, tmpl := range sprint.Tasks(sc.Templates, answers) {
			if kept[tmpl.Key] {
				continue
			}
			task := models.SprintTask{
				UserID:      user.ID,
				TemplateKey: tmpl.Key,
				Title:       tmpl.Title,
				Description: tmpl.Description,
				Category:    tmpl.Category,
				Priority:    tmpl.Priority,
				Position:    i,
				Status:      models.TaskTodo,
			}
			if tmpl.DueInDays > 0 {
				due := now.AddDate(0, 0, tmpl.DueInDays)
				task.DueDate = &due
			}
			tasks = append(tasks, task)
		}
		if len(tasks) > 0 {
			if err := tx.Create(&tasks).Error; err != nil {
				return err
			}
		}

		sub.CompletedAt = &now
		sub.CurrentStep = ""
		return tx.Save(sub).Error
	})
	if err != nil {
		sc.Logger.WithError(err).WithField("user_id", user.ID).Error("Failed to generate sprint tasks")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate tasks", err)
	}

	utils.LogEvent("sprint_completed", map[string]interface{}{
		"user_id": user.ID,
		"tasks":   len(tasks),
	})

	return sc.ListTasks(c)
}

func (sc *SprintController) ListTasks(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	query := sc.DB.Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var tasks []models.SprintTask
	if err := query.Order("position ASC, id ASC").Find(&tasks).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get tasks", err)
	}
	return c.JSON(utils.SuccessResponse(tasks))
}

func (sc *SprintController) UpdateTask(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var req UpdateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid task ID", nil)
	}

	var task models.SprintTask
	if err := sc.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Task not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get task", err)
	}

	task.Status = req.Status
	if req.Status == models.TaskDone {
		if task.CompletedAt == nil {
			now := time.Now()
			task.CompletedAt = &now
		}
	} else {
		task.CompletedAt = nil
	}
	if err := sc.DB.Save(&task).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update task", err)
	}

	return c.JSON(utils.SuccessResponse(task))
}

// Reset drops the submission and every generated task.
func (sc *SprintController) Reset(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	err := sc.DB.Transaction(func(tx *gorm.DB) error {
		// Hard delete: user_id is unique on submissions.
		if err := tx.Unscoped().Where("user_id = ?", user.ID).Delete(&models.SprintSubmission{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND template_key <> ''", user.ID).Delete(&models.SprintTask{}).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reset sprint", err)
	}

	return c.JSON(utils.SuccessResponse(sc.state(&models.SprintSubmission{UserID: user.ID}, sprint.Answers{})))
}

// loadSubmission returns the caller's submission, unsaved when none exists.
func (sc *SprintController) loadSubmission(userID uint) (*models.SprintSubmission, sprint.Answers, error) {
	var sub models.SprintSubmission
	err := sc.DB.Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.SprintSubmission{UserID: userID}, sprint.Answers{}, nil
	}
	if err != nil {
		sc.Logger.WithError(err).WithField("user_id", userID).Error("Failed to load sprint submission")
		return nil, nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to load sprint")
	}

	answers := sprint.Answers{}
	if sub.Answers != "" {
		if err := json.Unmarshal([]byte(sub.Answers), &answers); err != nil {
			sc.Logger.WithError(err).WithField("user_id", userID).Warn("Discarding unreadable sprint answers")
			answers = sprint.Answers{}
		}
	}
	return &sub, answers, nil
}

func (sc *SprintController) state(sub *models.SprintSubmission, answers sprint.Answers) SprintState {
	return SprintState{
		Answers:     answers,
		CurrentStep: sc.Questionnaire.Current(answers),
		Path:        sc.Questionnaire.Plan(answers),
		Progress:    sc.Questionnaire.Progress(answers),
		CompletedAt: sub.CompletedAt,
	}
}
