package controller

import (
	"encoding/csv"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"scifounders/middleware"
	"scifounders/models"
	"scifounders/utils"
)

type LeadController struct {
	DB     *gorm.DB
	Logger *logrus.Entry
}

func NewLeadController(db *gorm.DB, logger *logrus.Entry) *LeadController {
	return &LeadController{
		DB:     db,
		Logger: logger,
	}
}

type UpdateLeadRequest struct {
	Email     *string `json:"email" validate:"omitempty,email"`
	FirstName *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,min=1,max=100"`
	Company   *string `json:"company" validate:"omitempty,max=200"`
	Position  *string `json:"position" validate:"omitempty,max=200"`
	Notes     *string `json:"notes" validate:"omitempty,max=5000"`
}

// leadQuery applies the list filters shared by GetLeads and ExportLeads.
func (lc *LeadController) leadQuery(c *fiber.Ctx, userID uint) (*gorm.DB, error) {
	query := lc.DB.WithContext(c.UserContext()).Model(&models.Lead{}).Where("user_id = ?", userID)

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if domain := c.Query("domain"); domain != "" {
		query = query.Where("domain = ?", strings.ToLower(domain))
	}
	if jobID := c.Query("job_id"); jobID != "" {
		id, err := strconv.ParseUint(jobID, 10, 32)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid job ID")
		}
		query = query.Where("finder_job_id = ?", uint(id))
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(organization) LIKE ?", like, like, like, like)
	}
	return query, nil
}

// GetLeads returns paginated list of leads with filters
func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	page, limit, offset := utils.Pagination(c, 20, 100)

	query, err := lc.leadQuery(c, user.ID)
	if err != nil {
		return err
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count leads", err)
	}

	var leads []models.Lead
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&leads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch leads", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Success: true,
		Data:    leads,
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

// GetLead returns a single lead by ID
func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	lead, err := lc.findLead(c)
	if err != nil {
		return err
	}
	return c.JSON(utils.SuccessResponse(lead))
}

// UpdateLead edits contact details. Lookup fields stay as the finder set them.
func (lc *LeadController) UpdateLead(c *fiber.Ctx) error {
	var input UpdateLeadRequest
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	lead, err := lc.findLead(c)
	if err != nil {
		return err
	}

	if input.Email != nil {
		lead.Email = strings.ToLower(strings.TrimSpace(*input.Email))
	}
	if input.FirstName != nil {
		lead.FirstName = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		lead.LastName = strings.TrimSpace(*input.LastName)
	}
	if input.Company != nil {
		lead.Company = strings.TrimSpace(*input.Company)
	}
	if input.Position != nil {
		lead.Position = strings.TrimSpace(*input.Position)
	}
	if input.Notes != nil {
		lead.Notes = *input.Notes
	}

	if err := lc.DB.Save(lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update lead", err)
	}

	return c.JSON(utils.SuccessResponse(lead))
}

// DeleteLead deletes a lead
func (lc *LeadController) DeleteLead(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	result := lc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).Delete(&models.Lead{})
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete lead", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Lead deleted successfully",
	}))
}

// ExportLeads streams the filtered leads as CSV
func (lc *LeadController) ExportLeads(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	query, err := lc.leadQuery(c, user.ID)
	if err != nil {
		return err
	}

	var leads []models.Lead
	if err := query.Order("id ASC").Find(&leads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch leads", err)
	}

	c.Set("Content-Type", "text/csv")
	c.Set("Content-Disposition", "attachment; filename=leads_export_"+time.Now().Format("20060102")+".csv")

	writer := csv.NewWriter(c)

	header := []string{"first_name", "last_name", "email", "status", "pattern", "domain", "organization", "company", "position", "mx_host", "catch_all", "created_at"}
	if err := writer.Write(header); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate CSV", err)
	}

	for _, lead := range leads {
		record := []string{
			lead.FirstName,
			lead.LastName,
			lead.Email,
			lead.Status,
			lead.Pattern,
			lead.Domain,
			lead.Organization,
			lead.Company,
			lead.Position,
			lead.MXHost,
			strconv.FormatBool(lead.CatchAll),
			lead.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate CSV", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func (lc *LeadController) findLead(c *fiber.Ctx) (*models.Lead, error) {
	user := middleware.CurrentUser(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid lead ID")
	}

	var lead models.Lead
	if err := lc.DB.Where("id = ? AND user_id = ?", id, user.ID).First(&lead).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "Lead not found")
		}
		lc.Logger.WithError(err).Error("Failed to fetch lead")
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch lead")
	}
	return &lead, nil
}
