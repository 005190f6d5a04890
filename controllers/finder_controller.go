package controller

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"scifounders/emailfinder"
	"scifounders/middleware"
	"scifounders/models"
	"scifounders/utils"
	"scifounders/worker"
)

const maxBulkPeople = 200

// EmailFinder is the lookup engine behind the finder endpoints.
type EmailFinder interface {
	Find(ctx context.Context, req emailfinder.Request) (*emailfinder.Result, error)
	Forget(ctx context.Context, domain string) error
}

// BulkQueue accepts background lookups.
type BulkQueue interface {
	Enqueue(jobID, userID uint, reqs []emailfinder.Request) error
}

// AddressChecker verifies one arbitrary address.
type AddressChecker interface {
	Verify(ctx context.Context, email string) *utils.VerificationResult
}

type FinderController struct {
	DB       *gorm.DB
	Logger   *logrus.Entry
	Finder   EmailFinder
	Queue    BulkQueue
	Verifier AddressChecker

	// Organizations resolves the owning institution of a domain.
	Organizations func(emailfinder.Domain) (string, error)
	// LookupTimeout bounds a synchronous lookup.
	LookupTimeout time.Duration
}

func NewFinderController(db *gorm.DB, logger *logrus.Entry, finder EmailFinder, queue BulkQueue, verifier AddressChecker) *FinderController {
	return &FinderController{
		DB:            db,
		Logger:        logger,
		Finder:        finder,
		Queue:         queue,
		Verifier:      verifier,
		Organizations: emailfinder.LookupOrganization,
		LookupTimeout: 90 * time.Second,
	}
}

type FindRequest struct {
	emailfinder.Request
	Enrich bool `json:"enrich"`
}

type BulkFindRequest struct {
	Name   string                `json:"name" validate:"omitempty,max=200"`
	People []emailfinder.Request `json:"people" validate:"required,min=1,max=200,dive"`
}

type VerifyRequest struct {
	Email string `json:"email" validate:"required,max=320"`
}

// Find runs a single lookup and saves it as a lead.
func (fc *FinderController) Find(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var req FindRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req.Request); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), fc.LookupTimeout)
	defer cancel()

	res, err := fc.Finder.Find(ctx, req.Request)
	if err != nil {
		switch {
		case errors.Is(err, emailfinder.ErrInvalidName), errors.Is(err, emailfinder.ErrInvalidDomain):
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid name or domain", err)
		case errors.Is(err, emailfinder.ErrNoMailServer):
			lead := worker.LeadFromResult(user.ID, nil, req.Request, nil, err)
			if dbErr := fc.DB.Create(&lead).Error; dbErr != nil {
				fc.Logger.WithError(dbErr).Error("Failed to save lead")
			}
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"success": false,
				"error":   "Domain does not receive email",
				"details": err.Error(),
				"lead":    lead,
			})
		case errors.Is(err, context.DeadlineExceeded):
			return utils.ErrorResponse(c, fiber.StatusGatewayTimeout, "Lookup timed out", err)
		default:
			utils.LogError("finder_lookup_failed", err, map[string]interface{}{
				"user_id": user.ID,
				"domain":  req.Domain,
			})
			return utils.ErrorResponse(c, fiber.StatusBadGateway, "Lookup failed", err)
		}
	}

	if req.Enrich && fc.Organizations != nil {
		if org, err := fc.Organizations(res.Domain); err != nil {
			fc.Logger.WithError(err).WithField("domain", res.Domain.Registrable).Debug("WHOIS lookup failed")
		} else {
			res.Organization = org
		}
	}

	lead := worker.LeadFromResult(user.ID, nil, req.Request, res, nil)
	if err := fc.DB.Create(&lead).Error; err != nil {
		fc.Logger.WithError(err).Error("Failed to save lead")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save lead", err)
	}

	utils.LogEvent("finder_lookup", map[string]interface{}{
		"user_id":     user.ID,
		"domain":      res.Domain.Host,
		"status":      res.Status,
		"probes_used": res.ProbesUsed,
	})

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"result": res,
		"lead":   lead,
	}))
}

// Bulk queues a background job. People come as JSON or as a CSV upload
// with first_name, last_name and domain (or url) columns.
func (fc *FinderController) Bulk(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var req BulkFindRequest
	if file, err := c.FormFile("file"); err == nil {
		if file.Size > 1<<20 {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "File too large (max 1MB)", nil)
		}
		src, err := file.Open()
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to open file", err)
		}
		defer src.Close()

		people, err := ParsePeopleCSV(src)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Failed to parse CSV file", err)
		}
		req.People = people
		req.Name = c.FormValue("name", file.Filename)
	} else if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	if len(req.People) > maxBulkPeople {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, fmt.Sprintf("At most %d people per job", maxBulkPeople), nil)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	if req.Name == "" {
		req.Name = "Bulk lookup " + time.Now().Format("2006-01-02 15:04")
	}
	job := models.FinderJob{
		UserID: user.ID,
		Name:   req.Name,
		Status: worker.JobProcessing,
		Total:  len(req.People),
	}
	if err := fc.DB.Create(&job).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create job", err)
	}

	if err := fc.Queue.Enqueue(job.ID, user.ID, req.People); err != nil {
		fc.DB.Model(&job).Update("status", worker.JobFailed)
		if errors.Is(err, worker.ErrQueueFull) {
			return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "Finder is busy, try again shortly", err)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to queue job", err)
	}

	fc.Logger.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"user_id": user.ID,
		"people":  job.Total,
	}).Info("Bulk lookup queued")

	return c.Status(fiber.StatusAccepted).JSON(utils.SuccessResponse(job))
}

func (fc *FinderController) ListJobs(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	page, limit, offset := utils.Pagination(c, 20, 100)

	query := fc.DB.Model(&models.FinderJob{}).Where("user_id = ?", user.ID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count jobs", err)
	}

	var jobs []models.FinderJob
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&jobs).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get jobs", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Success: true,
		Data:    jobs,
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

func (fc *FinderController) GetJob(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid job ID", nil)
	}

	var job models.FinderJob
	if err := fc.DB.Where("id = ? AND user_id = ?", id, user.ID).
		Preload("Leads", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Job not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get job", err)
	}

	return c.JSON(utils.SuccessResponse(job))
}

// Verify checks syntax, typos, disposable domains, MX and the mailbox.
func (fc *FinderController) Verify(c *fiber.Ctx) error {
	var req VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), fc.LookupTimeout)
	defer cancel()

	return c.JSON(utils.SuccessResponse(fc.Verifier.Verify(ctx, req.Email)))
}

// ForgetPattern drops a learned pattern. Admin only.
func (fc *FinderController) ForgetPattern(c *fiber.Ctx) error {
	domain := c.Params("domain")
	if err := fc.Finder.Forget(c.UserContext(), domain); err != nil {
		if errors.Is(err, emailfinder.ErrInvalidDomain) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid domain", err)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to forget pattern", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"domain": domain}))
}

// ListPatterns shows learned domain patterns, most used first. Admin only.
func (fc *FinderController) ListPatterns(c *fiber.Ctx) error {
	page, limit, offset := utils.Pagination(c, 50, 200)

	query := fc.DB.Model(&models.DomainPattern{})
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		query = query.Where("domain LIKE ?", "%"+strings.ToLower(q)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count patterns", err)
	}
	var patterns []models.DomainPattern
	if err := query.Order("hit_count DESC, domain ASC").Offset(offset).Limit(limit).Find(&patterns).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get patterns", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Success: true,
		Data:    patterns,
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

// ParsePeopleCSV reads first_name, last_name and domain or url columns.
// Header names are matched case-insensitively; blank rows are skipped.
func ParsePeopleCSV(r io.Reader) ([]emailfinder.Request, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{"first_name", "last_name"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing %s column", required)
		}
	}
	_, hasDomain := cols["domain"]
	_, hasURL := cols["url"]
	if !hasDomain && !hasURL {
		return nil, errors.New("missing domain or url column")
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var people []emailfinder.Request
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p := emailfinder.Request{
			FirstName: field(row, "first_name"),
			LastName:  field(row, "last_name"),
			Domain:    field(row, "domain"),
			URL:       field(row, "url"),
		}
		if p.FirstName == "" && p.LastName == "" && p.Domain == "" && p.URL == "" {
			continue
		}
		p.Scrape = p.URL != ""
		people = append(people, p)
		if len(people) > maxBulkPeople {
			return nil, fmt.Errorf("at most %d people per job", maxBulkPeople)
		}
	}
	if len(people) == 0 {
		return nil, errors.New("no rows")
	}
	return people, nil
}
