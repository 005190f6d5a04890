package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"scifounders/emailfinder"
	"scifounders/models"
)

// ErrQueueFull is returned by Enqueue when the pool cannot take more work.
var ErrQueueFull = errors.New("finder queue is full")

// Job statuses.
const (
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// LeadFinder is the part of emailfinder.Finder the worker needs.
type LeadFinder interface {
	Find(ctx context.Context, req emailfinder.Request) (*emailfinder.Result, error)
}

type finderTask struct {
	jobID  uint
	userID uint
	req    emailfinder.Request
}

// FinderWorker runs bulk lookups on a fixed number of goroutines. Each
// person in a job is one task; job counters are updated as tasks finish.
type FinderWorker struct {
	DB      *gorm.DB
	Finder  LeadFinder
	Logger  *logrus.Entry
	Workers int

	// Timeout bounds one lookup, probes and delays included.
	Timeout time.Duration

	queue chan finderTask
	wg    sync.WaitGroup

	// enqueueMu makes the room check and the sends of one job atomic with
	// respect to other producers; consumers only ever free slots.
	enqueueMu sync.Mutex
}

func NewFinderWorker(db *gorm.DB, finder LeadFinder, workers int, logger *logrus.Entry) *FinderWorker {
	if workers < 1 {
		workers = 1
	}
	return &FinderWorker{
		DB:      db,
		Finder:  finder,
		Logger:  logger,
		Workers: workers,
		Timeout: 2 * time.Minute,
		queue:   make(chan finderTask, 1000),
	}
}

// Start launches the pool and blocks until ctx is cancelled and in-flight
// lookups return.
func (fw *FinderWorker) Start(ctx context.Context) {
	fw.Logger.WithField("workers", fw.Workers).Info("Finder worker started")

	for i := 0; i < fw.Workers; i++ {
		fw.wg.Add(1)
		go func() {
			defer fw.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-fw.queue:
					fw.process(ctx, task)
				}
			}
		}()
	}

	<-ctx.Done()
	fw.wg.Wait()
	fw.Logger.Info("Finder worker shutting down...")
}

// Enqueue schedules every request of a job. It fails without enqueuing
// anything when the queue lacks room for the whole job.
func (fw *FinderWorker) Enqueue(jobID, userID uint, reqs []emailfinder.Request) error {
	fw.enqueueMu.Lock()
	defer fw.enqueueMu.Unlock()

	if cap(fw.queue)-len(fw.queue) < len(reqs) {
		return ErrQueueFull
	}
	for _, req := range reqs {
		select {
		case fw.queue <- finderTask{jobID: jobID, userID: userID, req: req}:
		default:
			return ErrQueueFull
		}
	}
	return nil
}

func (fw *FinderWorker) process(ctx context.Context, task finderTask) {
	log := fw.Logger.WithFields(logrus.Fields{"job_id": task.jobID, "domain": task.req.Domain})

	lookupCtx, cancel := context.WithTimeout(ctx, fw.Timeout)
	res, err := fw.Finder.Find(lookupCtx, task.req)
	cancel()
	if ctx.Err() != nil {
		// Shutting down; the job stays in processing.
		return
	}

	jobID := task.jobID
	lead := LeadFromResult(task.userID, &jobID, task.req, res, err)
	if err := fw.DB.Create(&lead).Error; err != nil {
		log.WithError(err).Error("Failed to save lead")
	}

	counter := "failed_count"
	switch {
	case err != nil:
		log.WithError(err).Warn("Lookup failed")
	case res.Status == emailfinder.StatusVerified || res.Status == emailfinder.StatusScraped || res.Status == emailfinder.StatusCached:
		counter = "verified_count"
	case res.Status == emailfinder.StatusCatchAll:
		counter = "catch_all_count"
	case res.Status == emailfinder.StatusNotFound:
		counter = "not_found_count"
	}

	if err := fw.DB.Model(&models.FinderJob{}).Where("id = ?", task.jobID).
		UpdateColumns(map[string]interface{}{
			"processed": gorm.Expr("processed + ?", 1),
			counter:     gorm.Expr(counter+" + ?", 1),
		}).Error; err != nil {
		log.WithError(err).Error("Failed to update job counters")
		return
	}

	now := time.Now()
	done := fw.DB.Model(&models.FinderJob{}).
		Where("id = ? AND status = ? AND processed >= total", task.jobID, JobProcessing).
		Updates(map[string]interface{}{"status": JobCompleted, "completed_at": now})
	if done.Error != nil {
		log.WithError(done.Error).Error("Failed to complete job")
	} else if done.RowsAffected > 0 {
		log.Info("Bulk lookup completed")
	}
}

// LeadFromResult maps a lookup outcome onto a lead row. A failed lookup
// still produces a lead so the member sees why.
func LeadFromResult(userID uint, jobID *uint, req emailfinder.Request, res *emailfinder.Result, err error) models.Lead {
	lead := models.Lead{
		UserID:      userID,
		FinderJobID: jobID,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Domain:      strings.ToLower(strings.TrimSpace(req.Domain)),
		SourceURL:   req.URL,
		Status:      models.LeadUnknown,
	}
	if err != nil {
		lead.Details = err.Error()
		if errors.Is(err, emailfinder.ErrNoMailServer) {
			lead.Status = models.LeadNotFound
		}
		return lead
	}

	lead.Domain = res.Domain.Host
	lead.Email = res.Email
	lead.Pattern = string(res.Pattern)
	lead.Status = string(res.Status)
	lead.MXHost = res.MXHost
	lead.CatchAll = res.CatchAll
	lead.ProbesUsed = res.ProbesUsed
	lead.Candidates = strings.Join(res.Candidates, ",")
	lead.Organization = res.Organization
	lead.Details = res.Details
	return lead
}
