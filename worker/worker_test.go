package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"scifounders/config"
	"scifounders/emailfinder"
	"scifounders/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Lead{}, &models.FinderJob{}))
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// stubFinder answers by last name.
type stubFinder struct{}

func (stubFinder) Find(_ context.Context, req emailfinder.Request) (*emailfinder.Result, error) {
	domain := emailfinder.Domain{Host: req.Domain, Registrable: req.Domain}
	switch req.LastName {
	case "Lovelace":
		return &emailfinder.Result{Email: "ada.lovelace@" + req.Domain, Pattern: "first.last", Status: emailfinder.StatusVerified, Domain: domain}, nil
	case "Turing":
		return &emailfinder.Result{Email: "alan.turing@" + req.Domain, Status: emailfinder.StatusCatchAll, CatchAll: true, Domain: domain}, nil
	case "Hopper":
		return &emailfinder.Result{Status: emailfinder.StatusNotFound, Domain: domain}, nil
	default:
		return nil, fmt.Errorf("%w: %s", emailfinder.ErrNoMailServer, req.Domain)
	}
}

func TestLeadFromResult(t *testing.T) {
	req := emailfinder.Request{FirstName: " Ada ", LastName: "Lovelace", Domain: "CS.MIT.edu"}
	jobID := uint(7)

	lead := LeadFromResult(3, &jobID, req, &emailfinder.Result{
		Email:      "ada.lovelace@cs.mit.edu",
		Pattern:    "first.last",
		Status:     emailfinder.StatusVerified,
		Candidates: []string{"ada.lovelace@cs.mit.edu", "alovelace@cs.mit.edu"},
		MXHost:     "mx.mit.edu",
		ProbesUsed: 3,
		Domain:     emailfinder.Domain{Host: "cs.mit.edu", Registrable: "mit.edu"},
	}, nil)
	assert.Equal(t, uint(3), lead.UserID)
	assert.Equal(t, &jobID, lead.FinderJobID)
	assert.Equal(t, "Ada", lead.FirstName)
	assert.Equal(t, "cs.mit.edu", lead.Domain)
	assert.Equal(t, models.LeadVerified, lead.Status)
	assert.Equal(t, "ada.lovelace@cs.mit.edu,alovelace@cs.mit.edu", lead.Candidates)
	assert.Equal(t, 3, lead.ProbesUsed)

	failed := LeadFromResult(3, nil, req, nil, fmt.Errorf("%w: cs.mit.edu", emailfinder.ErrNoMailServer))
	assert.Equal(t, models.LeadNotFound, failed.Status)
	assert.Equal(t, "cs.mit.edu", failed.Domain)
	assert.Contains(t, failed.Details, "no mail server")

	other := LeadFromResult(3, nil, req, nil, errors.New("dial tcp: timeout"))
	assert.Equal(t, models.LeadUnknown, other.Status)
}

func TestFinderWorkerProcessesJob(t *testing.T) {
	db := newTestDB(t)
	job := models.FinderJob{UserID: 1, Name: "Advisors", Status: JobProcessing, Total: 4}
	require.NoError(t, db.Create(&job).Error)

	fw := NewFinderWorker(db, stubFinder{}, 2, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fw.Start(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	require.NoError(t, fw.Enqueue(job.ID, 1, []emailfinder.Request{
		{FirstName: "Ada", LastName: "Lovelace", Domain: "mit.edu"},
		{FirstName: "Alan", LastName: "Turing", Domain: "cam.ac.uk"},
		{FirstName: "Grace", LastName: "Hopper", Domain: "yale.edu"},
		{FirstName: "Nobody", LastName: "Here", Domain: "nomail.edu"},
	}))

	require.Eventually(t, func() bool {
		var current models.FinderJob
		return db.First(&current, job.ID).Error == nil && current.Status == JobCompleted
	}, 5*time.Second, 20*time.Millisecond)

	var done models.FinderJob
	require.NoError(t, db.First(&done, job.ID).Error)
	assert.Equal(t, 4, done.Processed)
	assert.Equal(t, 1, done.VerifiedCount)
	assert.Equal(t, 1, done.CatchAllCount)
	assert.Equal(t, 1, done.NotFoundCount)
	assert.Equal(t, 1, done.FailedCount)
	assert.NotNil(t, done.CompletedAt)

	var leads []models.Lead
	require.NoError(t, db.Where("finder_job_id = ?", job.ID).Order("last_name").Find(&leads).Error)
	require.Len(t, leads, 4)
	assert.Equal(t, models.LeadNotFound, leads[0].Status) // Here
	assert.Equal(t, "ada.lovelace@mit.edu", leads[2].Email)
}

func TestFinderWorkerQueueFull(t *testing.T) {
	fw := NewFinderWorker(nil, stubFinder{}, 1, testLogger())
	reqs := make([]emailfinder.Request, cap(fw.queue)+1)
	assert.ErrorIs(t, fw.Enqueue(1, 1, reqs), ErrQueueFull)
	assert.Zero(t, len(fw.queue))

	require.NoError(t, fw.Enqueue(1, 1, reqs[:10]))
	assert.Equal(t, 10, len(fw.queue))
}

func TestFinderWorkerConcurrentEnqueueIsAllOrNothing(t *testing.T) {
	fw := NewFinderWorker(nil, stubFinder{}, 1, testLogger())
	const jobs, perJob = 8, 300
	reqs := make([]emailfinder.Request, perJob)

	var wg sync.WaitGroup
	errs := make([]error, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fw.Enqueue(uint(i+1), 1, reqs)
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else {
			assert.ErrorIs(t, err, ErrQueueFull)
		}
	}
	assert.Equal(t, cap(fw.queue)/perJob, accepted)
	require.Equal(t, accepted*perJob, len(fw.queue))

	perJobQueued := make(map[uint]int)
	for len(fw.queue) > 0 {
		task := <-fw.queue
		perJobQueued[task.jobID]++
	}
	for i, err := range errs {
		if err == nil {
			assert.Equal(t, perJob, perJobQueued[uint(i+1)])
		} else {
			assert.Zero(t, perJobQueued[uint(i+1)])
		}
	}
}

const dsnReport = "From: Mail Delivery System <MAILER-DAEMON@mx.mit.edu>\r\n" +
	"To: outreach@scifounders.org\r\n" +
	"Subject: Undelivered Mail Returned to Sender\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/report; report-type=delivery-status; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=us-ascii\r\n" +
	"\r\n" +
	"I'm sorry to have to inform you that your message could not be delivered.\r\n" +
	"--b1\r\n" +
	"Content-Type: message/delivery-status\r\n" +
	"\r\n" +
	"Reporting-MTA: dns; mx.mit.edu\r\n" +
	"Arrival-Date: Mon, 19 Oct 2026 10:00:00 -0400\r\n" +
	"\r\n" +
	"Final-Recipient: rfc822; Ada.Lovelace@mit.edu\r\n" +
	"Original-Recipient: rfc822;ada.lovelace@mit.edu\r\n" +
	"Action: failed\r\n" +
	"Status: 5.1.1\r\n" +
	"\r\n" +
	"Final-Recipient: rfc822; alan.turing@mit.edu\r\n" +
	"Action: delayed\r\n" +
	"Status: 4.4.1\r\n" +
	"\r\n" +
	"Final-Recipient: rfc822; grace.hopper@mit.edu\r\n" +
	"Action: failed\r\n" +
	"Status: 5.1.1\r\n" +
	"--b1--\r\n"

func TestParseBounce(t *testing.T) {
	t.Run("delivery status report", func(t *testing.T) {
		addrs, err := ParseBounce(strings.NewReader(dsnReport))
		require.NoError(t, err)
		assert.Equal(t, []string{"ada.lovelace@mit.edu", "grace.hopper@mit.edu"}, addrs)
	})

	t.Run("failed recipients header", func(t *testing.T) {
		msg := "From: Mail Delivery System <Mailer-Daemon@mx.yale.edu>\r\n" +
			"X-Failed-Recipients: J.Doe@yale.edu, <r.roe@yale.edu>, j.doe@yale.edu\r\n" +
			"Subject: Mail delivery failed\r\n" +
			"Content-Type: text/plain\r\n" +
			"\r\n" +
			"This message was created automatically by mail delivery software.\r\n"
		addrs, err := ParseBounce(strings.NewReader(msg))
		require.NoError(t, err)
		assert.Equal(t, []string{"j.doe@yale.edu", "r.roe@yale.edu"}, addrs)
	})

	t.Run("ordinary mail", func(t *testing.T) {
		msg := "From: ada@mit.edu\r\nSubject: Re: intro\r\nContent-Type: text/plain\r\n\r\nSounds good!\r\n"
		addrs, err := ParseBounce(strings.NewReader(msg))
		require.NoError(t, err)
		assert.Empty(t, addrs)
	})
}

type recordingForgetter struct {
	domains []string
}

func (f *recordingForgetter) Forget(_ context.Context, domain string) error {
	f.domains = append(f.domains, domain)
	return nil
}

func TestMarkBounced(t *testing.T) {
	db := newTestDB(t)
	leads := []models.Lead{
		{UserID: 1, FirstName: "Ada", LastName: "Lovelace", Domain: "mit.edu", Email: "ada.lovelace@mit.edu", Status: models.LeadVerified},
		{UserID: 2, FirstName: "Ada", LastName: "Lovelace", Domain: "mit.edu", Email: "ada.lovelace@mit.edu", Status: models.LeadCached},
		{UserID: 1, FirstName: "Grace", LastName: "Hopper", Domain: "yale.edu", Email: "grace@yale.edu", Status: models.LeadScraped},
		{UserID: 1, FirstName: "Alan", LastName: "Turing", Domain: "cam.ac.uk", Email: "alan.turing@cam.ac.uk", Status: models.LeadVerified},
	}
	require.NoError(t, db.Create(&leads).Error)

	forgetter := &recordingForgetter{}
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	bw := NewBounceWorker(db, forgetter, config.IMAPConfig{}, testLogger())
	bw.Now = func() time.Time { return now }

	n, err := bw.MarkBounced(context.Background(), []string{"ada.lovelace@mit.edu", "grace@yale.edu", "unknown@mit.edu"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	// Scraped addresses were published, so the pattern is not to blame.
	assert.Equal(t, []string{"mit.edu"}, forgetter.domains)

	var bounced []models.Lead
	require.NoError(t, db.Where("status = ?", models.LeadBounced).Find(&bounced).Error)
	require.Len(t, bounced, 3)
	for _, lead := range bounced {
		require.NotNil(t, lead.BouncedAt)
		assert.True(t, lead.BouncedAt.Equal(now))
	}

	n, err = bw.MarkBounced(context.Background(), []string{"ada.lovelace@mit.edu"})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = bw.MarkBounced(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
