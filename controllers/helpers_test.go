package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"scifounders/config"
	controller "scifounders/controllers"
	"scifounders/emailfinder"
	"scifounders/models"
	"scifounders/routes"
	"scifounders/utils"
)

type fakeFinder struct {
	mu        sync.Mutex
	result    *emailfinder.Result
	err       error
	requests  []emailfinder.Request
	forgotten []string
}

func (f *fakeFinder) Find(_ context.Context, req emailfinder.Request) (*emailfinder.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	return &res, nil
}

func (f *fakeFinder) Forget(_ context.Context, domain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, domain)
	return nil
}

type fakeQueue struct {
	err  error
	jobs map[uint][]emailfinder.Request
}

func (q *fakeQueue) Enqueue(jobID, _ uint, reqs []emailfinder.Request) error {
	if q.err != nil {
		return q.err
	}
	q.jobs[jobID] = reqs
	return nil
}

type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, email string) *utils.VerificationResult {
	return &utils.VerificationResult{Email: email, Status: utils.VerifyValid, IsReachable: true}
}

// recordingNotifier keeps the mail that would have been sent.
type recordingNotifier struct {
	mu        sync.Mutex
	otps      map[string]string
	approved  []string
	rejected  []string
	reasons   []string
	resetOTPs map[string]string
}

func (n *recordingNotifier) SendOTPEmail(to, otp string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.otps[to] = otp
	return nil
}

func (n *recordingNotifier) SendPasswordResetOTPEmail(to, otp string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetOTPs[to] = otp
	return nil
}

func (n *recordingNotifier) SendApprovalEmail(to, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approved = append(n.approved, to)
	return nil
}

func (n *recordingNotifier) SendRejectionEmail(to, _, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected = append(n.rejected, to)
	n.reasons = append(n.reasons, reason)
	return nil
}

type testEnv struct {
	t      *testing.T
	db     *gorm.DB
	app    *fiber.App
	finder *fakeFinder
	queue  *fakeQueue
	hub    *controller.CommunityHub
	mail   *recordingNotifier
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)

	prevDB, prevCfg, prevMail := config.DB, config.AppConfig, utils.Notifications
	config.DB = db
	config.AppConfig = config.Config{
		Environment:          "test",
		JWTSecret:            "test-secret",
		AdminEmails:          []string{"admin@scifounders.org"},
		MembershipPriceCents: 19900,
	}
	mail := &recordingNotifier{otps: map[string]string{}, resetOTPs: map[string]string{}}
	utils.Notifications = mail
	t.Cleanup(func() {
		config.DB, config.AppConfig, utils.Notifications = prevDB, prevCfg, prevMail
	})

	env := &testEnv{
		t:      t,
		db:     db,
		app:    fiber.New(fiber.Config{ErrorHandler: utils.FiberErrorHandler}),
		finder: &fakeFinder{},
		queue:  &fakeQueue{jobs: map[uint][]emailfinder.Request{}},
		hub:    controller.NewCommunityHub(logrus.WithField("component", "test")),
		mail:   mail,
	}
	routes.SetupRoutes(env.app, routes.Dependencies{
		DB:           db,
		Finder:       env.finder,
		Queue:        env.queue,
		Verifier:     fakeVerifier{},
		Hub:          env.hub,
		FinderPerMin: 1000,
		AuthPerMin:   1000,
	})
	return env
}

// member creates an active user directly and returns a valid access token.
func (e *testEnv) member(email, status string, admin bool) (*models.User, string) {
	e.t.Helper()
	u := models.User{
		Email:          email,
		Name:           "Member " + email,
		IsActive:       true,
		IsAdmin:        admin,
		ApprovalStatus: status,
		TokenVersion:   1,
	}
	require.NoError(e.t, e.db.Create(&u).Error)
	pair, err := utils.GenerateJWTToken(&u, "")
	require.NoError(e.t, err)
	return &u, pair.AccessToken
}

func (e *testEnv) request(method, path, token string, body interface{}) *http.Response {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(e.t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func dataOf(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := decode(t, resp)
	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %v", body)
	return data
}
