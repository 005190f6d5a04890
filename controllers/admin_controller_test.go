package controller_test

import (
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scifounders/models"
)

func TestRejectUserRevokesAccess(t *testing.T) {
	env := newTestEnv(t)
	admin, adminToken := env.member("admin@scifounders.org", models.ApprovalApproved, true)
	member, token := env.member("grace@yale.edu", models.ApprovalApproved, false)

	resp := env.request(fiber.MethodGet, "/api/v1/videos", token, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.request(fiber.MethodPost, fmt.Sprintf("/api/v1/admin/users/%d/reject", admin.ID), adminToken, fiber.Map{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = env.request(fiber.MethodPost, fmt.Sprintf("/api/v1/admin/users/%d/reject", member.ID), adminToken, fiber.Map{
		"reason": "Not a researcher",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data := dataOf(t, resp)
	assert.Equal(t, models.ApprovalRejected, data["approval_status"])
	assert.Equal(t, "Not a researcher", data["rejection_reason"])
	assert.Equal(t, []string{"grace@yale.edu"}, env.mail.rejected)
	assert.Equal(t, []string{"Not a researcher"}, env.mail.reasons)

	// The token version moved on, so the old token is dead.
	resp = env.request(fiber.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	var stored models.User
	require.NoError(t, env.db.First(&stored, member.ID).Error)
	assert.Equal(t, 2, stored.TokenVersion)
	assert.Equal(t, models.ApprovalRejected, stored.ApprovalStatus)
}

func TestAdminUserManagement(t *testing.T) {
	env := newTestEnv(t)
	admin, adminToken := env.member("admin@scifounders.org", models.ApprovalApproved, true)
	env.member("pending1@mit.edu", models.ApprovalPending, false)
	pending, _ := env.member("pending2@stanford.edu", models.ApprovalPending, false)
	env.member("member@yale.edu", models.ApprovalApproved, false)

	resp := env.request(fiber.MethodGet, "/api/v1/admin/users?status=pending", adminToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, float64(2), body["total"])

	resp = env.request(fiber.MethodGet, "/api/v1/admin/users?q=stanford", adminToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decode(t, resp)["total"])

	resp = env.request(fiber.MethodGet, "/api/v1/admin/users?status=banned", adminToken, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = env.request(fiber.MethodPost, "/api/v1/admin/users/9999/approve", adminToken, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// Granting admin also approves.
	resp = env.request(fiber.MethodPost, fmt.Sprintf("/api/v1/admin/users/%d/admin", pending.ID), adminToken, fiber.Map{"is_admin": true})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data := dataOf(t, resp)
	assert.Equal(t, true, data["is_admin"])
	assert.Equal(t, models.ApprovalApproved, data["approval_status"])

	resp = env.request(fiber.MethodPost, fmt.Sprintf("/api/v1/admin/users/%d/admin", admin.ID), adminToken, fiber.Map{"is_admin": false})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestDashboardStats(t *testing.T) {
	env := newTestEnv(t)
	admin, adminToken := env.member("admin@scifounders.org", models.ApprovalApproved, true)
	_, memberToken := env.member("pending@mit.edu", models.ApprovalPending, false)

	require.NoError(t, env.db.Create(&models.SprintTask{UserID: admin.ID, Title: "a", Status: models.TaskDone}).Error)
	require.NoError(t, env.db.Create(&models.SprintTask{UserID: admin.ID, Title: "b", Status: models.TaskTodo}).Error)
	require.NoError(t, env.db.Create(&models.Lead{UserID: admin.ID, FirstName: "a", LastName: "b", Domain: "mit.edu", Status: models.LeadVerified}).Error)
	require.NoError(t, env.db.Create(&models.DomainPattern{Domain: "mit.edu", Pattern: "first.last", HitCount: 3}).Error)

	resp := env.request(fiber.MethodGet, "/api/v1/admin/stats", memberToken, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = env.request(fiber.MethodGet, "/api/v1/admin/stats", adminToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data := dataOf(t, resp)

	users := data["users"].(map[string]interface{})
	assert.Equal(t, float64(2), users["total"])
	assert.Equal(t, float64(1), users["by_status"].(map[string]interface{})[models.ApprovalPending])

	sprint := data["sprint"].(map[string]interface{})
	assert.Equal(t, float64(2), sprint["tasks_total"])
	assert.Equal(t, float64(50), sprint["task_completion_rate"])

	finder := data["finder"].(map[string]interface{})
	assert.Equal(t, float64(1), finder["leads"])
	assert.Equal(t, float64(1), finder["cached_domains"])
	assert.Equal(t, float64(3), finder["pattern_hits"])
}
