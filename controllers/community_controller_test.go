package controller_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	controller "scifounders/controllers"
	"scifounders/models"
)

func createPost(t *testing.T, env *testEnv, token, title string) uint {
	t.Helper()
	resp := env.request(fiber.MethodPost, "/api/v1/community/posts", token, fiber.Map{
		"title": title,
		"body":  "Has anyone negotiated a license with their TTO?",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	return uint(dataOf(t, resp)["ID"].(float64))
}

func TestCommunityPostsAndComments(t *testing.T) {
	env := newTestEnv(t)
	author, authorToken := env.member("grace@yale.edu", models.ApprovalApproved, false)
	_, otherToken := env.member("ada@mit.edu", models.ApprovalApproved, false)
	_, adminToken := env.member("admin@scifounders.org", models.ApprovalApproved, true)

	events, unsubscribe := env.hub.Subscribe()
	defer unsubscribe()

	resp := env.request(fiber.MethodPost, "/api/v1/community/posts", authorToken, fiber.Map{"title": "  ", "body": "x"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	first := createPost(t, env, authorToken, "Licensing terms")
	select {
	case event := <-events:
		assert.Equal(t, controller.EventPostCreated, event.Type)
		post := event.Data.(models.Post)
		assert.Equal(t, first, post.ID)
		require.NotNil(t, post.Author)
		assert.Empty(t, post.Author.Email)
	case <-time.After(time.Second):
		t.Fatal("no post.created event")
	}
	second := createPost(t, env, otherToken, "Finding a CEO")
	<-events

	resp = env.request(fiber.MethodPost, fmt.Sprintf("/api/v1/community/posts/%d/like", first), otherToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	like := dataOf(t, resp)
	assert.Equal(t, true, like["liked"])
	assert.Equal(t, float64(1), like["like_count"])

	resp = env.request(fiber.MethodGet, fmt.Sprintf("/api/v1/community/posts/%d", first), otherToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, dataOf(t, resp)["liked_by_me"])

	resp = env.request(fiber.MethodPost, fmt.Sprintf("/api/v1/community/posts/%d/like", first), otherToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	like = dataOf(t, resp)
	assert.Equal(t, false, like["liked"])
	assert.Equal(t, float64(0), like["like_count"])

	// Pinned posts come first even when older.
	resp = env.request(fiber.MethodPost, fmt.Sprintf("/api/v1/community/posts/%d/pin", first), authorToken, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	resp = env.request(fiber.MethodPost, fmt.Sprintf("/api/v1/community/posts/%d/pin", first), adminToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, dataOf(t, resp)["pinned"])

	resp = env.request(fiber.MethodGet, "/api/v1/community/posts", otherToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	list := decode(t, resp)
	assert.Equal(t, float64(2), list["total"])
	posts := list["data"].([]interface{})
	require.Len(t, posts, 2)
	assert.Equal(t, float64(first), posts[0].(map[string]interface{})["ID"])
	assert.Equal(t, float64(second), posts[1].(map[string]interface{})["ID"])

	resp = env.request(fiber.MethodGet, "/api/v1/community/posts?q=ceo", otherToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, decode(t, resp)["data"], 1)

	commentPath := fmt.Sprintf("/api/v1/community/posts/%d/comments", first)
	resp = env.request(fiber.MethodPost, commentPath, otherToken, fiber.Map{"body": "We did, happy to share."})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	commentID := uint(dataOf(t, resp)["ID"].(float64))
	event := <-events
	assert.Equal(t, controller.EventCommentCreated, event.Type)

	missing := uint(9999)
	resp = env.request(fiber.MethodPost, commentPath, otherToken, fiber.Map{"body": "reply", "parent_id": missing})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = env.request(fiber.MethodPost, fmt.Sprintf("/api/v1/community/posts/%d/lock", first), adminToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, dataOf(t, resp)["locked"])

	resp = env.request(fiber.MethodPost, commentPath, otherToken, fiber.Map{"body": "One more thing"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	resp = env.request(fiber.MethodPost, commentPath, adminToken, fiber.Map{"body": "Locking this thread.", "parent_id": commentID})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	<-events

	resp = env.request(fiber.MethodGet, fmt.Sprintf("/api/v1/community/posts/%d", first), authorToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	post := dataOf(t, resp)
	assert.Equal(t, float64(2), post["comment_count"])
	assert.Len(t, post["comments"], 2)

	// Only the comment author or an admin may delete a comment.
	resp = env.request(fiber.MethodDelete, fmt.Sprintf("/api/v1/community/comments/%d", commentID), authorToken, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	resp = env.request(fiber.MethodDelete, fmt.Sprintf("/api/v1/community/comments/%d", commentID), otherToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var stored models.Post
	require.NoError(t, env.db.First(&stored, first).Error)
	assert.Equal(t, 1, stored.CommentCount)
	assert.Equal(t, author.ID, stored.UserID)

	resp = env.request(fiber.MethodPut, fmt.Sprintf("/api/v1/community/posts/%d", first), otherToken, fiber.Map{"title": "Mine now", "body": "x"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	resp = env.request(fiber.MethodDelete, fmt.Sprintf("/api/v1/community/posts/%d", first), otherToken, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	resp = env.request(fiber.MethodDelete, fmt.Sprintf("/api/v1/community/posts/%d", first), authorToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp = env.request(fiber.MethodGet, fmt.Sprintf("/api/v1/community/posts/%d", first), authorToken, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = env.request(fiber.MethodDelete, fmt.Sprintf("/api/v1/community/posts/%d", second), adminToken, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestCommunityRequiresApproval(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.member("pending@ucla.edu", models.ApprovalPending, false)

	resp := env.request(fiber.MethodGet, "/api/v1/community/posts", token, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestCommunityHub(t *testing.T) {
	hub := controller.NewCommunityHub(logrus.WithField("component", "test"))

	a, unsubscribeA := hub.Subscribe()
	b, unsubscribeB := hub.Subscribe()
	assert.Equal(t, 2, hub.Subscribers())

	hub.Broadcast(controller.EventPostCreated, "hello")
	assert.Equal(t, "hello", (<-a).Data)
	assert.Equal(t, "hello", (<-b).Data)

	unsubscribeB()
	unsubscribeB()
	assert.Equal(t, 1, hub.Subscribers())
	_, open := <-b
	assert.False(t, open)

	// A full buffer drops events instead of blocking the broadcaster.
	for i := 0; i < 40; i++ {
		hub.Broadcast(controller.EventCommentCreated, i)
	}
	assert.Len(t, a, cap(a))

	unsubscribeA()
	assert.Equal(t, 0, hub.Subscribers())
}
