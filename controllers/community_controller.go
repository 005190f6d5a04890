package controller

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"scifounders/middleware"
	"scifounders/models"
	"scifounders/utils"
)

type CommunityController struct {
	DB     *gorm.DB
	Logger *logrus.Entry
	Hub    *CommunityHub
}

func NewCommunityController(db *gorm.DB, logger *logrus.Entry, hub *CommunityHub) *CommunityController {
	return &CommunityController{
		DB:     db,
		Logger: logger,
		Hub:    hub,
	}
}

type PostRequest struct {
	Title    string `json:"title" validate:"required,max=200"`
	Body     string `json:"body" validate:"required,max=20000"`
	Category string `json:"category" validate:"omitempty,max=50"`
}

type CommentRequest struct {
	Body     string `json:"body" validate:"required,max=5000"`
	ParentID *uint  `json:"parent_id"`
}

// publicAuthor keeps member emails out of community payloads.
func publicAuthor(db *gorm.DB) *gorm.DB {
	return db.Select("id", "name", "title", "institution", "research_field", "avatar_url")
}

// ListPosts returns pinned posts first, then the newest.
func (cc *CommunityController) ListPosts(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	page, limit, offset := utils.Pagination(c, 20, 100)

	query := cc.DB.WithContext(c.UserContext()).Model(&models.Post{})
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(body) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count posts", err)
	}

	var posts []models.Post
	if err := query.Preload("Author", publicAuthor).
		Order("pinned DESC, created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&posts).Error; err != nil {
		cc.Logger.WithError(err).Error("Failed to list posts")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get posts", err)
	}

	if err := cc.markLiked(user.ID, posts); err != nil {
		cc.Logger.WithError(err).Warn("Failed to load likes")
	}

	return c.JSON(utils.PaginatedResponse{
		Success: true,
		Data:    posts,
		Total:   total,
		Page:    page,
		Limit:   limit,
	})
}

func (cc *CommunityController) CreatePost(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var req PostRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	post := models.Post{
		UserID:   user.ID,
		Title:    req.Title,
		Body:     req.Body,
		Category: strings.ToLower(strings.TrimSpace(req.Category)),
	}
	if post.Category == "" {
		post.Category = "general"
	}
	if err := cc.DB.Create(&post).Error; err != nil {
		cc.Logger.WithError(err).Error("Failed to create post")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create post", err)
	}
	post.Author = authorOf(user)

	if cc.Hub != nil {
		cc.Hub.Broadcast(EventPostCreated, post)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(post))
}

func (cc *CommunityController) GetPost(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	post, err := cc.findPost(c, true)
	if err != nil {
		return err
	}

	posts := []models.Post{*post}
	if err := cc.markLiked(user.ID, posts); err != nil {
		cc.Logger.WithError(err).Warn("Failed to load likes")
	}
	return c.JSON(utils.SuccessResponse(posts[0]))
}

func (cc *CommunityController) UpdatePost(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var req PostRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	post, err := cc.findPost(c, false)
	if err != nil {
		return err
	}
	if post.UserID != user.ID && !user.IsAdmin {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "You can only edit your own posts", nil)
	}

	updates := map[string]interface{}{
		"title": req.Title,
		"body":  req.Body,
	}
	if category := strings.ToLower(strings.TrimSpace(req.Category)); category != "" {
		updates["category"] = category
	}
	if err := cc.DB.Model(post).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update post", err)
	}

	return c.JSON(utils.SuccessResponse(post))
}

func (cc *CommunityController) DeletePost(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	post, err := cc.findPost(c, false)
	if err != nil {
		return err
	}
	if post.UserID != user.ID && !user.IsAdmin {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "You can only delete your own posts", nil)
	}

	err = cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("post_id = ?", post.ID).Delete(&models.PostLike{}).Error; err != nil {
			return err
		}
		return tx.Delete(post).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete post", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"id": post.ID}))
}

func (cc *CommunityController) CreateComment(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var req CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	req.Body = strings.TrimSpace(req.Body)
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	post, err := cc.findPost(c, false)
	if err != nil {
		return err
	}
	if post.Locked && !user.IsAdmin {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "This post is locked", nil)
	}

	if req.ParentID != nil {
		var parent models.Comment
		if err := cc.DB.Where("id = ? AND post_id = ?", *req.ParentID, post.ID).First(&parent).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Parent comment not found on this post", nil)
		}
	}

	comment := models.Comment{
		PostID:   post.ID,
		UserID:   user.ID,
		ParentID: req.ParentID,
		Body:     req.Body,
	}
	err = cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ?", post.ID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + 1")).Error
	})
	if err != nil {
		cc.Logger.WithError(err).WithField("post_id", post.ID).Error("Failed to create comment")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create comment", err)
	}
	comment.Author = authorOf(user)

	if cc.Hub != nil {
		cc.Hub.Broadcast(EventCommentCreated, comment)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(comment))
}

func (cc *CommunityController) DeleteComment(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid comment ID", nil)
	}

	var comment models.Comment
	if err := cc.DB.First(&comment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Comment not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get comment", err)
	}
	if comment.UserID != user.ID && !user.IsAdmin {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "You can only delete your own comments", nil)
	}

	err = cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).Where("id = ? AND comment_count > 0", comment.PostID).
			UpdateColumn("comment_count", gorm.Expr("comment_count - 1")).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete comment", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"id": comment.ID}))
}

// ToggleLike likes the post, or removes the caller's like.
func (cc *CommunityController) ToggleLike(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	post, err := cc.findPost(c, false)
	if err != nil {
		return err
	}

	liked := false
	err = cc.DB.Transaction(func(tx *gorm.DB) error {
		var like models.PostLike
		err := tx.Where("post_id = ? AND user_id = ?", post.ID, user.ID).First(&like).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			liked = true
			if err := tx.Create(&models.PostLike{PostID: post.ID, UserID: user.ID}).Error; err != nil {
				return err
			}
			return tx.Model(&models.Post{}).Where("id = ?", post.ID).
				UpdateColumn("like_count", gorm.Expr("like_count + 1")).Error
		case err != nil:
			return err
		default:
			// Hard delete so the unique (post, user) index allows liking again.
			if err := tx.Unscoped().Delete(&like).Error; err != nil {
				return err
			}
			return tx.Model(&models.Post{}).Where("id = ? AND like_count > 0", post.ID).
				UpdateColumn("like_count", gorm.Expr("like_count - 1")).Error
		}
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update like", err)
	}

	if err := cc.DB.Select("like_count").First(post, post.ID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get post", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"liked":      liked,
		"like_count": post.LikeCount,
	}))
}

func (cc *CommunityController) TogglePin(c *fiber.Ctx) error {
	return cc.toggleFlag(c, "pinned")
}

func (cc *CommunityController) ToggleLock(c *fiber.Ctx) error {
	return cc.toggleFlag(c, "locked")
}

func (cc *CommunityController) toggleFlag(c *fiber.Ctx, column string) error {
	post, err := cc.findPost(c, false)
	if err != nil {
		return err
	}

	flag := &post.Pinned
	if column == "locked" {
		flag = &post.Locked
	}
	*flag = !*flag
	if err := cc.DB.Model(post).Update(column, *flag).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update post", err)
	}

	return c.JSON(utils.SuccessResponse(post))
}

func (cc *CommunityController) findPost(c *fiber.Ctx, withComments bool) (*models.Post, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid post ID")
	}

	query := cc.DB.WithContext(c.UserContext()).Preload("Author", publicAuthor)
	if withComments {
		query = query.
			Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
			Preload("Comments.Author", publicAuthor)
	}

	var post models.Post
	if err := query.First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "Post not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to get post")
	}
	return &post, nil
}

func (cc *CommunityController) markLiked(userID uint, posts []models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]uint, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}

	var liked []uint
	if err := cc.DB.Model(&models.PostLike{}).
		Where("user_id = ? AND post_id IN ?", userID, ids).
		Pluck("post_id", &liked).Error; err != nil {
		return err
	}
	set := make(map[uint]bool, len(liked))
	for _, id := range liked {
		set[id] = true
	}
	for i := range posts {
		posts[i].LikedByMe = set[posts[i].ID]
	}
	return nil
}

func authorOf(u *models.User) *models.User {
	return &models.User{
		Model:         gorm.Model{ID: u.ID},
		Name:          u.Name,
		Title:         u.Title,
		Institution:   u.Institution,
		ResearchField: u.ResearchField,
		AvatarURL:     u.AvatarURL,
	}
}
