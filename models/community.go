package models

import "gorm.io/gorm"

// Post is a community discussion thread
type Post struct {
	gorm.Model
	UserID       uint   `gorm:"not null;index" json:"user_id"`
	Title        string `gorm:"not null" json:"title"`
	Body         string `gorm:"type:text;not null" json:"body"`
	Category     string `gorm:"index" json:"category"`
	Pinned       bool   `gorm:"default:false;index" json:"pinned"`
	Locked       bool   `gorm:"default:false" json:"locked"`
	CommentCount int    `gorm:"default:0" json:"comment_count"`
	LikeCount    int    `gorm:"default:0" json:"like_count"`

	Author    *User     `gorm:"foreignKey:UserID" json:"author,omitempty"`
	Comments  []Comment `gorm:"foreignKey:PostID" json:"comments,omitempty"`
	LikedByMe bool      `gorm:"-" json:"liked_by_me"`
}

// Comment is a reply on a post, optionally nested under another comment
type Comment struct {
	gorm.Model
	PostID   uint   `gorm:"not null;index" json:"post_id"`
	UserID   uint   `gorm:"not null;index" json:"user_id"`
	ParentID *uint  `gorm:"index" json:"parent_id,omitempty"`
	Body     string `gorm:"type:text;not null" json:"body"`

	Author *User `gorm:"foreignKey:UserID" json:"author,omitempty"`
}

// PostLike records one member liking one post
type PostLike struct {
	gorm.Model
	PostID uint `gorm:"not null;uniqueIndex:idx_like_post_user" json:"post_id"`
	UserID uint `gorm:"not null;uniqueIndex:idx_like_post_user" json:"user_id"`
}
