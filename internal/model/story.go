package model

import (
	"time"
)

// StoryType is the kind of content a story carries.
type StoryType string

const (
	StoryImage StoryType = "image"
	StoryVideo StoryType = "video"
	StoryText  StoryType = "text"
)

// Valid reports whether t is a known story type.
func (t StoryType) Valid() bool {
	switch t {
	case StoryImage, StoryVideo, StoryText:
		return true
	}
	return false
}

// StoryTTL is how long a story stays reachable after creation.
const StoryTTL = 24 * time.Hour

// Story is a time-limited post visible to the author's direct-conversation peers.
type Story struct {
	ID        string         `json:"id" bson:"_id"`
	UserID    string         `json:"user_id" bson:"user_id"`
	Username  string         `json:"username" bson:"username"`
	Type      StoryType      `json:"story_type" bson:"story_type"`
	Content   map[string]any `json:"story_content" bson:"story_content"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
	ExpiresAt time.Time      `json:"expiry_timestamp" bson:"expires_at"`
	Views     []StoryView    `json:"views" bson:"views"`
	Likes     []StoryLike    `json:"likes" bson:"likes"`
	Comments  []StoryComment `json:"comments" bson:"comments"`
}

// ExpiredAt reports whether s is no longer reachable at t.
func (s *Story) ExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// Clone returns a copy of s with its own interaction slices.
func (s *Story) Clone() *Story {
	out := *s
	out.Views = append([]StoryView(nil), s.Views...)
	out.Likes = append([]StoryLike(nil), s.Likes...)
	out.Comments = append([]StoryComment(nil), s.Comments...)
	if s.Content != nil {
		out.Content = make(map[string]any, len(s.Content))
		for k, v := range s.Content {
			out.Content[k] = v
		}
	}
	return &out
}

type StoryView struct {
	UserID   string    `json:"user_id" bson:"user_id"`
	ViewedAt time.Time `json:"viewed_at" bson:"viewed_at"`
}

type StoryLike struct {
	UserID  string    `json:"user_id" bson:"user_id"`
	LikedAt time.Time `json:"liked_at" bson:"liked_at"`
}

type StoryComment struct {
	ID        string    `json:"id" bson:"id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	Text      string    `json:"text" bson:"text"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// AddStoryRequest is the request to post a story. Media is either a data URI
// or an already-hosted URL; text stories omit it.
type AddStoryRequest struct {
	Media   string `json:"media,omitempty"`
	Text    string `json:"text,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// CommentRequest is the request to comment on a story.
type CommentRequest struct {
	Text string `json:"text"`
}

// StoryDetail is a story with its author and the ids of the author's other active stories.
type StoryDetail struct {
	Story  *Story   `json:"story"`
	Author User     `json:"author"`
	More   []string `json:"more"`
}
