// Package model defines data structures for the chat platform.
package model

import (
	"sort"
	"strconv"
	"time"
)

// ConversationKind tags a conversation as direct or group.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// GroupInfo holds the attributes only a group conversation has.
type GroupInfo struct {
	Name        string   `json:"group_name" bson:"name"`
	Avatar      string   `json:"group_avatar,omitempty" bson:"avatar,omitempty"`
	Description string   `json:"group_description,omitempty" bson:"description,omitempty"`
	Admins      []string `json:"group_admins" bson:"admins"`
}

// Conversation is either a direct conversation between two users (Group is
// nil, PairKey set) or a group conversation (Group set, PairKey empty).
type Conversation struct {
	ID            string           `json:"id" bson:"_id"`
	Kind          ConversationKind `json:"kind" bson:"kind"`
	Participants  []string         `json:"participants" bson:"participants"`
	Group         *GroupInfo       `json:"group,omitempty" bson:"group,omitempty"`
	PairKey       string           `json:"-" bson:"pair_key,omitempty"`
	LastMessageID string           `json:"last_message_id,omitempty" bson:"last_message_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" bson:"updated_at"`
}

// IsGroup reports whether c is a group conversation.
func (c *Conversation) IsGroup() bool {
	return c.Kind == KindGroup && c.Group != nil
}

// HasParticipant reports whether id is a participant of c.
func (c *Conversation) HasParticipant(id string) bool {
	return contains(c.Participants, id)
}

// Clone returns a deep copy of c.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	if c.Group != nil {
		g := *c.Group
		g.Admins = append([]string(nil), c.Group.Admins...)
		out.Group = &g
	}
	return &out
}

// NewDirectConversation builds a direct conversation between a and b.
func NewDirectConversation(id, a, b string, now time.Time) *Conversation {
	return &Conversation{
		ID:           id,
		Kind:         KindDirect,
		Participants: []string{a, b},
		PairKey:      PairKey(a, b),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewGroupConversation builds a group conversation administered by admin.
func NewGroupConversation(id, admin, name string, participants []string, now time.Time) *Conversation {
	return &Conversation{
		ID:           id,
		Kind:         KindGroup,
		Participants: participants,
		Group: &GroupInfo{
			Name:   name,
			Admins: []string{admin},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PairKey returns the canonical key of an unordered pair of users. The
// first id is length-prefixed so ids containing the separator cannot
// collide.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strconv.Itoa(len(ids[0])) + ":" + ids[0] + "|" + ids[1]
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// ConversationDetail is a conversation with its messages, as returned to clients.
type ConversationDetail struct {
	Conversation *Conversation       `json:"conversation"`
	Messages     []MessageWithSender `json:"messages"`
}

// ConversationSummary is an entry of a user's conversation list.
type ConversationSummary struct {
	Conversation *Conversation `json:"conversation"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	Peers        []User        `json:"peers,omitempty"`
}

// Member is a participant profile in a group member listing.
type Member struct {
	User
	IsAdmin bool `json:"is_admin"`
}

// StartDirectRequest is the request to start or fetch a direct conversation.
type StartDirectRequest struct {
	PeerID string `json:"peer_id"`
	Text   string `json:"text"`
}

// StartDirectResponse reports the conversation and whether it was created.
type StartDirectResponse struct {
	Conversation *Conversation `json:"conversation"`
	Message      *Message      `json:"message,omitempty"`
	Created      bool          `json:"created"`
}

// CreateGroupRequest is the request to create a group conversation.
type CreateGroupRequest struct {
	GroupName    string   `json:"group_name"`
	Participants []string `json:"participants"`
}

// MembersRequest carries user ids to add to or remove from a group.
type MembersRequest struct {
	UserIDs []string `json:"user_ids"`
}

// UpdateGroupRequest is the request to update group details. Nil fields are left unchanged.
type UpdateGroupRequest struct {
	GroupName   *string `json:"group_name,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
	Description *string `json:"description,omitempty"`
}

// LeaveResponse reports what leaving a conversation did.
type LeaveResponse struct {
	Deleted bool `json:"deleted"`
}
