// Package membership holds the authorization and invariant rules over a
// conversation's participants and admins. Everything here is pure: callers
// load the conversation, ask the guard, then persist the result.
package membership

import (
	"fmt"

	"github.com/talkora/chat-platform/internal/apperr"
	"github.com/talkora/chat-platform/internal/model"
)

// LeavePolicy decides what happens when a group admin leaves.
type LeavePolicy string

const (
	// AnyAdminDeletes deletes the group whenever an admin leaves.
	AnyAdminDeletes LeavePolicy = "any-admin"
	// LastAdminDeletes deletes the group only when the last admin leaves
	// while others remain; other admins simply leave.
	LastAdminDeletes LeavePolicy = "last-admin"
)

// ParseLeavePolicy parses a policy name, defaulting to AnyAdminDeletes.
func ParseLeavePolicy(s string) LeavePolicy {
	if LeavePolicy(s) == LastAdminDeletes {
		return LastAdminDeletes
	}
	return AnyAdminDeletes
}

// CanCreateDirect reports whether a and b may share a direct conversation.
func CanCreateDirect(a, b string) error {
	if a == "" || b == "" {
		return apperr.InvalidArgument("both participants are required")
	}
	if a == b {
		return apperr.InvalidArgument("cannot start a conversation with yourself")
	}
	return nil
}

// IsAdmin reports whether subjectID administers c.
func IsAdmin(c *model.Conversation, subjectID string) bool {
	if !c.IsGroup() {
		return false
	}
	for _, id := range c.Group.Admins {
		if id == subjectID {
			return true
		}
	}
	return false
}

// IsParticipant reports whether subjectID participates in c.
func IsParticipant(c *model.Conversation, subjectID string) bool {
	return c.HasParticipant(subjectID)
}

// CanMutateGroup requires c to be a group administered by subjectID.
func CanMutateGroup(c *model.Conversation, subjectID string) error {
	if !c.IsGroup() {
		return apperr.Forbidden("conversation is not a group")
	}
	if !IsAdmin(c, subjectID) {
		return apperr.Forbidden("you are not an admin of this group")
	}
	return nil
}

// ApplyAddMembers returns the participant set with newIDs appended. The caller
// must already be authorized by CanMutateGroup.
func ApplyAddMembers(c *model.Conversation, newIDs []string) ([]string, error) {
	ids := Dedupe(newIDs)
	if len(ids) == 0 {
		return nil, apperr.InvalidArgument("no members to add")
	}
	for _, id := range ids {
		if id == "" {
			return nil, apperr.InvalidArgument("member id cannot be empty")
		}
		if c.HasParticipant(id) {
			return nil, apperr.InvalidArgument("user %s is already a member", id)
		}
	}
	out := make([]string, 0, len(c.Participants)+len(ids))
	out = append(out, c.Participants...)
	return append(out, ids...), nil
}

// ApplyRemoveMembers returns the participant set without removeIDs. Admins
// cannot be removed this way.
func ApplyRemoveMembers(c *model.Conversation, removeIDs []string) ([]string, error) {
	if len(removeIDs) == 0 {
		return nil, apperr.InvalidArgument("no members to remove")
	}
	remove := make(map[string]struct{}, len(removeIDs))
	for _, id := range removeIDs {
		if IsAdmin(c, id) {
			return nil, apperr.Forbidden("cannot remove a group admin")
		}
		remove[id] = struct{}{}
	}
	out := make([]string, 0, len(c.Participants))
	for _, id := range c.Participants {
		if _, ok := remove[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// LeaveOutcome is the result of ApplyLeave.
type LeaveOutcome struct {
	// Delete is set when the whole conversation must be deleted.
	Delete bool
	// Participants and Admins are the remaining sets when Delete is false.
	Participants []string
	Admins       []string
}

// ApplyLeave computes what subjectID leaving c does under policy.
func ApplyLeave(c *model.Conversation, subjectID string, policy LeavePolicy) (LeaveOutcome, error) {
	if !c.HasParticipant(subjectID) {
		return LeaveOutcome{}, apperr.Forbidden("you are not a participant of this conversation")
	}

	remaining := without(c.Participants, subjectID)
	if !c.IsGroup() {
		return LeaveOutcome{Participants: remaining}, nil
	}

	admins := c.Group.Admins
	if IsAdmin(c, subjectID) {
		switch policy {
		case LastAdminDeletes:
			admins = without(admins, subjectID)
			if len(admins) == 0 && len(remaining) > 0 {
				return LeaveOutcome{Delete: true}, nil
			}
		default:
			return LeaveOutcome{Delete: true}, nil
		}
	}
	return LeaveOutcome{Participants: remaining, Admins: admins}, nil
}

// CheckAdminInvariant verifies a group's admins are non-empty and a subset of
// its participants.
func CheckAdminInvariant(c *model.Conversation) error {
	if !c.IsGroup() {
		return nil
	}
	if len(c.Group.Admins) == 0 {
		return fmt.Errorf("group %s has no admins", c.ID)
	}
	for _, id := range c.Group.Admins {
		if !c.HasParticipant(id) {
			return fmt.Errorf("group %s admin %s is not a participant", c.ID, id)
		}
	}
	return nil
}

// Dedupe removes duplicate ids, keeping first occurrences in order.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
