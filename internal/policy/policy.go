// Package policy holds the authorization predicates evaluated before every project
// mutation. Predicates are pure: they look only at the caller, the project and the
// caller's membership, all of which the caller loads beforehand.
package policy

import (
	"fmt"

	"github.com/zeh237/taskly/internal/models"
	apperrors "github.com/zeh237/taskly/pkg/errors"
	"github.com/zeh237/taskly/pkg/metrics"
)

// Action names a gated operation.
type Action string

const (
	ViewProject     Action = "project.view"
	UpdateProject   Action = "project.update"
	ListMembers     Action = "member.list"
	AddMember       Action = "member.add"
	RemoveMember    Action = "member.remove"
	Invite          Action = "invitation.create"
	ListInvitations Action = "invitation.list"
	CreateTask      Action = "task.create"
	ViewTask        Action = "task.view"
	UpdateTask      Action = "task.update"
	DeleteTask      Action = "task.delete"
)

// Context is what every predicate needs to know about the caller.
type Context struct {
	ActorID    uint
	Project    *models.Project
	Membership *models.Membership
}

// IsMember reports whether the caller holds a membership on the project.
func (c Context) IsMember() bool {
	return c.ActorID != 0 &&
		c.Project != nil &&
		c.Membership != nil &&
		c.Membership.AccountID == c.ActorID &&
		c.Membership.ProjectID == c.Project.ID
}

// IsCreator reports whether the caller created the project.
func (c Context) IsCreator() bool {
	return c.Project.IsCreator(c.ActorID)
}

// CanViewProject requires a membership.
func CanViewProject(c Context) bool {
	return c.IsMember()
}

// CanUpdateProject is reserved for the creator.
func CanUpdateProject(c Context) bool {
	return c.IsCreator()
}

// CanInvite requires both a membership and the creator role.
func CanInvite(c Context) bool {
	return c.IsMember() && c.IsCreator()
}

// CanAddMember is open to any existing member.
func CanAddMember(c Context) bool {
	return c.IsMember()
}

// CanRemoveMember lets the creator remove anyone but themselves.
func CanRemoveMember(c Context, target *models.Membership) bool {
	if target == nil || !c.IsCreator() {
		return false
	}
	return target.AccountID != c.ActorID
}

// CanCreateTask is reserved for the creator.
func CanCreateTask(c Context) bool {
	return c.IsCreator()
}

// CanDeleteTask is reserved for the creator.
func CanDeleteTask(c Context) bool {
	return c.IsCreator()
}

// TaskEdit describes how much of a task the caller may change.
type TaskEdit int

const (
	TaskEditNone TaskEdit = iota
	TaskEditStatus
	TaskEditAll
)

// TaskEditScope lets the creator edit everything and an assigned member move the status.
func TaskEditScope(c Context, task *models.Task) TaskEdit {
	switch {
	case c.IsCreator():
		return TaskEditAll
	case c.IsMember() && task != nil && task.HasAssignee(c.ActorID):
		return TaskEditStatus
	default:
		return TaskEditNone
	}
}

// NonMembers returns the assignee ids that are not in memberIDs, preserving order.
func NonMembers(memberIDs map[uint]struct{}, assigneeIDs []uint) []uint {
	var missing []uint
	for _, id := range assigneeIDs {
		if _, ok := memberIDs[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// Authorize evaluates the predicate for action and converts a denial into a Forbidden
// error. target is consulted only for RemoveMember.
func Authorize(action Action, c Context, target *models.Membership) error {
	var allowed bool
	switch action {
	case ViewProject, ListMembers, ListInvitations, ViewTask:
		allowed = CanViewProject(c)
	case UpdateProject:
		allowed = CanUpdateProject(c)
	case Invite:
		allowed = CanInvite(c)
	case AddMember:
		allowed = CanAddMember(c)
	case RemoveMember:
		allowed = CanRemoveMember(c, target)
	case CreateTask:
		allowed = CanCreateTask(c)
	case DeleteTask:
		allowed = CanDeleteTask(c)
	default:
		return fmt.Errorf("policy: unknown action %q", action)
	}

	record(action, allowed)
	if allowed {
		return nil
	}
	return apperrors.NewForbidden(denialMessage(action, c, target))
}

func record(action Action, allowed bool) {
	result := "deny"
	if allowed {
		result = "allow"
	}
	metrics.PolicyDecisions.WithLabelValues(string(action), result).Inc()
}

func denialMessage(action Action, c Context, target *models.Membership) string {
	switch action {
	case ViewProject, ListMembers, ListInvitations, ViewTask:
		return "You are not a member of this project"
	case AddMember:
		return "Only project members can add members"
	case RemoveMember:
		if target != nil && c.IsCreator() {
			return "You cannot remove yourself from the project"
		}
		return "Only the project creator can remove members"
	case Invite:
		return "Only the project creator can invite members"
	case CreateTask:
		return "Only the project creator can create tasks"
	case DeleteTask:
		return "Only the project creator can delete tasks"
	default:
		return "Only the project creator can modify this project"
	}
}
