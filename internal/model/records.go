package model

import (
	"time"

	"github.com/google/uuid"
)

// Task is a unit of work, optionally shared into a space and carrying
// before/after photo references.
type Task struct {
	ID              uuid.UUID
	Title           string
	Description     string
	Status          string // "todo", "doing" or "done"
	Category        string
	IsUrgent        bool
	Order           int
	IsShared        bool
	CreatedAt       *time.Time
	StartedAt       *time.Time
	DueDate         *time.Time
	CompletedAt     *time.Time
	SharedSpaceID   *uuid.UUID
	CreatedByUserID *string
	BeforeImagePath *string
	AfterImagePath  *string
}

func (t *Task) Kind() Kind          { return KindTask }
func (t *Task) RecordID() uuid.UUID { return t.ID }

func (t *Task) Clone() Record {
	c := *t
	c.CreatedAt = cloneTime(t.CreatedAt)
	c.StartedAt = cloneTime(t.StartedAt)
	c.DueDate = cloneTime(t.DueDate)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.SharedSpaceID = cloneUUID(t.SharedSpaceID)
	c.CreatedByUserID = cloneString(t.CreatedByUserID)
	c.BeforeImagePath = cloneString(t.BeforeImagePath)
	c.AfterImagePath = cloneString(t.AfterImagePath)
	return &c
}

// FocusSession records a timed focus period, optionally tied to a task.
// Durations are in seconds.
type FocusSession struct {
	ID              uuid.UUID
	TaskID          *uuid.UUID
	TaskTitle       string
	Duration        float64
	PlannedDuration float64
	CompletedEarly  bool
	SoundType       string
	StartedAt       *time.Time
}

func (f *FocusSession) Kind() Kind          { return KindFocusSession }
func (f *FocusSession) RecordID() uuid.UUID { return f.ID }

func (f *FocusSession) Clone() Record {
	c := *f
	c.TaskID = cloneUUID(f.TaskID)
	c.StartedAt = cloneTime(f.StartedAt)
	return &c
}

// SharedSpace is a group workspace that tasks can be shared into.
// IsActive is a soft-delete flag owned by upstream business logic.
type SharedSpace struct {
	ID                uuid.UUID
	Name              string
	Emoji             string
	Color             string
	IsActive          bool
	ShareCode         string
	CreatedAt         *time.Time
	CreatedByUserID   *string
	CreatedByUserName *string
}

func (s *SharedSpace) Kind() Kind          { return KindSharedSpace }
func (s *SharedSpace) RecordID() uuid.UUID { return s.ID }

func (s *SharedSpace) Clone() Record {
	c := *s
	c.CreatedAt = cloneTime(s.CreatedAt)
	c.CreatedByUserID = cloneString(s.CreatedByUserID)
	c.CreatedByUserName = cloneString(s.CreatedByUserName)
	return &c
}

// SpaceMember is a user's membership in a shared space.
type SpaceMember struct {
	ID       uuid.UUID
	SpaceID  *uuid.UUID
	UserID   string
	UserName string
	Role     string // "owner", "admin" or "member"
	IsActive bool
	JoinedAt *time.Time
}

func (m *SpaceMember) Kind() Kind          { return KindSpaceMember }
func (m *SpaceMember) RecordID() uuid.UUID { return m.ID }

func (m *SpaceMember) Clone() Record {
	c := *m
	c.SpaceID = cloneUUID(m.SpaceID)
	c.JoinedAt = cloneTime(m.JoinedAt)
	return &c
}

// ShareInvitation is a pending or resolved invitation into a shared space.
type ShareInvitation struct {
	ID                uuid.UUID
	SpaceID           *uuid.UUID
	SpaceName         string
	InvitedByUserID   string
	InvitedByUserName string
	InvitedUserID     *string
	InvitedUserEmail  *string
	Status            string // "pending", "accepted", "declined" or "expired"
	CreatedAt         *time.Time
	ExpiresAt         *time.Time
}

func (i *ShareInvitation) Kind() Kind          { return KindShareInvitation }
func (i *ShareInvitation) RecordID() uuid.UUID { return i.ID }

func (i *ShareInvitation) Clone() Record {
	c := *i
	c.SpaceID = cloneUUID(i.SpaceID)
	c.InvitedUserID = cloneString(i.InvitedUserID)
	c.InvitedUserEmail = cloneString(i.InvitedUserEmail)
	c.CreatedAt = cloneTime(i.CreatedAt)
	c.ExpiresAt = cloneTime(i.ExpiresAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUUID(u *uuid.UUID) *uuid.UUID {
	if u == nil {
		return nil
	}
	v := *u
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Compile-time checks that every record type implements Record.
var (
	_ Record = (*Task)(nil)
	_ Record = (*FocusSession)(nil)
	_ Record = (*SharedSpace)(nil)
	_ Record = (*SpaceMember)(nil)
	_ Record = (*ShareInvitation)(nil)
)
