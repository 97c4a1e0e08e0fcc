// Package snapshot defines the on-disk snapshot artifact and its metadata
// sidecar, and converts between artifacts and domain records.
//
// The artifact is a single JSON document holding one array per record kind
// plus an exportMetadata section. Timestamps and identifiers are encoded as
// strings so a damaged field can be dropped on import without rejecting the
// whole document.
package snapshot

import (
	"time"

	"github.com/google/uuid"

	"tasksnap/internal/model"
)

// TimeLayout is the date-time encoding written to artifacts: RFC 3339 in UTC
// with milliseconds. Parsing also accepts whole-second timestamps.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Document is the full snapshot artifact.
type Document struct {
	Tasks          []Task          `json:"tasks"`
	FocusSessions  []FocusSession  `json:"focusSessions"`
	SharedSpaces   []SharedSpace   `json:"sharedSpaces"`
	SpaceMembers   []SpaceMember   `json:"spaceMembers"`
	Invitations    []Invitation    `json:"invitations"`
	ExportMetadata *ExportMetadata `json:"exportMetadata"`

	// present records which per-kind arrays were in the decoded document.
	present map[model.Kind]bool
}

// ExportMetadata describes the build and device that produced an artifact.
type ExportMetadata struct {
	Version    string `json:"version"`
	Build      string `json:"build"`
	ExportedAt string `json:"exportedAt"`
	DeviceName string `json:"deviceName"`
	OSVersion  string `json:"osVersion"`
}

type Task struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Status          string  `json:"status"`
	Category        string  `json:"category"`
	IsUrgent        bool    `json:"isUrgent"`
	Order           int     `json:"order"`
	IsShared        bool    `json:"isShared"`
	CreatedAt       *string `json:"createdAt,omitempty"`
	StartedAt       *string `json:"startedAt,omitempty"`
	DueDate         *string `json:"dueDate,omitempty"`
	CompletedAt     *string `json:"completedAt,omitempty"`
	SharedSpaceID   *string `json:"sharedSpaceId,omitempty"`
	CreatedByUserID *string `json:"createdByUserId,omitempty"`
	BeforeImagePath *string `json:"beforeImagePath,omitempty"`
	AfterImagePath  *string `json:"afterImagePath,omitempty"`
}

type FocusSession struct {
	ID              string  `json:"id"`
	TaskID          *string `json:"taskId,omitempty"`
	TaskTitle       string  `json:"taskTitle"`
	Duration        float64 `json:"duration"`
	PlannedDuration float64 `json:"plannedDuration"`
	CompletedEarly  bool    `json:"completedEarly"`
	SoundType       string  `json:"soundType"`
	StartedAt       *string `json:"startedAt,omitempty"`
}

type SharedSpace struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Emoji             string  `json:"emoji"`
	Color             string  `json:"color"`
	IsActive          bool    `json:"isActive"`
	ShareCode         string  `json:"shareCode"`
	CreatedAt         *string `json:"createdAt,omitempty"`
	CreatedByUserID   *string `json:"createdByUserId,omitempty"`
	CreatedByUserName *string `json:"createdByUserName,omitempty"`
}

type SpaceMember struct {
	ID       string  `json:"id"`
	SpaceID  string  `json:"spaceId"`
	UserID   string  `json:"userId"`
	UserName string  `json:"userName"`
	Role     string  `json:"role"`
	IsActive bool    `json:"isActive"`
	JoinedAt *string `json:"joinedAt,omitempty"`
}

type Invitation struct {
	ID                string  `json:"id"`
	SpaceID           string  `json:"spaceId"`
	SpaceName         string  `json:"spaceName"`
	InvitedByUserID   string  `json:"invitedByUserId"`
	InvitedByUserName string  `json:"invitedByUserName"`
	InvitedUserID     *string `json:"invitedUserId,omitempty"`
	InvitedUserEmail  *string `json:"invitedUserEmail,omitempty"`
	Status            string  `json:"status"`
	CreatedAt         *string `json:"createdAt,omitempty"`
	ExpiresAt         *string `json:"expiresAt,omitempty"`
}

// kindKeys maps record kinds to their top-level document keys.
var kindKeys = map[model.Kind]string{
	model.KindTask:            "tasks",
	model.KindFocusSession:    "focusSessions",
	model.KindSharedSpace:     "sharedSpaces",
	model.KindSpaceMember:     "spaceMembers",
	model.KindShareInvitation: "invitations",
}

// NewDocument builds an artifact from the store's records. Every kind gets an
// array, empty when the store holds none of that kind.
func NewDocument(records map[model.Kind][]model.Record, meta ExportMetadata) *Document {
	d := &Document{
		Tasks:          []Task{},
		FocusSessions:  []FocusSession{},
		SharedSpaces:   []SharedSpace{},
		SpaceMembers:   []SpaceMember{},
		Invitations:    []Invitation{},
		ExportMetadata: &meta,
	}

	for _, rec := range records[model.KindTask] {
		t := rec.(*model.Task)
		d.Tasks = append(d.Tasks, Task{
			ID:              t.ID.String(),
			Title:           t.Title,
			Description:     t.Description,
			Status:          t.Status,
			Category:        t.Category,
			IsUrgent:        t.IsUrgent,
			Order:           t.Order,
			IsShared:        t.IsShared,
			CreatedAt:       formatTime(t.CreatedAt),
			StartedAt:       formatTime(t.StartedAt),
			DueDate:         formatTime(t.DueDate),
			CompletedAt:     formatTime(t.CompletedAt),
			SharedSpaceID:   formatUUID(t.SharedSpaceID),
			CreatedByUserID: copyString(t.CreatedByUserID),
			BeforeImagePath: copyString(t.BeforeImagePath),
			AfterImagePath:  copyString(t.AfterImagePath),
		})
	}

	for _, rec := range records[model.KindFocusSession] {
		f := rec.(*model.FocusSession)
		d.FocusSessions = append(d.FocusSessions, FocusSession{
			ID:              f.ID.String(),
			TaskID:          formatUUID(f.TaskID),
			TaskTitle:       f.TaskTitle,
			Duration:        f.Duration,
			PlannedDuration: f.PlannedDuration,
			CompletedEarly:  f.CompletedEarly,
			SoundType:       f.SoundType,
			StartedAt:       formatTime(f.StartedAt),
		})
	}

	for _, rec := range records[model.KindSharedSpace] {
		s := rec.(*model.SharedSpace)
		d.SharedSpaces = append(d.SharedSpaces, SharedSpace{
			ID:                s.ID.String(),
			Name:              s.Name,
			Emoji:             s.Emoji,
			Color:             s.Color,
			IsActive:          s.IsActive,
			ShareCode:         s.ShareCode,
			CreatedAt:         formatTime(s.CreatedAt),
			CreatedByUserID:   copyString(s.CreatedByUserID),
			CreatedByUserName: copyString(s.CreatedByUserName),
		})
	}

	for _, rec := range records[model.KindSpaceMember] {
		m := rec.(*model.SpaceMember)
		d.SpaceMembers = append(d.SpaceMembers, SpaceMember{
			ID:       m.ID.String(),
			SpaceID:  uuidString(m.SpaceID),
			UserID:   m.UserID,
			UserName: m.UserName,
			Role:     m.Role,
			IsActive: m.IsActive,
			JoinedAt: formatTime(m.JoinedAt),
		})
	}

	for _, rec := range records[model.KindShareInvitation] {
		i := rec.(*model.ShareInvitation)
		d.Invitations = append(d.Invitations, Invitation{
			ID:                i.ID.String(),
			SpaceID:           uuidString(i.SpaceID),
			SpaceName:         i.SpaceName,
			InvitedByUserID:   i.InvitedByUserID,
			InvitedByUserName: i.InvitedByUserName,
			InvitedUserID:     copyString(i.InvitedUserID),
			InvitedUserEmail:  copyString(i.InvitedUserEmail),
			Status:            i.Status,
			CreatedAt:         formatTime(i.CreatedAt),
			ExpiresAt:         formatTime(i.ExpiresAt),
		})
	}

	return d
}

// Counts returns the number of entries per record kind.
func (d *Document) Counts() map[model.Kind]int {
	return map[model.Kind]int{
		model.KindTask:            len(d.Tasks),
		model.KindFocusSession:    len(d.FocusSessions),
		model.KindSharedSpace:     len(d.SharedSpaces),
		model.KindSpaceMember:     len(d.SpaceMembers),
		model.KindShareInvitation: len(d.Invitations),
	}
}

// RecordCount returns the total number of records in the document.
func (d *Document) RecordCount() int {
	total := 0
	for _, n := range d.Counts() {
		total += n
	}
	return total
}

// Kinds returns the record kinds whose arrays were present in the decoded
// document, in model.AllKinds order. Documents built with NewDocument carry
// every kind.
func (d *Document) Kinds() []model.Kind {
	var kinds []model.Kind
	for _, k := range model.AllKinds {
		if d.present == nil || d.present[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Records converts the document back into domain records. Unparsable
// timestamps and foreign identifiers become nil. An unparsable primary id is
// replaced with newID() so the record is kept.
func (d *Document) Records(newID func() uuid.UUID) map[model.Kind][]model.Record {
	out := make(map[model.Kind][]model.Record, len(model.AllKinds))

	primary := func(s string) uuid.UUID {
		if id, err := uuid.Parse(s); err == nil && id != uuid.Nil {
			return id
		}
		return newID()
	}

	for _, t := range d.Tasks {
		out[model.KindTask] = append(out[model.KindTask], &model.Task{
			ID:              primary(t.ID),
			Title:           t.Title,
			Description:     t.Description,
			Status:          t.Status,
			Category:        t.Category,
			IsUrgent:        t.IsUrgent,
			Order:           t.Order,
			IsShared:        t.IsShared,
			CreatedAt:       parseTime(t.CreatedAt),
			StartedAt:       parseTime(t.StartedAt),
			DueDate:         parseTime(t.DueDate),
			CompletedAt:     parseTime(t.CompletedAt),
			SharedSpaceID:   parseUUID(t.SharedSpaceID),
			CreatedByUserID: copyString(t.CreatedByUserID),
			BeforeImagePath: copyString(t.BeforeImagePath),
			AfterImagePath:  copyString(t.AfterImagePath),
		})
	}

	for _, f := range d.FocusSessions {
		out[model.KindFocusSession] = append(out[model.KindFocusSession], &model.FocusSession{
			ID:              primary(f.ID),
			TaskID:          parseUUID(f.TaskID),
			TaskTitle:       f.TaskTitle,
			Duration:        f.Duration,
			PlannedDuration: f.PlannedDuration,
			CompletedEarly:  f.CompletedEarly,
			SoundType:       f.SoundType,
			StartedAt:       parseTime(f.StartedAt),
		})
	}

	for _, s := range d.SharedSpaces {
		out[model.KindSharedSpace] = append(out[model.KindSharedSpace], &model.SharedSpace{
			ID:                primary(s.ID),
			Name:              s.Name,
			Emoji:             s.Emoji,
			Color:             s.Color,
			IsActive:          s.IsActive,
			ShareCode:         s.ShareCode,
			CreatedAt:         parseTime(s.CreatedAt),
			CreatedByUserID:   copyString(s.CreatedByUserID),
			CreatedByUserName: copyString(s.CreatedByUserName),
		})
	}

	for _, m := range d.SpaceMembers {
		out[model.KindSpaceMember] = append(out[model.KindSpaceMember], &model.SpaceMember{
			ID:       primary(m.ID),
			SpaceID:  parseUUID(&m.SpaceID),
			UserID:   m.UserID,
			UserName: m.UserName,
			Role:     m.Role,
			IsActive: m.IsActive,
			JoinedAt: parseTime(m.JoinedAt),
		})
	}

	for _, i := range d.Invitations {
		out[model.KindShareInvitation] = append(out[model.KindShareInvitation], &model.ShareInvitation{
			ID:                primary(i.ID),
			SpaceID:           parseUUID(&i.SpaceID),
			SpaceName:         i.SpaceName,
			InvitedByUserID:   i.InvitedByUserID,
			InvitedByUserName: i.InvitedByUserName,
			InvitedUserID:     copyString(i.InvitedUserID),
			InvitedUserEmail:  copyString(i.InvitedUserEmail),
			Status:            i.Status,
			CreatedAt:         parseTime(i.CreatedAt),
			ExpiresAt:         parseTime(i.ExpiresAt),
		})
	}

	return out
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(TimeLayout)
	return &s
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}

func formatUUID(u *uuid.UUID) *string {
	if u == nil {
		return nil
	}
	s := u.String()
	return &s
}

func uuidString(u *uuid.UUID) string {
	if u == nil {
		return ""
	}
	return u.String()
}

func parseUUID(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	u, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &u
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
