package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tasksnap/internal/model"
)

// recordTable maps one record kind onto its table.
type recordTable struct {
	name    string
	columns []string
	scan    func(row scanner) (model.Record, error)
	values  func(r model.Record) []any
}

type scanner interface {
	Scan(dest ...any) error
}

func (t recordTable) selectSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY id", strings.Join(t.columns, ", "), t.name)
}

func (t recordTable) upsertSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
	return fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)", t.name, strings.Join(t.columns, ", "), placeholders)
}

func (t recordTable) deleteSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE id = ?", t.name)
}

func (t recordTable) clearSQL() string {
	return "DELETE FROM " + t.name
}

var recordTables = map[model.Kind]recordTable{
	model.KindTask: {
		name: "tasks",
		columns: []string{
			"id", "title", "description", "status", "category", "is_urgent", "sort_order", "is_shared",
			"created_at", "started_at", "due_date", "completed_at", "shared_space_id",
			"created_by_user_id", "before_image_path", "after_image_path",
		},
		scan: func(row scanner) (model.Record, error) {
			var t model.Task
			var id string
			var createdAt, startedAt, dueDate, completedAt sql.NullTime
			var spaceID, createdBy, before, after sql.NullString
			err := row.Scan(&id, &t.Title, &t.Description, &t.Status, &t.Category, &t.IsUrgent, &t.Order, &t.IsShared,
				&createdAt, &startedAt, &dueDate, &completedAt, &spaceID, &createdBy, &before, &after)
			if err != nil {
				return nil, err
			}
			if t.ID, err = uuid.Parse(id); err != nil {
				return nil, fmt.Errorf("task id %q: %w", id, err)
			}
			t.CreatedAt = fromNullTime(createdAt)
			t.StartedAt = fromNullTime(startedAt)
			t.DueDate = fromNullTime(dueDate)
			t.CompletedAt = fromNullTime(completedAt)
			t.SharedSpaceID = fromNullUUID(spaceID)
			t.CreatedByUserID = fromNullString(createdBy)
			t.BeforeImagePath = fromNullString(before)
			t.AfterImagePath = fromNullString(after)
			return &t, nil
		},
		values: func(r model.Record) []any {
			t := r.(*model.Task)
			return []any{
				t.ID.String(), t.Title, t.Description, t.Status, t.Category, t.IsUrgent, t.Order, t.IsShared,
				toNullTime(t.CreatedAt), toNullTime(t.StartedAt), toNullTime(t.DueDate), toNullTime(t.CompletedAt),
				toNullUUID(t.SharedSpaceID), toNullString(t.CreatedByUserID),
				toNullString(t.BeforeImagePath), toNullString(t.AfterImagePath),
			}
		},
	},
	model.KindFocusSession: {
		name: "focus_sessions",
		columns: []string{
			"id", "task_id", "task_title", "duration", "planned_duration", "completed_early", "sound_type", "started_at",
		},
		scan: func(row scanner) (model.Record, error) {
			var f model.FocusSession
			var id string
			var taskID sql.NullString
			var startedAt sql.NullTime
			err := row.Scan(&id, &taskID, &f.TaskTitle, &f.Duration, &f.PlannedDuration, &f.CompletedEarly, &f.SoundType, &startedAt)
			if err != nil {
				return nil, err
			}
			if f.ID, err = uuid.Parse(id); err != nil {
				return nil, fmt.Errorf("focus session id %q: %w", id, err)
			}
			f.TaskID = fromNullUUID(taskID)
			f.StartedAt = fromNullTime(startedAt)
			return &f, nil
		},
		values: func(r model.Record) []any {
			f := r.(*model.FocusSession)
			return []any{
				f.ID.String(), toNullUUID(f.TaskID), f.TaskTitle, f.Duration, f.PlannedDuration,
				f.CompletedEarly, f.SoundType, toNullTime(f.StartedAt),
			}
		},
	},
	model.KindSharedSpace: {
		name: "shared_spaces",
		columns: []string{
			"id", "name", "emoji", "color", "is_active", "share_code", "created_at",
			"created_by_user_id", "created_by_user_name",
		},
		scan: func(row scanner) (model.Record, error) {
			var s model.SharedSpace
			var id string
			var createdAt sql.NullTime
			var createdBy, createdByName sql.NullString
			err := row.Scan(&id, &s.Name, &s.Emoji, &s.Color, &s.IsActive, &s.ShareCode, &createdAt, &createdBy, &createdByName)
			if err != nil {
				return nil, err
			}
			if s.ID, err = uuid.Parse(id); err != nil {
				return nil, fmt.Errorf("shared space id %q: %w", id, err)
			}
			s.CreatedAt = fromNullTime(createdAt)
			s.CreatedByUserID = fromNullString(createdBy)
			s.CreatedByUserName = fromNullString(createdByName)
			return &s, nil
		},
		values: func(r model.Record) []any {
			s := r.(*model.SharedSpace)
			return []any{
				s.ID.String(), s.Name, s.Emoji, s.Color, s.IsActive, s.ShareCode, toNullTime(s.CreatedAt),
				toNullString(s.CreatedByUserID), toNullString(s.CreatedByUserName),
			}
		},
	},
	model.KindSpaceMember: {
		name:    "space_members",
		columns: []string{"id", "space_id", "user_id", "user_name", "role", "is_active", "joined_at"},
		scan: func(row scanner) (model.Record, error) {
			var m model.SpaceMember
			var id string
			var spaceID sql.NullString
			var joinedAt sql.NullTime
			err := row.Scan(&id, &spaceID, &m.UserID, &m.UserName, &m.Role, &m.IsActive, &joinedAt)
			if err != nil {
				return nil, err
			}
			if m.ID, err = uuid.Parse(id); err != nil {
				return nil, fmt.Errorf("space member id %q: %w", id, err)
			}
			m.SpaceID = fromNullUUID(spaceID)
			m.JoinedAt = fromNullTime(joinedAt)
			return &m, nil
		},
		values: func(r model.Record) []any {
			m := r.(*model.SpaceMember)
			return []any{
				m.ID.String(), toNullUUID(m.SpaceID), m.UserID, m.UserName, m.Role, m.IsActive, toNullTime(m.JoinedAt),
			}
		},
	},
	model.KindShareInvitation: {
		name: "share_invitations",
		columns: []string{
			"id", "space_id", "space_name", "invited_by_user_id", "invited_by_user_name",
			"invited_user_id", "invited_user_email", "status", "created_at", "expires_at",
		},
		scan: func(row scanner) (model.Record, error) {
			var inv model.ShareInvitation
			var id string
			var spaceID, invitedID, invitedEmail sql.NullString
			var createdAt, expiresAt sql.NullTime
			err := row.Scan(&id, &spaceID, &inv.SpaceName, &inv.InvitedByUserID, &inv.InvitedByUserName,
				&invitedID, &invitedEmail, &inv.Status, &createdAt, &expiresAt)
			if err != nil {
				return nil, err
			}
			if inv.ID, err = uuid.Parse(id); err != nil {
				return nil, fmt.Errorf("invitation id %q: %w", id, err)
			}
			inv.SpaceID = fromNullUUID(spaceID)
			inv.InvitedUserID = fromNullString(invitedID)
			inv.InvitedUserEmail = fromNullString(invitedEmail)
			inv.CreatedAt = fromNullTime(createdAt)
			inv.ExpiresAt = fromNullTime(expiresAt)
			return &inv, nil
		},
		values: func(r model.Record) []any {
			inv := r.(*model.ShareInvitation)
			return []any{
				inv.ID.String(), toNullUUID(inv.SpaceID), inv.SpaceName, inv.InvitedByUserID, inv.InvitedByUserName,
				toNullString(inv.InvitedUserID), toNullString(inv.InvitedUserEmail), inv.Status,
				toNullTime(inv.CreatedAt), toNullTime(inv.ExpiresAt),
			}
		},
	},
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func toNullUUID(u *uuid.UUID) sql.NullString {
	if u == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: u.String(), Valid: true}
}

// fromNullUUID treats an unparsable reference as missing.
func fromNullUUID(s sql.NullString) *uuid.UUID {
	if !s.Valid {
		return nil
	}
	u, err := uuid.Parse(s.String)
	if err != nil {
		return nil
	}
	return &u
}
