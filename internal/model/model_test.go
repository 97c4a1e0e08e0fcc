package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestKind_Valid(t *testing.T) {
	for _, k := range AllKinds {
		if !k.Valid() {
			t.Errorf("%q.Valid() = false, want true", k)
		}
	}
	if Kind("photo").Valid() {
		t.Error(`Kind("photo").Valid() = true, want false`)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{name: "nil record", rec: nil, wantErr: true},
		{name: "missing id", rec: &Task{Title: "x"}, wantErr: true},
		{name: "valid task", rec: &Task{ID: uuid.New()}, wantErr: false},
		{name: "valid member", rec: &SpaceMember{ID: uuid.New()}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rec)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTask_CloneIsDeep(t *testing.T) {
	created := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	space := uuid.New()
	user := "user-1"
	orig := &Task{ID: uuid.New(), Title: "Dishes", CreatedAt: &created, SharedSpaceID: &space, CreatedByUserID: &user}

	c := orig.Clone().(*Task)
	*c.CreatedAt = created.Add(time.Hour)
	*c.SharedSpaceID = uuid.New()
	*c.CreatedByUserID = "someone-else"
	c.Title = "Laundry"

	if !orig.CreatedAt.Equal(created) {
		t.Errorf("original CreatedAt changed to %v", orig.CreatedAt)
	}
	if *orig.SharedSpaceID != space {
		t.Error("original SharedSpaceID changed")
	}
	if *orig.CreatedByUserID != "user-1" {
		t.Error("original CreatedByUserID changed")
	}
	if orig.Title != "Dishes" {
		t.Error("original Title changed")
	}
}

func TestPredicate_Match(t *testing.T) {
	id := uuid.New()
	rec := &SharedSpace{ID: id}

	var all Predicate
	if !all.Match(rec) {
		t.Error("nil predicate should match every record")
	}
	if !ByID(id).Match(rec) {
		t.Error("ByID should match the record's own id")
	}
	if ByID(uuid.New()).Match(rec) {
		t.Error("ByID matched a different id")
	}
}
