package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind identifies a domain record type held in the object store.
type Kind string

const (
	KindTask            Kind = "task"
	KindFocusSession    Kind = "focus_session"
	KindSharedSpace     Kind = "shared_space"
	KindSpaceMember     Kind = "space_member"
	KindShareInvitation Kind = "share_invitation"
)

// AllKinds lists every record kind in dependency order: spaces before the
// records that reference them, tasks before focus sessions.
var AllKinds = []Kind{
	KindSharedSpace,
	KindSpaceMember,
	KindShareInvitation,
	KindTask,
	KindFocusSession,
}

// Valid reports whether k is a known record kind.
func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Record is implemented by every domain record type.
type Record interface {
	Kind() Kind
	RecordID() uuid.UUID
	// Clone returns a deep copy so callers can mutate it without touching
	// the store's working copy.
	Clone() Record
}

// Predicate selects records. A nil Predicate matches everything.
type Predicate func(Record) bool

// Match applies p to r, treating a nil predicate as match-all.
func (p Predicate) Match(r Record) bool {
	return p == nil || p(r)
}

// ByID matches the record with the given identifier.
func ByID(id uuid.UUID) Predicate {
	return func(r Record) bool { return r.RecordID() == id }
}

// Validate checks the invariants every record must satisfy before it can be
// saved.
func Validate(r Record) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if !r.Kind().Valid() {
		return fmt.Errorf("unknown record kind: %q", r.Kind())
	}
	if r.RecordID() == uuid.Nil {
		return fmt.Errorf("%s record has no id", r.Kind())
	}
	return nil
}
