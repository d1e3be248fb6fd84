// Package model defines domain entities used by services, repositories and projections.
package model

import (
	"strings"
	"time"
)

// Profile is the full set of mutable student fields. Events carry it as a
// snapshot of the aggregate after the transition.
type Profile struct {
	Username         string `json:"username"`
	Password         string `json:"password"` // opaque credential blob, never plaintext
	Name             string `json:"name"`
	Surname          string `json:"surname"`
	Email            string `json:"email"`
	Faculty          string `json:"faculty,omitempty"`
	Department       string `json:"department,omitempty"`
	InternshipStatus string `json:"internship_status,omitempty"`
}

// Student is the authoritative aggregate state, rebuilt by folding events.
type Student struct {
	ID       string // stable aggregate id
	TenantID string // owner tenant, fixed at creation
	Profile
	Version   int64 // number of applied events
	Deleted   bool  // terminal tombstone
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Exists reports whether at least one event was applied.
func (s Student) Exists() bool { return s.Version > 0 }

// EventType names a student state transition.
type EventType string

const (
	StudentCreated EventType = "StudentCreated"
	StudentUpdated EventType = "StudentUpdated"
	StudentDeleted EventType = "StudentDeleted"
)

// Event is an immutable fact appended to the event log.
type Event struct {
	ID             string
	Type           EventType
	AggregateID    string
	TenantID       string
	Seq            int64 // 1..N per aggregate
	Snapshot       Profile
	Timestamp      time.Time
	IdempotencyKey string // optional, copied from the command
}

// CommandKind selects the state-machine transition a command requests.
type CommandKind string

const (
	CreateStudent CommandKind = "CreateStudent"
	UpdateStudent CommandKind = "UpdateStudent"
	DeleteStudent CommandKind = "DeleteStudent"
)

// ProfilePatch carries optional field values. Nil means "leave unchanged".
type ProfilePatch struct {
	Username         *string
	Password         *string
	Name             *string
	Surname          *string
	Email            *string
	Faculty          *string
	Department       *string
	InternshipStatus *string
}

// Command is a client intent routed to a single aggregate.
type Command struct {
	Kind           CommandKind
	StudentID      string // empty on create means server-assigned
	IdempotencyKey string
	Fields         ProfilePatch
}

// DispatchResult reports the outcome of a successful command.
type DispatchResult struct {
	AggregateID string
	Version     int64
	Events      []Event
}

// ProjectionRecord is a denormalized read-model row keyed by aggregate id.
type ProjectionRecord struct {
	ID               string
	TenantID         string
	Username         string
	Name             string
	Surname          string
	Email            string
	Faculty          string
	Department       string
	InternshipStatus string
	LastAppliedSeq   int64 // watermark of the owning sink
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FullName joins name and surname the way search documents index them.
func (r ProjectionRecord) FullName() string {
	return strings.TrimSpace(r.Name + " " + r.Surname)
}

// RecordFromEvent builds the projection row described by an event snapshot.
// The credential blob is intentionally dropped.
func RecordFromEvent(ev Event) ProjectionRecord {
	return ProjectionRecord{
		ID:               ev.AggregateID,
		TenantID:         ev.TenantID,
		Username:         ev.Snapshot.Username,
		Name:             ev.Snapshot.Name,
		Surname:          ev.Snapshot.Surname,
		Email:            ev.Snapshot.Email,
		Faculty:          ev.Snapshot.Faculty,
		Department:       ev.Snapshot.Department,
		InternshipStatus: ev.Snapshot.InternshipStatus,
		LastAppliedSeq:   ev.Seq,
		CreatedAt:        ev.Timestamp,
		UpdatedAt:        ev.Timestamp,
	}
}

// Filter holds equality predicates; empty fields are ignored.
type Filter struct {
	Faculty          string
	Department       string
	InternshipStatus string
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// PageRequest describes the requested slice of a result set.
type PageRequest struct {
	Page      int // zero-based
	Size      int
	SortBy    string
	Direction Direction
}

// Offset returns the number of rows to skip.
func (p PageRequest) Offset() int { return p.Page * p.Size }

// Page is one page of results plus pagination metadata.
type Page[T any] struct {
	Content       []T
	Page          int
	Size          int
	TotalElements int64
	TotalPages    int
	First         bool
	Last          bool
	Empty         bool
	HasNext       bool
	HasPrevious   bool
}

// Summary is the lightweight list view of a student.
type Summary struct {
	ID               string
	Username         string
	Email            string
	Faculty          string
	Department       string
	InternshipStatus string
}

// SummaryOf projects a record into its list view.
func SummaryOf(r ProjectionRecord) Summary {
	return Summary{
		ID:               r.ID,
		Username:         r.Username,
		Email:            r.Email,
		Faculty:          r.Faculty,
		Department:       r.Department,
		InternshipStatus: r.InternshipStatus,
	}
}
