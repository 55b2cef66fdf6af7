package domain

import (
	"time"
)

// Status is the lifecycle state of a beam.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Failure reasons recorded by the ledger itself.
const (
	ReasonChecksumMismatch = "checksum mismatch"
	ReasonSizeMismatch     = "size mismatch"
)

// DefaultContentType is used when a submission does not name one.
const DefaultContentType = "application/octet-stream"

// transitions lists the only legal status changes.
var transitions = map[Status]map[Status]bool{
	StatusSubmitted:  {StatusInProgress: true},
	StatusInProgress: {StatusCompleted: true, StatusFailed: true},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// ParseStatus validates a status string coming from outside the process.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", BadRequestf("unknown status %q", s)
	}
	return st, nil
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// BeamRecord is a unit of transferable data tracked by the ledger.
type BeamRecord struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	Checksum    string    `json:"checksum"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ErrorReason string    `json:"error_reason,omitempty"`
}

// Clone returns a copy safe to hand to another goroutine.
func (r *BeamRecord) Clone() *BeamRecord {
	c := *r
	return &c
}

// ListFilter narrows a listing. A nil Status matches every record.
type ListFilter struct {
	Status *Status
}

// Page is one keyset-paginated slice of records ordered by (created_at, id).
type Page struct {
	Items []*BeamRecord
	Next  *Cursor
}
