package models

import "github.com/punchamoorthee/bitbeam/internal/domain"

// SubmitRequest is the payload for registering a beam.
// A nil ID asks the server to assign one.
type SubmitRequest struct {
	ID          *string `json:"id"`
	Checksum    string  `json:"checksum"`
	SizeBytes   int64   `json:"size_bytes"`
	ContentType string  `json:"content_type,omitempty"`
}

// CompleteRequest carries the checksum observed at the receiving side.
type CompleteRequest struct {
	Checksum string `json:"checksum"`
}

// FailRequest carries the reason a transfer was abandoned.
type FailRequest struct {
	Reason string `json:"reason"`
}

// ListResponse is one page of beams.
type ListResponse struct {
	Items      []*domain.BeamRecord `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
