// Package store defines the record store collaborator: the external system
// that holds driver records and their comments.
package store

import (
	"context"
	"time"
)

// UntitledName is shown for records whose name is missing.
const UntitledName = "Untitled"

// Target is a selectable record. Only ID and Name are guaranteed.
type Target struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TargetDetail is a snapshot of one record. Every field except ID and
// Name may be empty.
type TargetDetail struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status,omitempty"`
	About   string `json:"about,omitempty"`
	Number  string `json:"number,omitempty"`
	Date    string `json:"date,omitempty"`
	Notes   string `json:"notes,omitempty"`
	Trailer bool   `json:"trailer"`
}

// Comment is one prior comment on a record.
type Comment struct {
	CreatedAt time.Time `json:"created_at"`
	Text      string    `json:"text"`
}

// RecordStore reads records and appends comments. Implementations must be
// safe for concurrent use.
type RecordStore interface {
	// ListTargets returns every record sorted by name.
	ListTargets(ctx context.Context) ([]Target, error)
	// GetTarget returns nil, nil when the record does not exist.
	GetTarget(ctx context.Context, id string) (*TargetDetail, error)
	// ListComments returns the record's comments, oldest first.
	ListComments(ctx context.Context, id string) ([]Comment, error)
	// AppendComment adds a comment to the record.
	AppendComment(ctx context.Context, id, text string) error
}
