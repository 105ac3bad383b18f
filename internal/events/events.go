// Package events publishes notifications about committed comments to
// downstream consumers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultSubject is the NATS subject for CommentEvent.
const DefaultSubject = "callsheet.comment.appended"

// Comment sources.
const (
	SourceText  = "text"
	SourceAudio = "audio"
)

// CommentEvent is emitted after a comment is stored.
type CommentEvent struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id"`
	TargetName string    `json:"target_name"`
	OperatorID string    `json:"operator_id"`
	Platform   string    `json:"platform"`
	Source     string    `json:"source"`
	Length     int       `json:"length"`
	At         time.Time `json:"at"`
}

// NewCommentEvent stamps a CommentEvent with a fresh id and the current time.
func NewCommentEvent(targetID, targetName, operatorID, platform, source string, length int) CommentEvent {
	return CommentEvent{
		ID:         uuid.NewString(),
		TargetID:   targetID,
		TargetName: targetName,
		OperatorID: operatorID,
		Platform:   platform,
		Source:     source,
		Length:     length,
		At:         time.Now().UTC(),
	}
}

// Publisher delivers a CommentEvent somewhere. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, ev CommentEvent) error
}

// Noop discards every event.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, CommentEvent) error { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, ev CommentEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
