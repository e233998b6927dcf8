// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/quirelabs/quire/internal/domain"
)

// Repository defines the interface for persisting container bindings and
// the meeting archive.
type Repository interface {
	// GetBinding retrieves the container binding for a document.
	// Returns nil when the document has never been bound.
	GetBinding(ctx context.Context, docID string) (*domain.ContainerBinding, error)

	// PutBinding creates or replaces the binding for a document.
	PutBinding(ctx context.Context, binding *domain.ContainerBinding) error

	// DeleteBinding removes a binding whose container no longer exists,
	// so the next capture provisions a fresh one.
	DeleteBinding(ctx context.Context, docID string) error

	// SaveMeeting archives a finalized meeting. Saving the same meeting
	// ID again replaces the record.
	SaveMeeting(ctx context.Context, artifact *domain.FinalArtifact) error

	// GetMeeting retrieves one archived meeting. Returns nil when the
	// meeting ID is unknown.
	GetMeeting(ctx context.Context, meetingID string) (*domain.FinalArtifact, error)

	// ListMeetings returns archived meetings newest first. An empty docID
	// lists across all documents; limit <= 0 means no limit.
	ListMeetings(ctx context.Context, docID string, limit int) ([]*domain.FinalArtifact, error)

	// PurgeMeetings removes meetings that ended before the retention
	// window and reports how many were removed.
	PurgeMeetings(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
