package submission

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("submission not found")
	ErrVersionConflict = errors.New("submission was modified concurrently")
)

type SubmissionRepository interface {
	// Create assigns ID, timestamps and version 1.
	Create(ctx context.Context, s *Submission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Submission, error)
	// GetByIDForOwner returns ErrNotFound when the submission exists but
	// belongs to another patient.
	GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*Submission, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Submission, int, error)
	List(ctx context.Context, limit, offset int) ([]*Submission, int, error)
	// Update persists s only if the stored version still equals s.Version,
	// then increments s.Version. A stale write returns ErrVersionConflict.
	Update(ctx context.Context, s *Submission) error
}
