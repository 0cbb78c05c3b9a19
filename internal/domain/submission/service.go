package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dentrecord/dentrecord/internal/platform/apierr"
	"github.com/dentrecord/dentrecord/internal/platform/blobstore"
	"github.com/dentrecord/dentrecord/internal/platform/pdfreport"
)

// Artifact store folders.
const (
	FolderOriginal  = "submissions/original"
	FolderAnnotated = "submissions/annotated"
	FolderReports   = "reports"
)

type Service struct {
	repo    SubmissionRepository
	blobs   blobstore.Store
	reports *pdfreport.Generator
	timeout time.Duration
	now     func() time.Time

	// maxImage bounds an annotated image read back for embedding.
	maxImage int64
}

// NewService wires the lifecycle to its record and artifact stores. Every
// store call is bounded by timeout when it is positive.
func NewService(repo SubmissionRepository, blobs blobstore.Store, reports *pdfreport.Generator, timeout time.Duration) *Service {
	return &Service{repo: repo, blobs: blobs, reports: reports, timeout: timeout, now: time.Now,
		maxImage: blobstore.MaxFileSize}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// UploadInput is a new submission from a patient.
type UploadInput struct {
	Name      string
	PatientID string
	Email     string
	Note      string
	Image     File
}

// AnnotateInput is an administrator's annotation of a submission.
type AnnotateInput struct {
	AnnotationData json.RawMessage
	Image          File
}

// Upload stores the original image and creates a submission in status
// uploaded owned by ownerID.
func (s *Service) Upload(ctx context.Context, ownerID uuid.UUID, in UploadInput) (*Submission, error) {
	url, err := s.putImage(ctx, FolderOriginal, "image", in.Image)
	if err != nil {
		return nil, err
	}

	sub := &Submission{
		PatientUserID: ownerID,
		Name:          in.Name,
		PatientID:     in.PatientID,
		Email:         in.Email,
		Note:          in.Note,
		ImageURL:      url,
		Status:        StatusUploaded,
	}

	cctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.repo.Create(cctx, sub); err != nil {
		return nil, storeError("failed to save submission", err)
	}

	log.Info().
		Str("submission_id", sub.ID.String()).
		Str("owner_id", ownerID.String()).
		Str("status", sub.Status).
		Msg("submission uploaded")
	return sub, nil
}

func (s *Service) ListForOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Submission, int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	items, total, err := s.repo.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, 0, storeError("failed to list submissions", err)
	}
	return items, total, nil
}

// GetForOwner returns a NotFound error for submissions owned by another
// patient.
func (s *Service) GetForOwner(ctx context.Context, id, ownerID uuid.UUID) (*Submission, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sub, err := s.repo.GetByIDForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, storeError("failed to load submission", err)
	}
	return sub, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Submission, int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	items, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, storeError("failed to list submissions", err)
	}
	return items, total, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Submission, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storeError("failed to load submission", err)
	}
	return sub, nil
}

// SaveAnnotatedImage replaces the owner's annotated image and moves the
// submission to annotated.
func (s *Service) SaveAnnotatedImage(ctx context.Context, id, ownerID uuid.UUID, image File) (*Submission, error) {
	sub, err := s.GetForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	next, err := s.next(sub, ActionSaveAnnotatedImage)
	if err != nil {
		return nil, err
	}

	url, err := s.putImage(ctx, FolderAnnotated, "image", image)
	if err != nil {
		return nil, err
	}
	sub.AnnotatedImageURL = &url

	if err := s.persist(ctx, sub, next); err != nil {
		return nil, err
	}
	log.Info().Str("submission_id", sub.ID.String()).Str("status", sub.Status).Msg("annotated image saved")
	return sub, nil
}

// Annotate records an administrator's annotation payload and annotated image.
func (s *Service) Annotate(ctx context.Context, id uuid.UUID, in AnnotateInput) (*Submission, error) {
	if !json.Valid(in.AnnotationData) {
		return nil, apierr.Validation("annotationData must be valid JSON",
			apierr.FieldError{Field: "annotationData", Rule: "json", Message: "annotationData must be valid JSON"})
	}

	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := s.next(sub, ActionAnnotate)
	if err != nil {
		return nil, err
	}

	url, err := s.putImage(ctx, FolderAnnotated, "annotatedImage", in.Image)
	if err != nil {
		return nil, err
	}
	sub.AnnotatedImageURL = &url
	sub.AnnotationData = in.AnnotationData

	if err := s.persist(ctx, sub, next); err != nil {
		return nil, err
	}
	log.Info().Str("submission_id", sub.ID.String()).Str("status", sub.Status).Msg("submission annotated")
	return sub, nil
}

// GeneratePatientReport renders the owner's report without the embedded
// annotated image.
func (s *Service) GeneratePatientReport(ctx context.Context, id, ownerID uuid.UUID) (*Submission, error) {
	sub, err := s.GetForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	return s.generateReport(ctx, sub, false)
}

// GenerateAdminReport renders the report with the annotated image embedded.
func (s *Service) GenerateAdminReport(ctx context.Context, id uuid.UUID) (*Submission, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.generateReport(ctx, sub, true)
}

func (s *Service) generateReport(ctx context.Context, sub *Submission, embed bool) (*Submission, error) {
	if sub.Status == StatusReported {
		return nil, apierr.Validation(ErrAlreadyReported.Error())
	}
	if !sub.HasAnnotatedImage() {
		return nil, apierr.Validation("annotated image is required before generating a report")
	}
	next, err := s.next(sub, ActionGenerateReport)
	if err != nil {
		return nil, err
	}

	data := pdfreport.Data{
		SubmissionID:      sub.ID.String(),
		PatientName:       sub.Name,
		PatientID:         sub.PatientID,
		Email:             sub.Email,
		Note:              sub.Note,
		OriginalImageURL:  sub.ImageURL,
		AnnotatedImageURL: *sub.AnnotatedImageURL,
		GeneratedAt:       s.now().UTC(),
	}
	if embed {
		img, err := s.fetch(ctx, *sub.AnnotatedImageURL)
		if err != nil {
			return nil, err
		}
		data.AnnotatedImage = img
	}

	pdf, err := s.reports.Generate(data)
	if err != nil {
		if errors.Is(err, pdfreport.ErrInvalidImage) {
			return nil, apierr.Validation(err.Error())
		}
		return nil, apierr.Unexpected(fmt.Errorf("render report: %w", err))
	}

	pctx, cancel := s.withTimeout(ctx)
	defer cancel()
	url, err := s.blobs.Put(pctx, blobstore.Object{
		Folder:      FolderReports,
		Name:        fmt.Sprintf("report_%s.pdf", sub.ID),
		Kind:        blobstore.KindRaw,
		ContentType: "application/pdf",
		Data:        pdf,
	})
	if err != nil {
		log.Error().Err(err).Str("submission_id", sub.ID.String()).Msg("report upload failed")
		return nil, apierr.External("failed to upload report", err)
	}

	sub.ReportURL = &url
	if err := s.persist(ctx, sub, next); err != nil {
		return nil, err
	}
	log.Info().
		Str("submission_id", sub.ID.String()).
		Bool("embedded_image", embed).
		Int("bytes", len(pdf)).
		Msg("report generated")
	return sub, nil
}

func (s *Service) next(sub *Submission, action Action) (string, error) {
	next, err := Next(sub.Status, action)
	if err != nil {
		if errors.Is(err, ErrAlreadyReported) {
			return "", apierr.Validation(ErrAlreadyReported.Error())
		}
		return "", apierr.Validation(err.Error())
	}
	return next, nil
}

// persist writes sub with status next under the optimistic version check.
func (s *Service) persist(ctx context.Context, sub *Submission, next string) error {
	if statusRank(next) < statusRank(sub.Status) {
		return apierr.Unexpected(fmt.Errorf("status regression %s -> %s", sub.Status, next))
	}
	prev := sub.Status
	sub.Status = next

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.repo.Update(ctx, sub); err != nil {
		sub.Status = prev
		return storeError("failed to update submission", err)
	}
	return nil
}

func (s *Service) putImage(ctx context.Context, folder, field string, f File) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	url, err := s.blobs.Put(ctx, blobstore.Object{
		Folder:      folder,
		Name:        f.Name,
		Kind:        blobstore.KindImage,
		ContentType: f.ContentType,
		Data:        f.Data,
	})
	if err == nil {
		return url, nil
	}

	switch {
	case errors.Is(err, blobstore.ErrEmptyObject), errors.Is(err, blobstore.ErrMissingFileName):
		return "", apierr.Validation(field+" is required",
			apierr.FieldError{Field: field, Rule: "required", Message: field + " is required"})
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return "", apierr.Validation(field+" must be an image",
			apierr.FieldError{Field: field, Rule: "image", Message: field + " must be an image"})
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return "", apierr.Validation(field+" is too large",
			apierr.FieldError{Field: field, Rule: "max", Message: err.Error()})
	}
	log.Error().Err(err).Str("folder", folder).Msg("image upload failed")
	return "", apierr.External("failed to upload image", err)
}

func (s *Service) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rc, _, err := s.blobs.Open(ctx, url)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("annotated image fetch failed")
		return nil, apierr.External("failed to fetch annotated image", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, s.maxImage+1))
	if err != nil {
		return nil, apierr.External("failed to read annotated image", err)
	}
	if int64(len(data)) > s.maxImage {
		return nil, apierr.Validation(fmt.Sprintf("annotated image exceeds the maximum size of %d bytes", s.maxImage))
	}
	return data, nil
}

func storeError(msg string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apierr.NotFound("submission not found")
	case errors.Is(err, ErrVersionConflict):
		return apierr.Conflict("submission was modified by another request; reload and retry")
	}
	log.Error().Err(err).Msg(msg)
	return apierr.External(msg, err)
}
