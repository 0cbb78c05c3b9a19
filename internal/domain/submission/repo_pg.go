package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentrecord/dentrecord/internal/platform/db"
)

type submissionRepoPG struct{ pool *pgxpool.Pool }

func NewSubmissionRepoPG(pool *pgxpool.Pool) SubmissionRepository {
	return &submissionRepoPG{pool: pool}
}

func (r *submissionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const submissionCols = `id, patient_user_id, name, patient_id, email, note, image_url,
	annotated_image_url, annotation_data, report_url, status, version, created_at, updated_at`

func (r *submissionRepoPG) scanRow(row pgx.Row) (*Submission, error) {
	var s Submission
	var annotation []byte
	err := row.Scan(&s.ID, &s.PatientUserID, &s.Name, &s.PatientID, &s.Email, &s.Note, &s.ImageURL,
		&s.AnnotatedImageURL, &annotation, &s.ReportURL, &s.Status, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(annotation) > 0 {
		s.AnnotationData = annotation
	}
	return &s, nil
}

func annotationParam(s *Submission) interface{} {
	if len(s.AnnotationData) == 0 {
		return nil
	}
	return string(s.AnnotationData)
}

func (r *submissionRepoPG) Create(ctx context.Context, s *Submission) error {
	s.ID = uuid.New()
	s.Version = 1
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO submissions (id, patient_user_id, name, patient_id, email, note, image_url,
			annotated_image_url, annotation_data, report_url, status, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		s.ID, s.PatientUserID, s.Name, s.PatientID, s.Email, s.Note, s.ImageURL,
		s.AnnotatedImageURL, annotationParam(s), s.ReportURL, s.Status, s.Version, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (r *submissionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Submission, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+submissionCols+` FROM submissions WHERE id = $1`, id))
}

func (r *submissionRepoPG) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*Submission, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+submissionCols+` FROM submissions WHERE id = $1 AND patient_user_id = $2`, id, ownerID))
}

func (r *submissionRepoPG) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Submission, int, error) {
	return r.list(ctx, `WHERE patient_user_id = $1`, []interface{}{ownerID}, limit, offset)
}

func (r *submissionRepoPG) List(ctx context.Context, limit, offset int) ([]*Submission, int, error) {
	return r.list(ctx, ``, nil, limit, offset)
}

func (r *submissionRepoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Submission, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM submissions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM submissions %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		submissionCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var items []*Submission
	for rows.Next() {
		s, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *submissionRepoPG) Update(ctx context.Context, s *Submission) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE submissions SET
			annotated_image_url = $3, annotation_data = $4, report_url = $5, status = $6,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		s.ID, s.Version, s.AnnotatedImageURL, annotationParam(s), s.ReportURL, s.Status,
	).Scan(&s.Version, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	return nil
}
