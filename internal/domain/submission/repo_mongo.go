package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// submissionDoc is the MongoDB representation of Submission. Annotation data
// is kept as its JSON text so that it round-trips byte for byte.
type submissionDoc struct {
	ID                string    `bson:"_id"`
	PatientUserID     string    `bson:"patient"`
	Name              string    `bson:"name"`
	PatientID         string    `bson:"patientId"`
	Email             string    `bson:"email"`
	Note              string    `bson:"note"`
	ImageURL          string    `bson:"imageUrl"`
	AnnotatedImageURL *string   `bson:"annotatedImageUrl,omitempty"`
	AnnotationData    string    `bson:"annotationData,omitempty"`
	ReportURL         *string   `bson:"reportUrl,omitempty"`
	Status            string    `bson:"status"`
	Version           int       `bson:"version"`
	CreatedAt         time.Time `bson:"createdAt"`
	UpdatedAt         time.Time `bson:"updatedAt"`
}

func toSubmissionDoc(s *Submission) submissionDoc {
	return submissionDoc{
		ID:                s.ID.String(),
		PatientUserID:     s.PatientUserID.String(),
		Name:              s.Name,
		PatientID:         s.PatientID,
		Email:             s.Email,
		Note:              s.Note,
		ImageURL:          s.ImageURL,
		AnnotatedImageURL: s.AnnotatedImageURL,
		AnnotationData:    string(s.AnnotationData),
		ReportURL:         s.ReportURL,
		Status:            s.Status,
		Version:           s.Version,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func (d submissionDoc) submission() (*Submission, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode submission id %q: %w", d.ID, err)
	}
	owner, err := uuid.Parse(d.PatientUserID)
	if err != nil {
		return nil, fmt.Errorf("decode submission owner %q: %w", d.PatientUserID, err)
	}
	s := &Submission{
		ID:                id,
		PatientUserID:     owner,
		Name:              d.Name,
		PatientID:         d.PatientID,
		Email:             d.Email,
		Note:              d.Note,
		ImageURL:          d.ImageURL,
		AnnotatedImageURL: d.AnnotatedImageURL,
		ReportURL:         d.ReportURL,
		Status:            d.Status,
		Version:           d.Version,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	if d.AnnotationData != "" {
		s.AnnotationData = []byte(d.AnnotationData)
	}
	return s, nil
}

type submissionRepoMongo struct{ coll *mongo.Collection }

func NewSubmissionRepoMongo(coll *mongo.Collection) SubmissionRepository {
	return &submissionRepoMongo{coll: coll}
}

func (r *submissionRepoMongo) Create(ctx context.Context, s *Submission) error {
	s.ID = uuid.New()
	s.Version = 1
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	if _, err := r.coll.InsertOne(ctx, toSubmissionDoc(s)); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (r *submissionRepoMongo) findOne(ctx context.Context, filter bson.D) (*Submission, error) {
	var doc submissionDoc
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.submission()
}

func (r *submissionRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Submission, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id.String()}})
}

func (r *submissionRepoMongo) GetByIDForOwner(ctx context.Context, id, ownerID uuid.UUID) (*Submission, error) {
	return r.findOne(ctx, bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "patient", Value: ownerID.String()},
	})
}

func (r *submissionRepoMongo) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Submission, int, error) {
	return r.list(ctx, bson.D{{Key: "patient", Value: ownerID.String()}}, limit, offset)
}

func (r *submissionRepoMongo) List(ctx context.Context, limit, offset int) ([]*Submission, int, error) {
	return r.list(ctx, bson.D{}, limit, offset)
}

func (r *submissionRepoMongo) list(ctx context.Context, filter bson.D, limit, offset int) ([]*Submission, int, error) {
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	defer cur.Close(ctx)

	var items []*Submission
	for cur.Next(ctx) {
		var doc submissionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("decode submission: %w", err)
		}
		s, err := doc.submission()
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, int(total), cur.Err()
}

func (r *submissionRepoMongo) Update(ctx context.Context, s *Submission) error {
	now := time.Now().UTC()
	set := bson.D{
		{Key: "status", Value: s.Status},
		{Key: "updatedAt", Value: now},
		{Key: "version", Value: s.Version + 1},
	}
	if s.AnnotatedImageURL != nil {
		set = append(set, bson.E{Key: "annotatedImageUrl", Value: *s.AnnotatedImageURL})
	}
	if len(s.AnnotationData) > 0 {
		set = append(set, bson.E{Key: "annotationData", Value: string(s.AnnotationData)})
	}
	if s.ReportURL != nil {
		set = append(set, bson.E{Key: "reportUrl", Value: *s.ReportURL})
	}

	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: s.ID.String()}, {Key: "version", Value: s.Version}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	s.Version++
	s.UpdatedAt = now
	return nil
}
