package submission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func submissionDocD(id, owner uuid.UUID, status string, version int) bson.D {
	now := time.Now().UTC()
	return bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "patient", Value: owner.String()},
		{Key: "name", Value: "Jane Doe"},
		{Key: "patientId", Value: "P-100"},
		{Key: "email", Value: "jane@x.com"},
		{Key: "note", Value: ""},
		{Key: "imageUrl", Value: "http://blobs.test/blobs/1"},
		{Key: "annotationData", Value: `{"k":1}`},
		{Key: "status", Value: status},
		{Key: "version", Value: version},
		{Key: "createdAt", Value: now},
		{Key: "updatedAt", Value: now},
	}
}

func TestSubmissionRepoMongo_Create(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("assigns id and version", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		repo := NewSubmissionRepoMongo(mt.Coll)

		s := &Submission{PatientUserID: uuid.New(), Name: "Jane", Status: StatusUploaded}
		if err := repo.Create(context.Background(), s); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if s.ID == uuid.Nil || s.Version != 1 {
			t.Errorf("unexpected submission %+v", s)
		}
	})
}

func TestSubmissionRepoMongo_GetByIDForOwner(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("decodes document", func(mt *mtest.T) {
		id, owner := uuid.New(), uuid.New()
		ns := mt.DB.Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, submissionDocD(id, owner, StatusAnnotated, 2)))
		repo := NewSubmissionRepoMongo(mt.Coll)

		s, err := repo.GetByIDForOwner(context.Background(), id, owner)
		if err != nil {
			t.Fatalf("GetByIDForOwner: %v", err)
		}
		if s.ID != id || s.PatientUserID != owner || s.Version != 2 || string(s.AnnotationData) != `{"k":1}` {
			t.Errorf("unexpected submission %+v", s)
		}
	})

	mt.Run("other owner is not found", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		repo := NewSubmissionRepoMongo(mt.Coll)

		if _, err := repo.GetByIDForOwner(context.Background(), uuid.New(), uuid.New()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSubmissionRepoMongo_List(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("counts and pages", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + mt.Coll.Name()
		owner := uuid.New()
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{{Key: "n", Value: int32(2)}}),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
				submissionDocD(uuid.New(), owner, StatusUploaded, 1),
				submissionDocD(uuid.New(), owner, StatusReported, 3),
			),
		)
		repo := NewSubmissionRepoMongo(mt.Coll)

		items, total, err := repo.ListByOwner(context.Background(), owner, 20, 0)
		if err != nil {
			t.Fatalf("ListByOwner: %v", err)
		}
		if total != 2 || len(items) != 2 {
			t.Errorf("expected 2 items, got total=%d len=%d", total, len(items))
		}
	})
}

func TestSubmissionRepoMongo_Update(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("increments version", func(mt *mtest.T) {
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 1}, {Key: "nModified", Value: 1}})
		repo := NewSubmissionRepoMongo(mt.Coll)

		url := "http://blobs.test/blobs/2"
		s := &Submission{ID: uuid.New(), Status: StatusAnnotated, AnnotatedImageURL: &url, Version: 1}
		if err := repo.Update(context.Background(), s); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if s.Version != 2 {
			t.Errorf("expected version 2, got %d", s.Version)
		}
	})

	mt.Run("stale version conflicts", func(mt *mtest.T) {
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 0}, {Key: "nModified", Value: 0}})
		repo := NewSubmissionRepoMongo(mt.Coll)

		s := &Submission{ID: uuid.New(), Status: StatusAnnotated, Version: 1}
		if err := repo.Update(context.Background(), s); !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
		if s.Version != 1 {
			t.Errorf("version must not change on conflict, got %d", s.Version)
		}
	})
}
