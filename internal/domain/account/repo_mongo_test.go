package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestUserRepoMongo_Create(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		repo := NewUserRepoMongo(mt.Coll)

		u := &User{Name: "Jane", Email: "jane@x.com", PasswordHash: "h", Role: "patient"}
		if err := repo.Create(context.Background(), u); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if u.ID == uuid.Nil || u.CreatedAt.IsZero() {
			t.Errorf("expected ID and timestamps to be assigned, got %+v", u)
		}
	})

	mt.Run("duplicate email", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))
		repo := NewUserRepoMongo(mt.Coll)

		err := repo.Create(context.Background(), &User{Email: "jane@x.com"})
		if !errors.Is(err, ErrEmailTaken) {
			t.Fatalf("expected ErrEmailTaken, got %v", err)
		}
	})
}

func TestUserRepoMongo_GetByEmail(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("found", func(mt *mtest.T) {
		id := uuid.New()
		ns := mt.DB.Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: id.String()},
			{Key: "name", Value: "Jane Doe"},
			{Key: "email", Value: "jane@x.com"},
			{Key: "password", Value: "hash"},
			{Key: "role", Value: "patient"},
			{Key: "patientId", Value: "P-100"},
			{Key: "createdAt", Value: time.Now().UTC()},
			{Key: "updatedAt", Value: time.Now().UTC()},
		}))
		repo := NewUserRepoMongo(mt.Coll)

		u, err := repo.GetByEmail(context.Background(), "Jane@X.com")
		if err != nil {
			t.Fatalf("GetByEmail: %v", err)
		}
		if u.ID != id || u.PatientID == nil || *u.PatientID != "P-100" {
			t.Errorf("unexpected user %+v", u)
		}
	})

	mt.Run("not found", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))
		repo := NewUserRepoMongo(mt.Coll)

		if _, err := repo.GetByID(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
