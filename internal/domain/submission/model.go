package submission

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Submission is a patient's uploaded dental image and everything derived from
// it. Name, PatientID and Email are snapshots of the patient's identity at
// upload time.
type Submission struct {
	ID                uuid.UUID       `json:"id"`
	PatientUserID     uuid.UUID       `json:"patientUserId"`
	Name              string          `json:"name"`
	PatientID         string          `json:"patientId"`
	Email             string          `json:"email"`
	Note              string          `json:"note"`
	ImageURL          string          `json:"imageUrl"`
	AnnotatedImageURL *string         `json:"annotatedImageUrl"`
	AnnotationData    json.RawMessage `json:"annotationData,omitempty"`
	ReportURL         *string         `json:"reportUrl"`
	Status            string          `json:"status"`
	Version           int             `json:"version"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func (s *Submission) HasAnnotatedImage() bool {
	return s.AnnotatedImageURL != nil && *s.AnnotatedImageURL != ""
}

// File is an uploaded file part.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}
