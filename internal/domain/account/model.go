package account

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dentrecord/dentrecord/internal/platform/auth"
)

// User is a patient or administrator account. Email is stored lower-cased.
type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	PatientID    *string   `json:"patientId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Identity converts u into the request identity used by the auth middleware.
func (u *User) Identity() *auth.Identity {
	id := &auth.Identity{
		UserID: u.ID,
		Role:   u.Role,
		Name:   u.Name,
		Email:  u.Email,
	}
	if u.PatientID != nil {
		id.PatientID = *u.PatientID
	}
	return id
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
