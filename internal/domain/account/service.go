package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/dentrecord/dentrecord/internal/platform/apierr"
	"github.com/dentrecord/dentrecord/internal/platform/auth"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown email or a
// wrong password.
var ErrInvalidCredentials = errors.New("invalid email or password")

type Service struct {
	repo    UserRepository
	timeout time.Duration
	cost    int
}

func NewService(repo UserRepository, timeout time.Duration) *Service {
	return &Service{repo: repo, timeout: timeout, cost: bcrypt.DefaultCost}
}

// SetHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) SetHashCost(cost int) { s.cost = cost }

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// RegisterInput carries a patient self-registration.
type RegisterInput struct {
	Name      string
	Email     string
	Password  string
	PatientID string
}

// Register creates a patient account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if in.PatientID == "" {
		return nil, apierr.Validation("patientId is required for patients",
			apierr.FieldError{Field: "patientId", Rule: "required", Message: "patientId is required"})
	}
	pid := in.PatientID
	return s.create(ctx, in.Name, in.Email, in.Password, auth.RolePatient, &pid)
}

// CreateAdmin creates an administrator account.
func (s *Service) CreateAdmin(ctx context.Context, name, email, password string) (*User, error) {
	return s.create(ctx, name, email, password, auth.RoleAdmin, nil)
}

func (s *Service) create(ctx context.Context, name, email, password, role string, patientID *string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, apierr.Validation("password is too long",
				apierr.FieldError{Field: "password", Rule: "max", Message: "password must be at most 72 bytes"})
		}
		return nil, apierr.Unexpected(err)
	}

	u := &User{
		Name:         name,
		Email:        NormalizeEmail(email),
		PasswordHash: string(hash),
		Role:         role,
		PatientID:    patientID,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, apierr.Conflict("email already registered")
		}
		return nil, apierr.External("failed to create user", err)
	}

	log.Info().Str("user_id", u.ID.String()).Str("role", u.Role).Msg("user created")
	return u, nil
}

// Authenticate checks an email and password pair. An unknown email and a
// wrong password both return ErrInvalidCredentials as an Unauthenticated error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidCredentials()
		}
		return nil, apierr.External("failed to look up user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, invalidCredentials()
	}
	return u, nil
}

func invalidCredentials() error {
	return &apierr.Error{Kind: apierr.KindUnauthenticated, Message: ErrInvalidCredentials.Error(), Err: ErrInvalidCredentials}
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apierr.NotFound("user not found")
		}
		return nil, apierr.External("failed to load user", err)
	}
	return u, nil
}

// ResolveIdentity implements auth.IdentityResolver.
func (s *Service) ResolveIdentity(ctx context.Context, userID uuid.UUID) (*auth.Identity, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, auth.ErrUnknownSubject
		}
		return nil, err
	}
	return u.Identity(), nil
}
