package account

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dentrecord/dentrecord/internal/platform/apierr"
	"github.com/dentrecord/dentrecord/internal/platform/auth"
)

// CookieConfig controls the session cookie set on login.
type CookieConfig struct {
	Name   string
	Secure bool
}

type Handler struct {
	svc    *Service
	issuer *auth.TokenIssuer
	cookie CookieConfig
}

func NewHandler(svc *Service, issuer *auth.TokenIssuer, cookie CookieConfig) *Handler {
	if cookie.Name == "" {
		cookie.Name = "token"
	}
	return &Handler{svc: svc, issuer: issuer, cookie: cookie}
}

// RegisterRoutes mounts the auth endpoints. authn is the credential verifier
// guarding /me.
func (h *Handler) RegisterRoutes(api *echo.Group, authn echo.MiddlewareFunc) {
	g := api.Group("/auth")
	g.POST("/register", h.Register)
	g.POST("/login", h.Login)
	g.POST("/logout", h.Logout)

	me := g.Group("", authn, auth.RequireRole(auth.RolePatient, auth.RoleAdmin))
	me.GET("/me", h.Me)
}

type registerRequest struct {
	Name      string `json:"name" validate:"required,max=255"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	PatientID string `json:"patientId" validate:"required,max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	Message   string     `json:"message"`
	User      *User      `json:"user"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apierr.Validation("malformed request body")
	}
	return c.Validate(req)
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	u, err := h.svc.Register(c.Request().Context(), RegisterInput{
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		PatientID: req.PatientID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sessionResponse{Message: "registration successful", User: u})
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	u, err := h.svc.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	token, exp, err := h.issuer.Issue(u.ID)
	if err != nil {
		return apierr.Unexpected(err)
	}

	c.SetCookie(&http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, sessionResponse{Message: "login successful", User: u, Token: token, ExpiresAt: &exp})
}

func (h *Handler) Logout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *Handler) Me(c echo.Context) error {
	u, err := h.svc.GetByID(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessionResponse{Message: "current user", User: u})
}
