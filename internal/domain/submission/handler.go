package submission

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dentrecord/dentrecord/internal/platform/apierr"
	"github.com/dentrecord/dentrecord/internal/platform/auth"
	"github.com/dentrecord/dentrecord/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the patient and admin submission endpoints. authn is
// the credential verifier; each group then admits a single role.
func (h *Handler) RegisterRoutes(api *echo.Group, authn echo.MiddlewareFunc) {
	patient := api.Group("/patient/submissions", authn, auth.RequireRole(auth.RolePatient))
	patient.POST("", h.Upload)
	patient.GET("", h.ListOwn)
	patient.GET("/:id", h.GetOwn)
	patient.PUT("/:id/annotated-image", h.SaveAnnotatedImage)
	patient.POST("/:id/report", h.GeneratePatientReport)

	admin := api.Group("/admin/submissions", authn, auth.RequireRole(auth.RoleAdmin))
	admin.GET("", h.List)
	admin.GET("/:id", h.Get)
	admin.PUT("/:id/annotate", h.Annotate)
	admin.POST("/:id/report", h.GenerateAdminReport)
}

type uploadRequest struct {
	Name      string `form:"name" validate:"required,max=255"`
	PatientID string `form:"patientId" validate:"required,max=100"`
	Email     string `form:"email" validate:"required,email,max=255"`
	Note      string `form:"note" validate:"max=5000"`
}

type annotateRequest struct {
	AnnotationData string `form:"annotationData" validate:"required,jsonobject"`
}

type submissionResponse struct {
	Message    string      `json:"message"`
	Submission *Submission `json:"submission"`
	ReportURL  string      `json:"reportUrl,omitempty"`
}

func (h *Handler) Upload(c echo.Context) error {
	var req uploadRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation("malformed multipart form")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	image, err := formFile(c, "image")
	if err != nil {
		return err
	}

	sub, err := h.svc.Upload(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()), UploadInput{
		Name:      req.Name,
		PatientID: req.PatientID,
		Email:     req.Email,
		Note:      req.Note,
		Image:     image,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, submissionResponse{Message: "submission uploaded", Submission: sub})
}

func (h *Handler) ListOwn(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForOwner(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listResponse(c, items, total, pg))
}

func (h *Handler) GetOwn(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sub, err := h.svc.GetForOwner(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, submissionResponse{Message: "submission retrieved", Submission: sub})
}

func (h *Handler) SaveAnnotatedImage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	image, err := formFile(c, "image")
	if err != nil {
		return err
	}
	sub, err := h.svc.SaveAnnotatedImage(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()), image)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, submissionResponse{Message: "annotated image saved", Submission: sub})
}

func (h *Handler) GeneratePatientReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sub, err := h.svc.GeneratePatientReport(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, submissionResponse{Message: "report generated", Submission: sub, ReportURL: *sub.ReportURL})
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listResponse(c, items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sub, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, submissionResponse{Message: "submission retrieved", Submission: sub})
}

func (h *Handler) Annotate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req annotateRequest
	if err := c.Bind(&req); err != nil {
		return apierr.Validation("malformed multipart form")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	image, err := formFile(c, "annotatedImage")
	if err != nil {
		return err
	}

	sub, err := h.svc.Annotate(c.Request().Context(), id, AnnotateInput{
		AnnotationData: json.RawMessage(req.AnnotationData),
		Image:          image,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, submissionResponse{Message: "submission annotated", Submission: sub})
}

func (h *Handler) GenerateAdminReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sub, err := h.svc.GenerateAdminReport(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, submissionResponse{Message: "report generated", Submission: sub, ReportURL: *sub.ReportURL})
}

func listResponse(c echo.Context, items []*Submission, total int, pg pagination.Params) *pagination.Response {
	if items == nil {
		items = []*Submission{}
	}
	return pagination.NewResponse("submissions retrieved", items, total, pg).WithLinks(c.Request().URL.Path, pg)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apierr.Validation("invalid submission id",
			apierr.FieldError{Field: "id", Rule: "uuid", Message: "id must be a UUID"})
	}
	return id, nil
}

func formFile(c echo.Context, field string) (File, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return File{}, apierr.Validation(field+" is required",
				apierr.FieldError{Field: field, Rule: "required", Message: field + " is required"})
		}
		return File{}, apierr.Validation("malformed multipart form")
	}

	src, err := fh.Open()
	if err != nil {
		return File{}, apierr.Unexpected(err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return File{}, apierr.Validation("failed to read " + field)
	}
	return File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Data:        data,
	}, nil
}
