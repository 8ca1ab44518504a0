package handler

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sumire/proposals/internal/domain"
	"github.com/sumire/proposals/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ProposalHandler handles proposal submission and review endpoints.
type ProposalHandler struct {
	proposals      *service.ProposalService
	maxUploadBytes int64
}

// NewProposalHandler creates a new ProposalHandler.
func NewProposalHandler(proposals *service.ProposalService, maxUploadBytes int64) *ProposalHandler {
	return &ProposalHandler{proposals: proposals, maxUploadBytes: maxUploadBytes}
}

type submitRequest struct {
	Title string `form:"title" validate:"required,max=300"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Submit accepts a multipart upload with "file" and "title" and starts processing.
func (h *ProposalHandler) Submit(c echo.Context) error {
	claims, ok := GetClaims(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	req := submitRequest{Title: c.FormValue("title")}
	if err := c.Validate(&req); err != nil {
		return err
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return &domain.ValidationError{Field: "file", Message: "is required"}
	}
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	// One byte over the limit is enough for the service to reject the upload.
	content, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	jobID, err := h.proposals.Submit(c.Request().Context(), service.SubmitRequest{
		OwnerID:  claims.UserID,
		Title:    req.Title,
		FileName: fh.Filename,
		Content:  content,
	})
	if err != nil {
		return err
	}
	return JSON(c, http.StatusAccepted, submitResponse{JobID: jobID})
}

// Status returns the processing status of a job.
func (h *ProposalHandler) Status(c echo.Context) error {
	claims, ok := GetClaims(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	view, err := h.proposals.Status(c.Request().Context(), claims, c.Param("jobId"))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, view)
}

// Result returns the full record of a completed job.
func (h *ProposalHandler) Result(c echo.Context) error {
	claims, ok := GetClaims(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	p, err := h.proposals.Result(c.Request().Context(), claims, c.Param("jobId"))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, p)
}

// ListMine returns the caller's proposals.
func (h *ProposalHandler) ListMine(c echo.Context) error {
	claims, ok := GetClaims(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	list, err := h.proposals.ListMine(c.Request().Context(), claims)
	if err != nil {
		return err
	}
	return JSONList(c, http.StatusOK, list, ListMeta{Total: len(list)})
}

// ListAll returns every proposal with owner details.
func (h *ProposalHandler) ListAll(c echo.Context) error {
	claims, ok := GetClaims(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	list, err := h.proposals.ListAll(c.Request().Context(), claims)
	if err != nil {
		return err
	}
	return JSONList(c, http.StatusOK, list, ListMeta{Total: len(list)})
}

// Export downloads every proposal as an XLSX workbook.
func (h *ProposalHandler) Export(c echo.Context) error {
	claims, ok := GetClaims(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	data, err := h.proposals.Export(c.Request().Context(), claims)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("proposals-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, xlsxContentType, data)
}

// Clear deletes every proposal.
func (h *ProposalHandler) Clear(c echo.Context) error {
	claims, ok := GetClaims(c)
	if !ok {
		return domain.ErrUnauthorized
	}

	n, err := h.proposals.Clear(c.Request().Context(), claims)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]int64{"deleted_count": n})
}
