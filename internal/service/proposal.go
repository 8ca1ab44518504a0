package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/sumire/proposals/internal/domain"
	"github.com/sumire/proposals/internal/extract"
)

const (
	unknownUserName  = "Unknown User"
	unknownUserEmail = "Unknown Email"
	msgNotStarted    = "Processing could not be started."
	msgCleared       = "Proposal was removed."
)

// JobRunner accepts jobs for background processing.
type JobRunner interface {
	Start(job Job) error
	Cancel(jobID, message string) bool
	Running() []string
}

// ProposalConfig holds submission limits.
type ProposalConfig struct {
	MaxUploadBytes int64
}

// ProposalService is the boundary between the HTTP layer and the proposal pipeline.
type ProposalService struct {
	store     ProposalStore
	runner    JobRunner
	directory *Directory
	cfg       ProposalConfig
	now       func() time.Time
}

// NewProposalService creates a new ProposalService.
func NewProposalService(store ProposalStore, runner JobRunner, directory *Directory, cfg ProposalConfig) *ProposalService {
	return &ProposalService{
		store:     store,
		runner:    runner,
		directory: directory,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SubmitRequest is one uploaded proposal.
type SubmitRequest struct {
	OwnerID  string
	Title    string
	FileName string
	Content  []byte
}

// StatusView is the polling response for a job.
type StatusView struct {
	JobID        string                `json:"job_id"`
	Status       domain.ProposalStatus `json:"status"`
	CurrentStage domain.Stage          `json:"current_stage"`
	ErrorMessage *string               `json:"error_message,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// NewJobID returns an identifier of the form job_<unix millis>_<owner>_<8 hex>.
func NewJobID(ownerID string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("job_%d_%s_%s", now.UnixMilli(), ownerID, suffix)
}

// Submit validates the upload, records it and starts processing. It returns as
// soon as the record exists; the pipeline outcome is observed through Status.
func (s *ProposalService) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := s.validateSubmit(&req); err != nil {
		return "", err
	}

	now := s.now()
	jobID := NewJobID(req.OwnerID, now)
	if err := s.store.Create(ctx, domain.NewProposal(jobID, req.OwnerID, req.Title, req.FileName, now)); err != nil {
		return "", fmt.Errorf("create proposal: %w", err)
	}

	if err := s.runner.Start(Job{JobID: jobID, Title: req.Title, Content: req.Content}); err != nil {
		if ferr := s.store.Fail(context.WithoutCancel(ctx), jobID, msgNotStarted); ferr != nil {
			slog.Error("failed to mark unstarted proposal", "job_id", jobID, "error", ferr)
		}
		return "", fmt.Errorf("start proposal %s: %w", jobID, err)
	}

	slog.Info("proposal submitted", "job_id", jobID, "user_id", req.OwnerID, "bytes", len(req.Content))
	return jobID, nil
}

func (s *ProposalService) validateSubmit(req *SubmitRequest) error {
	req.Title = strings.TrimSpace(req.Title)
	req.FileName = strings.TrimSpace(req.FileName)

	switch {
	case req.OwnerID == "":
		return domain.ErrUnauthorized
	case req.Title == "":
		return &domain.ValidationError{Field: "title", Message: "is required"}
	case req.FileName == "" || len(req.Content) == 0:
		return &domain.ValidationError{Field: "file", Message: "is required"}
	case !strings.HasSuffix(strings.ToLower(req.FileName), ".pdf"):
		return &domain.ValidationError{Field: "file", Message: "only PDF files are accepted"}
	case s.cfg.MaxUploadBytes > 0 && int64(len(req.Content)) > s.cfg.MaxUploadBytes:
		return &domain.ValidationError{
			Field: "file",
			Message: fmt.Sprintf("file is %s; the limit is %s",
				humanize.IBytes(uint64(len(req.Content))), humanize.IBytes(uint64(s.cfg.MaxUploadBytes))),
		}
	case !extract.IsPDF(req.Content):
		return &domain.ValidationError{Field: "file", Message: "file is not a PDF document"}
	}
	return nil
}

// Status returns the progress of a job visible to the requester.
func (s *ProposalService) Status(ctx context.Context, requester Claims, jobID string) (*StatusView, error) {
	p, err := s.visible(ctx, requester, jobID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		JobID:        p.JobID,
		Status:       p.Status,
		CurrentStage: p.CurrentStage,
		ErrorMessage: p.ErrorMessage,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}, nil
}

// Result returns the completed record. A processing job yields domain.ErrNotReady
// and a failed one a *domain.JobFailedError carrying the persisted message.
func (s *ProposalService) Result(ctx context.Context, requester Claims, jobID string) (*domain.Proposal, error) {
	p, err := s.visible(ctx, requester, jobID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case domain.ProposalStatusComplete:
		return p, nil
	case domain.ProposalStatusFailed:
		msg := ""
		if p.ErrorMessage != nil {
			msg = *p.ErrorMessage
		}
		return nil, &domain.JobFailedError{JobID: p.JobID, Message: msg}
	default:
		return nil, domain.ErrNotReady
	}
}

// ListMine returns the requester's proposals, newest first.
func (s *ProposalService) ListMine(ctx context.Context, requester Claims) ([]domain.Proposal, error) {
	out, err := s.store.ListByUser(ctx, requester.UserID)
	if err != nil {
		return nil, fmt.Errorf("list proposals for %s: %w", requester.UserID, err)
	}
	return out, nil
}

// ListAll returns every proposal with its owner's name and email. Reviewers only.
func (s *ProposalService) ListAll(ctx context.Context, requester Claims) ([]domain.ProposalWithOwner, error) {
	if requester.Role != domain.RoleReviewer {
		return nil, domain.ErrForbidden
	}
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	return s.enrich(ctx, all)
}

// Export renders every proposal as an XLSX workbook. Reviewers only.
func (s *ProposalService) Export(ctx context.Context, requester Claims) ([]byte, error) {
	rows, err := s.ListAll(ctx, requester)
	if err != nil {
		return nil, err
	}
	return ExportXLSX(rows)
}

// Clear deletes every proposal and cancels jobs still running. Reviewers only.
func (s *ProposalService) Clear(ctx context.Context, requester Claims) (int64, error) {
	if requester.Role != domain.RoleReviewer {
		return 0, domain.ErrForbidden
	}
	n, err := s.store.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear proposals: %w", err)
	}
	for _, id := range s.runner.Running() {
		s.runner.Cancel(id, msgCleared)
	}
	slog.Warn("proposals cleared", "user_id", requester.UserID, "deleted", n)
	return n, nil
}

func (s *ProposalService) visible(ctx context.Context, requester Claims, jobID string) (*domain.Proposal, error) {
	p, err := s.store.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if requester.Role != domain.RoleReviewer && p.UserID != requester.UserID {
		return nil, domain.ErrForbidden
	}
	return p, nil
}

func (s *ProposalService) enrich(ctx context.Context, proposals []domain.Proposal) ([]domain.ProposalWithOwner, error) {
	cache := make(map[string]*domain.User)
	out := make([]domain.ProposalWithOwner, 0, len(proposals))
	for _, p := range proposals {
		owner, seen := cache[p.UserID]
		if !seen {
			u, err := s.directory.Lookup(ctx, p.UserID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("lookup owner %s: %w", p.UserID, err)
			}
			owner = u
			cache[p.UserID] = u
		}
		row := domain.ProposalWithOwner{Proposal: p, UserName: unknownUserName, UserEmail: unknownUserEmail}
		if owner != nil {
			row.UserName = owner.Name
			row.UserEmail = owner.Email
		}
		out = append(out, row)
	}
	return out, nil
}
