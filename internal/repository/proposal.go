package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sumire/proposals/internal/domain"
)

const proposalColumns = `job_id, user_id, title, file_name, status, current_stage, language, analysis, error_message, created_at, updated_at`

// ProposalRepository handles proposal record persistence on a SQL database.
type ProposalRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewProposalRepository creates a new ProposalRepository.
func NewProposalRepository(db *sqlx.DB) *ProposalRepository {
	return &ProposalRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type proposalRow struct {
	domain.Proposal
	AnalysisJSON sql.NullString `db:"analysis"`
}

func (row proposalRow) toDomain() (domain.Proposal, error) {
	p := row.Proposal
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if row.AnalysisJSON.Valid && row.AnalysisJSON.String != "" {
		var a domain.Analysis
		if err := json.Unmarshal([]byte(row.AnalysisJSON.String), &a); err != nil {
			return domain.Proposal{}, fmt.Errorf("decode analysis for %s: %w", p.JobID, err)
		}
		p.Analysis = &a
	}
	return p, nil
}

// Create inserts a new proposal. Returns domain.ErrConflict when the job ID already exists.
func (r *ProposalRepository) Create(ctx context.Context, p domain.Proposal) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO proposals (job_id, user_id, title, file_name, status, current_stage, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id) DO NOTHING`),
		p.JobID, p.UserID, p.Title, p.FileName, string(p.Status), string(p.CurrentStage), p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert proposal %s: %w", p.JobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert proposal %s: %w", p.JobID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: proposal %s already exists", domain.ErrConflict, p.JobID)
	}
	return nil
}

// AdvanceStage sets the current stage of a processing proposal.
// It is a no-op when the record does not exist or is already terminal.
func (r *ProposalRepository) AdvanceStage(ctx context.Context, jobID string, stage domain.Stage) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE proposals SET current_stage = ?, updated_at = ?
		 WHERE job_id = ? AND status = ?`),
		string(stage), r.now(), jobID, string(domain.ProposalStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("advance proposal %s to %s: %w", jobID, stage, err)
	}
	return nil
}

// SetLanguage records the detected language of a proposal's text.
func (r *ProposalRepository) SetLanguage(ctx context.Context, jobID, language string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE proposals SET language = ?, updated_at = ? WHERE job_id = ?`),
		language, r.now(), jobID,
	)
	if err != nil {
		return fmt.Errorf("set language for proposal %s: %w", jobID, err)
	}
	return nil
}

// Complete marks a proposal complete and stores its analysis.
// Repeating Complete overwrites the analysis; completing a failed proposal returns domain.ErrConflict.
func (r *ProposalRepository) Complete(ctx context.Context, jobID string, analysis domain.Analysis) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("encode analysis for %s: %w", jobID, err)
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE proposals
		 SET status = ?, current_stage = ?, analysis = ?, error_message = NULL, updated_at = ?
		 WHERE job_id = ? AND status IN (?, ?)`),
		string(domain.ProposalStatusComplete), string(domain.StageComplete), string(payload), r.now(),
		jobID, string(domain.ProposalStatusProcessing), string(domain.ProposalStatusComplete),
	)
	if err != nil {
		return fmt.Errorf("complete proposal %s: %w", jobID, err)
	}
	return r.checkTerminalWrite(ctx, res, jobID, domain.ProposalStatusComplete)
}

// Fail marks a proposal failed with the given message. The current stage is left unchanged.
// Repeating Fail overwrites the message; failing a complete proposal returns domain.ErrConflict.
func (r *ProposalRepository) Fail(ctx context.Context, jobID, message string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE proposals
		 SET status = ?, error_message = ?, analysis = NULL, updated_at = ?
		 WHERE job_id = ? AND status IN (?, ?)`),
		string(domain.ProposalStatusFailed), message, r.now(),
		jobID, string(domain.ProposalStatusProcessing), string(domain.ProposalStatusFailed),
	)
	if err != nil {
		return fmt.Errorf("fail proposal %s: %w", jobID, err)
	}
	return r.checkTerminalWrite(ctx, res, jobID, domain.ProposalStatusFailed)
}

func (r *ProposalRepository) checkTerminalWrite(ctx context.Context, res sql.Result, jobID string, want domain.ProposalStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark proposal %s %s: %w", jobID, want, err)
	}
	if n > 0 {
		return nil
	}

	var current domain.ProposalStatus
	err = r.db.GetContext(ctx, &current, r.db.Rebind(`SELECT status FROM proposals WHERE job_id = ?`), jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read status of proposal %s: %w", jobID, err)
	}
	return fmt.Errorf("%w: proposal %s is already %s", domain.ErrConflict, jobID, current)
}

// GetByJobID retrieves a proposal by its job ID.
func (r *ProposalRepository) GetByJobID(ctx context.Context, jobID string) (*domain.Proposal, error) {
	var row proposalRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(
		`SELECT `+proposalColumns+` FROM proposals WHERE job_id = ?`), jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find proposal %s: %w", jobID, err)
	}
	p, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListByUser returns a user's proposals, most recent first.
func (r *ProposalRepository) ListByUser(ctx context.Context, userID string) ([]domain.Proposal, error) {
	return r.list(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE user_id = ? ORDER BY created_at DESC, job_id DESC`, userID)
}

// ListAll returns every proposal, most recent first.
func (r *ProposalRepository) ListAll(ctx context.Context) ([]domain.Proposal, error) {
	return r.list(ctx,
		`SELECT ` + proposalColumns + ` FROM proposals ORDER BY created_at DESC, job_id DESC`)
}

// ListStale returns processing proposals whose last update is older than before.
func (r *ProposalRepository) ListStale(ctx context.Context, before time.Time) ([]domain.Proposal, error) {
	return r.list(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC`,
		string(domain.ProposalStatusProcessing), before.UTC())
}

// DeleteAll removes every proposal and returns how many were deleted.
func (r *ProposalRepository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM proposals`)
	if err != nil {
		return 0, fmt.Errorf("delete proposals: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete proposals: %w", err)
	}
	return n, nil
}

func (r *ProposalRepository) list(ctx context.Context, query string, args ...any) ([]domain.Proposal, error) {
	var rows []proposalRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	out := make([]domain.Proposal, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
