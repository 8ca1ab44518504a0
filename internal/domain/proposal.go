package domain

import (
	"fmt"
	"time"
)

// ProposalStatus represents the lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalStatusProcessing ProposalStatus = "processing"
	ProposalStatusComplete   ProposalStatus = "complete"
	ProposalStatusFailed     ProposalStatus = "failed"
)

// IsTerminal reports whether no further status transition can occur.
func (s ProposalStatus) IsTerminal() bool {
	return s == ProposalStatusComplete || s == ProposalStatusFailed
}

// Stage is a named checkpoint within the processing of a proposal.
type Stage string

const (
	StageUpload     Stage = "upload"
	StageEmbedding  Stage = "embedding"
	StageClustering Stage = "clustering"
	StageAnalysis   Stage = "analysis"
	StageComplete   Stage = "complete"
)

var stageOrder = []Stage{StageUpload, StageEmbedding, StageClustering, StageAnalysis, StageComplete}

// Stages returns the fixed processing order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Rank returns the position of s in the processing order, or -1 for an unknown stage.
func (s Stage) Rank() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Before reports whether s comes strictly before other.
func (s Stage) Before(other Stage) bool {
	return s.Rank() < other.Rank()
}

// Proposal is the persisted record of one submitted research proposal.
type Proposal struct {
	JobID        string         `json:"job_id" db:"job_id"`
	UserID       string         `json:"user_id" db:"user_id"`
	Title        string         `json:"title" db:"title"`
	FileName     string         `json:"file_name" db:"file_name"`
	Status       ProposalStatus `json:"status" db:"status"`
	CurrentStage Stage          `json:"current_stage" db:"current_stage"`
	Language     *string        `json:"language,omitempty" db:"language"`
	Analysis     *Analysis      `json:"analysis,omitempty" db:"-"`
	ErrorMessage *string        `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// NewProposal returns a freshly submitted proposal in the upload stage.
func NewProposal(jobID, userID, title, fileName string, now time.Time) Proposal {
	return Proposal{
		JobID:        jobID,
		UserID:       userID,
		Title:        title,
		FileName:     fileName,
		Status:       ProposalStatusProcessing,
		CurrentStage: StageUpload,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ProposalWithOwner is a proposal enriched with its owner's contact details.
type ProposalWithOwner struct {
	Proposal
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
}

// Analysis is the structured review produced for a completed proposal.
type Analysis struct {
	OverallScore      int               `json:"overall_score" bson:"overall_score"`
	Scores            SubScores         `json:"scores" bson:"scores"`
	Summary           string            `json:"summary" bson:"summary"`
	Strengths         []string          `json:"strengths" bson:"strengths"`
	Weaknesses        []string          `json:"weaknesses" bson:"weaknesses"`
	Recommendations   []string          `json:"recommendations" bson:"recommendations"`
	NoveltyAnalysis   NoveltyAnalysis   `json:"novelty_analysis" bson:"novelty_analysis"`
	FinancialAnalysis FinancialAnalysis `json:"financial_analysis" bson:"financial_analysis"`
}

// SubScores holds the per-criterion scores, each in [0,100].
type SubScores struct {
	Novelty            int `json:"novelty" bson:"novelty"`
	TechnicalMerit     int `json:"technical_merit" bson:"technical_merit"`
	Feasibility        int `json:"feasibility" bson:"feasibility"`
	FinancialViability int `json:"financial_viability" bson:"financial_viability"`
	Impact             int `json:"impact" bson:"impact"`
}

type NoveltyAnalysis struct {
	IsNovel       bool   `json:"is_novel" bson:"is_novel"`
	Justification string `json:"justification" bson:"justification"`
}

type FinancialAnalysis struct {
	IsCompliant   bool   `json:"is_compliant" bson:"is_compliant"`
	Justification string `json:"justification" bson:"justification"`
}

// Validate checks score ranges and required text.
func (a Analysis) Validate() error {
	scores := []struct {
		field string
		value int
	}{
		{"overall_score", a.OverallScore},
		{"scores.novelty", a.Scores.Novelty},
		{"scores.technical_merit", a.Scores.TechnicalMerit},
		{"scores.feasibility", a.Scores.Feasibility},
		{"scores.financial_viability", a.Scores.FinancialViability},
		{"scores.impact", a.Scores.Impact},
	}
	for _, s := range scores {
		if s.value < 0 || s.value > 100 {
			return &ValidationError{Field: s.field, Message: fmt.Sprintf("score %d out of range [0,100]", s.value)}
		}
	}
	if a.Summary == "" {
		return &ValidationError{Field: "summary", Message: "must not be empty"}
	}
	return nil
}
