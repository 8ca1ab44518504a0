package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sumire/proposals/internal/analysis"
	"github.com/sumire/proposals/internal/domain"
	"github.com/sumire/proposals/internal/repository"
)

type extractorFunc func(ctx context.Context, content []byte) (string, error)

func (f extractorFunc) ExtractText(ctx context.Context, content []byte) (string, error) {
	return f(ctx, content)
}

type analyzerFunc func(ctx context.Context, req analysis.Request) (*domain.Analysis, error)

func (f analyzerFunc) Analyze(ctx context.Context, req analysis.Request) (*domain.Analysis, error) {
	return f(ctx, req)
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func longText() string {
	return strings.Repeat("Methane capture pilot in underground coal mines. ", 5)
}

func sampleAnalysis() *domain.Analysis {
	return &domain.Analysis{
		OverallScore:    68,
		Scores:          domain.SubScores{Novelty: 70, TechnicalMerit: 65, Feasibility: 72, FinancialViability: 50, Impact: 80},
		Summary:         "Pilot for methane capture.",
		Strengths:       []string{"safety focus"},
		Weaknesses:      []string{"budget detail"},
		Recommendations: []string{"add timeline"},
	}
}

func staticExtractor(text string) Extractor {
	return extractorFunc(func(ctx context.Context, content []byte) (string, error) { return text, nil })
}

func staticAnalyzer(a *domain.Analysis) Analyzer {
	return analyzerFunc(func(ctx context.Context, req analysis.Request) (*domain.Analysis, error) { return a, nil })
}

// blockingAnalyzer waits until its job is cancelled.
func blockingAnalyzer() Analyzer {
	return analyzerFunc(func(ctx context.Context, req analysis.Request) (*domain.Analysis, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func newTestStore(t *testing.T) *repository.ProposalRepository {
	t.Helper()
	db, err := repository.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.Migrate(context.Background(), db))
	return repository.NewProposalRepository(db)
}

func newTestUserStore(t *testing.T) *repository.UserRepository {
	t.Helper()
	db, err := repository.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.Migrate(context.Background(), db))
	return repository.NewUserRepository(db)
}

func newTestCoordinator(t *testing.T, store ProposalStore, ex Extractor, an Analyzer, cfg CoordinatorConfig) *Coordinator {
	t.Helper()
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.MinContentChars == 0 {
		cfg.MinContentChars = 100
	}
	c := NewCoordinator(store, ex, an, cfg, discardLogger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func startJob(t *testing.T, store ProposalStore, c *Coordinator, jobID string, content string) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), domain.NewProposal(jobID, "user_123", "Title "+jobID, jobID+".pdf", time.Now().UTC())))
	require.NoError(t, c.Start(Job{JobID: jobID, Title: "Title " + jobID, Content: []byte(content)}))
}

func waitFor(t *testing.T, store ProposalStore, jobID string, cond func(p *domain.Proposal) bool) *domain.Proposal {
	t.Helper()
	var last *domain.Proposal
	require.Eventually(t, func() bool {
		p, err := store.GetByJobID(context.Background(), jobID)
		if err != nil {
			return false
		}
		last = p
		return cond(p)
	}, 5*time.Second, 10*time.Millisecond)
	return last
}

func waitTerminal(t *testing.T, store ProposalStore, jobID string) *domain.Proposal {
	t.Helper()
	return waitFor(t, store, jobID, func(p *domain.Proposal) bool { return p.Status.IsTerminal() })
}

func waitStage(t *testing.T, store ProposalStore, jobID string, stage domain.Stage) *domain.Proposal {
	t.Helper()
	return waitFor(t, store, jobID, func(p *domain.Proposal) bool { return p.CurrentStage == stage })
}
