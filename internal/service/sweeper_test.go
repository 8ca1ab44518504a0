package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/proposals/internal/domain"
)

func TestNewSweeper_RejectsBadSchedule(t *testing.T) {
	store := newTestStore(t)
	c := newTestCoordinator(t, store, staticExtractor(longText()), staticAnalyzer(sampleAnalysis()), CoordinatorConfig{})

	_, err := NewSweeper(c, "every now and then", discardLogger)
	assert.Error(t, err)
}

func TestSweeper_FailsStaleRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	c := newTestCoordinator(t, store, staticExtractor(longText()), staticAnalyzer(sampleAnalysis()), CoordinatorConfig{
		StaleTimeout: time.Minute,
	})
	require.NoError(t, store.Create(ctx, domain.NewProposal("job_old", "user_123", "Old", "old.pdf", time.Now().UTC().Add(-time.Hour))))

	s, err := NewSweeper(c, "@every 1s", discardLogger)
	require.NoError(t, err)
	s.Start()
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	p := waitFor(t, store, "job_old", func(p *domain.Proposal) bool { return p.Status.IsTerminal() })
	assert.Equal(t, domain.ProposalStatusFailed, p.Status)
	require.NotNil(t, p.ErrorMessage)
	assert.Equal(t, "Processing timed out after 1m0s without progress.", *p.ErrorMessage)
}
