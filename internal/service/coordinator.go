package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/sumire/proposals/internal/analysis"
	"github.com/sumire/proposals/internal/domain"
	"github.com/sumire/proposals/internal/extract"
)

// Persisted failure messages.
const (
	MsgExtractionFailed    = "Failed to extract text from the document."
	MsgAnalysisFailed      = "Failed to analyze proposal."
	MsgUnexpectedFailure   = "Processing failed unexpectedly."
	MsgCancelled           = "Processing was cancelled."
	MsgInterrupted         = "Processing was interrupted before completion."
	msgInsufficientContent = "Insufficient content: extracted text has %d characters, at least %d are required."
	msgStale               = "Processing timed out after %s without progress."
)

// ErrCoordinatorClosed is returned by Start after Shutdown.
var ErrCoordinatorClosed = errors.New("coordinator is shut down")

// ProposalStore is the persistence the proposal pipeline depends on.
type ProposalStore interface {
	Create(ctx context.Context, p domain.Proposal) error
	AdvanceStage(ctx context.Context, jobID string, stage domain.Stage) error
	SetLanguage(ctx context.Context, jobID, language string) error
	Complete(ctx context.Context, jobID string, a domain.Analysis) error
	Fail(ctx context.Context, jobID, message string) error
	GetByJobID(ctx context.Context, jobID string) (*domain.Proposal, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Proposal, error)
	ListAll(ctx context.Context) ([]domain.Proposal, error)
	ListStale(ctx context.Context, before time.Time) ([]domain.Proposal, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// Extractor turns an uploaded document into plain text.
type Extractor interface {
	ExtractText(ctx context.Context, content []byte) (string, error)
}

// Analyzer produces the structured review of a proposal.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*domain.Analysis, error)
}

// Job is one accepted submission handed to the coordinator.
type Job struct {
	JobID   string
	Title   string
	Content []byte
}

// CoordinatorConfig tunes the processing pipeline.
type CoordinatorConfig struct {
	MinContentChars int
	ClusteringDelay time.Duration
	MaxConcurrent   int
	StaleTimeout    time.Duration
	// DetectLanguage is optional; an empty result is not persisted.
	DetectLanguage func(text string) string
}

type task struct {
	cancel context.CancelFunc
	reason string
}

// Coordinator runs each submitted job in its own goroutine and keeps a handle
// per running job so it can be cancelled, capped and drained on shutdown.
type Coordinator struct {
	store     ProposalStore
	extractor Extractor
	analyzer  Analyzer
	cfg       CoordinatorConfig
	sem       *semaphore.Weighted
	log       *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	wg     sync.WaitGroup
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(store ProposalStore, extractor Extractor, analyzer Analyzer, cfg CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     store,
		extractor: extractor,
		analyzer:  analyzer,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
		tasks:     make(map[string]*task),
	}
}

// Start registers the job and processes it in the background. It never blocks on processing.
func (c *Coordinator) Start(job Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCoordinatorClosed
	}
	if _, ok := c.tasks[job.JobID]; ok {
		return fmt.Errorf("%w: job %s is already running", domain.ErrConflict, job.JobID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.tasks[job.JobID] = &task{cancel: cancel}
	c.wg.Add(1)
	go c.run(ctx, job)
	return nil
}

// Cancel stops a running job; the job is failed with message. It reports whether the job was running.
func (c *Coordinator) Cancel(jobID, message string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[jobID]
	if !ok {
		return false
	}
	if t.reason == "" {
		t.reason = message
	}
	t.cancel()
	return true
}

// Running returns the ids of registered jobs in sorted order.
func (c *Coordinator) Running() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.tasks))
	for id := range c.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown refuses new jobs, cancels running ones and waits for them to record their outcome.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	for _, t := range c.tasks {
		if t.reason == "" {
			t.reason = MsgInterrupted
		}
		t.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecoverOrphans fails every processing record not owned by a running task whose
// last update is older than olderThan. It returns the number of records failed.
func (c *Coordinator) RecoverOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	return c.failIdle(ctx, c.now().Add(-olderThan), MsgInterrupted)
}

// SweepStale fails processing records idle longer than the configured stale
// timeout. Records owned by a registered task are left to that task.
func (c *Coordinator) SweepStale(ctx context.Context) (int, error) {
	if c.cfg.StaleTimeout <= 0 {
		return 0, nil
	}
	msg := fmt.Sprintf(msgStale, c.cfg.StaleTimeout)
	return c.failIdle(ctx, c.now().Add(-c.cfg.StaleTimeout), msg)
}

func (c *Coordinator) failIdle(ctx context.Context, before time.Time, message string) (int, error) {
	stale, err := c.store.ListStale(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("list stale proposals: %w", err)
	}

	n := 0
	for _, p := range stale {
		if c.isRunning(p.JobID) {
			continue
		}
		if err := c.store.Fail(ctx, p.JobID, message); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return n, fmt.Errorf("fail proposal %s: %w", p.JobID, err)
		}
		c.log.Warn("proposal.failed", "job_id", p.JobID, "stage", p.CurrentStage, "error_message", message)
		n++
	}
	return n, nil
}

func (c *Coordinator) isRunning(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tasks[jobID]
	return ok
}

func (c *Coordinator) cancelReason(jobID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tasks[jobID]; ok && t.reason != "" {
		return t.reason
	}
	return MsgCancelled
}

func (c *Coordinator) unregister(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tasks[jobID]; ok {
		t.cancel()
		delete(c.tasks, jobID)
	}
}

func (c *Coordinator) run(ctx context.Context, job Job) {
	defer c.wg.Done()
	defer c.unregister(job.JobID)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("proposal.panic", "job_id", job.JobID, "panic", r)
			c.fail(job.JobID, MsgUnexpectedFailure)
		}
	}()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.fail(job.JobID, c.cancelReason(job.JobID))
		return
	}
	defer c.sem.Release(1)

	result, msg := c.process(ctx, job)
	if ctx.Err() != nil {
		c.fail(job.JobID, c.cancelReason(job.JobID))
		return
	}
	if result == nil {
		c.fail(job.JobID, msg)
		return
	}

	if err := c.store.Complete(context.Background(), job.JobID, *result); err != nil {
		c.log.Error("proposal.complete.store_error", "job_id", job.JobID, "error", err)
		if !errors.Is(err, domain.ErrConflict) {
			c.fail(job.JobID, MsgUnexpectedFailure)
		}
		return
	}
	c.log.Info("proposal.complete", "job_id", job.JobID, "overall_score", result.OverallScore)
}

// process runs the embedding, clustering and analysis steps. On failure it
// returns a nil analysis and the message to persist.
func (c *Coordinator) process(ctx context.Context, job Job) (*domain.Analysis, string) {
	if err := c.advance(ctx, job.JobID, domain.StageEmbedding); err != nil {
		return nil, MsgUnexpectedFailure
	}
	text, err := c.extractor.ExtractText(ctx, job.Content)
	switch {
	case errors.Is(err, extract.ErrExtraction):
		// A document without a readable text layer has no usable content.
		c.log.Warn("proposal.extract_error", "job_id", job.JobID, "error", err)
		text = ""
	case err != nil:
		c.log.Warn("proposal.extract_error", "job_id", job.JobID, "error", err)
		return nil, MsgExtractionFailed
	}
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < c.cfg.MinContentChars {
		return nil, fmt.Sprintf(msgInsufficientContent, n, c.cfg.MinContentChars)
	}

	var language string
	if c.cfg.DetectLanguage != nil {
		language = c.cfg.DetectLanguage(text)
	}
	if language != "" {
		if err := c.store.SetLanguage(ctx, job.JobID, language); err != nil {
			c.log.Warn("proposal.language.store_error", "job_id", job.JobID, "error", err)
		}
	}

	if err := c.advance(ctx, job.JobID, domain.StageClustering); err != nil {
		return nil, MsgUnexpectedFailure
	}
	// Clustering is a placeholder step: it only holds the stage for a while.
	if c.cfg.ClusteringDelay > 0 {
		timer := time.NewTimer(c.cfg.ClusteringDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, MsgCancelled
		}
	}

	if err := c.advance(ctx, job.JobID, domain.StageAnalysis); err != nil {
		return nil, MsgUnexpectedFailure
	}
	result, err := c.analyzer.Analyze(ctx, analysis.Request{Title: job.Title, Text: text, Language: language})
	if err != nil {
		c.log.Warn("proposal.analysis_error", "job_id", job.JobID, "error", err)
		return nil, MsgAnalysisFailed
	}
	if result == nil {
		return nil, MsgAnalysisFailed
	}
	return result, ""
}

func (c *Coordinator) advance(ctx context.Context, jobID string, stage domain.Stage) error {
	if err := c.store.AdvanceStage(ctx, jobID, stage); err != nil {
		c.log.Error("proposal.stage.store_error", "job_id", jobID, "stage", stage, "error", err)
		return err
	}
	c.log.Info("proposal.stage", "job_id", jobID, "stage", stage)
	return nil
}

func (c *Coordinator) fail(jobID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.store.Fail(ctx, jobID, message); err != nil {
		c.log.Error("proposal.failed.store_error", "job_id", jobID, "error", err)
		return
	}
	c.log.Warn("proposal.failed", "job_id", jobID, "error_message", message)
}
