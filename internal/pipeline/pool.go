// Package pipeline runs statement-parsing jobs on a bounded worker pool.
// Submission blocks when the queue is full so upstream callers feel
// backpressure instead of growing an unbounded backlog. Each job walks the
// cached parser versions first and falls back to exactly one fresh
// generation attempt before it is marked failed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"moneywright/internal/config"
	"moneywright/internal/logging"
	"moneywright/internal/parsercache"
	"moneywright/internal/records"
	"moneywright/internal/trials"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("pipeline is closed")

// Request describes one document to parse.
type Request struct {
	Source       string
	FileType     string
	Mode         records.ParsingMode
	DocumentText string
	Expected     *records.ExpectedSummary
}

// Outcome is the terminal result of a successful job.
type Outcome struct {
	Set              records.Set `json:"records"`
	UsedVersion      int         `json:"usedVersion"`
	TriedVersions    []int       `json:"triedVersions,omitempty"`
	FreshlyGenerated bool        `json:"freshlyGenerated"`
}

// Job is a submitted request plus its tracked state.
type Job struct {
	ID  string
	Req Request

	mu      sync.Mutex
	status  Status
	outcome Outcome
	errMsg  string
	done    chan struct{}
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Err returns the terminal error message, empty unless the job failed.
func (j *Job) Err() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.errMsg
}

// Wait blocks until the job reaches a terminal state or ctx is done. On a
// failed job the stored error message comes back as the error.
func (j *Job) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-j.done:
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusFailed {
		return Outcome{}, errors.New(j.errMsg)
	}
	return j.outcome, nil
}

func (j *Job) setRunning() {
	j.mu.Lock()
	j.status = StatusRunning
	j.mu.Unlock()
}

func (j *Job) succeed(out Outcome) {
	j.mu.Lock()
	j.status = StatusSucceeded
	j.outcome = out
	j.mu.Unlock()
	close(j.done)
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	j.status = StatusFailed
	j.errMsg = err.Error()
	j.mu.Unlock()
	close(j.done)
}

// Trier walks cached parser versions for a key.
type Trier interface {
	TryVersions(ctx context.Context, key, documentText string, mode records.ParsingMode, expected *records.ExpectedSummary) (trials.Result, error)
}

// Generator produces, proves and caches fresh parser code.
type Generator interface {
	Generate(ctx context.Context, key, documentText string, mode records.ParsingMode, expected *records.ExpectedSummary, priorFailures []string) (records.Set, int, error)
}

// Pool is the bounded worker pool.
type Pool struct {
	trier     Trier
	generator Generator

	queue   chan *Job
	workers int

	mu     sync.Mutex
	jobs   map[string]*Job
	closed bool

	// submitters tracks in-flight Submit calls so Close never closes the
	// queue under a blocked sender.
	submitters sync.WaitGroup

	group     *errgroup.Group
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New builds a pool from config. Worker count and queue size are floored at
// one so a zero config still makes progress.
func New(cfg config.PipelineConfig, trier Trier, generator Generator) *Pool {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		trier:     trier,
		generator: generator,
		queue:     make(chan *Job, queueSize),
		workers:   workers,
		jobs:      make(map[string]*Job),
	}
}

// Start launches the workers. They drain the queue until Close.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		p.group.Go(func() error {
			logging.PipelineDebug("worker %d started", worker)
			for job := range p.queue {
				p.process(ctx, job)
			}
			return nil
		})
	}
	logging.Pipeline("Worker pool started (workers=%d, queue=%d)", p.workers, cap(p.queue))
}

// Submit enqueues a request, blocking while the queue is full. The returned
// Job can be polled via Status or awaited via Wait.
func (p *Pool) Submit(ctx context.Context, req Request) (*Job, error) {
	job := &Job{
		ID:     uuid.NewString(),
		Req:    req,
		status: StatusQueued,
		done:   make(chan struct{}),
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.jobs[job.ID] = job
	p.submitters.Add(1)
	p.mu.Unlock()
	defer p.submitters.Done()

	select {
	case p.queue <- job:
		logging.PipelineDebug("job %s queued (source=%s, type=%s)", job.ID, req.Source, req.FileType)
		return job, nil
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.jobs, job.ID)
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Lookup returns a previously submitted job by ID.
func (p *Pool) Lookup(id string) (*Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[id]
	return job, ok
}

// Close stops accepting jobs, drains the queue, and waits for the workers.
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.submitters.Wait()
		close(p.queue)
		if p.group != nil {
			err = p.group.Wait()
		}
		if p.cancel != nil {
			p.cancel()
		}
		logging.Pipeline("Worker pool stopped")
	})
	return err
}

// process runs one job to a terminal state: cached versions first, then at
// most one fresh generation attempt.
func (p *Pool) process(ctx context.Context, job *Job) {
	job.setRunning()
	req := job.Req
	key := parsercache.NormalizeKey(req.Source, req.FileType)

	result, err := p.trier.TryVersions(ctx, key, req.DocumentText, req.Mode, req.Expected)
	if err != nil {
		logging.Pipeline("job %s failed during version trials: %v", job.ID, err)
		job.fail(fmt.Errorf("version trials failed: %w", err))
		return
	}
	if result.Success {
		logging.Pipeline("job %s parsed with cached v%d (%d records)", job.ID, result.UsedVersion, result.Set.Count())
		job.succeed(Outcome{
			Set:           result.Set,
			UsedVersion:   result.UsedVersion,
			TriedVersions: result.TriedVersions,
		})
		return
	}

	var priorFailures []string
	for _, v := range result.TriedVersions {
		priorFailures = append(priorFailures, fmt.Sprintf("cached parser v%d did not produce valid records for this document", v))
	}

	set, version, err := p.generator.Generate(ctx, key, req.DocumentText, req.Mode, req.Expected, priorFailures)
	if err != nil {
		logging.Pipeline("job %s failed: generation after %d exhausted versions: %v", job.ID, len(result.TriedVersions), err)
		job.fail(fmt.Errorf("all cached versions exhausted and generation failed: %w", err))
		return
	}

	logging.Pipeline("job %s parsed with freshly generated v%d (%d records)", job.ID, version, set.Count())
	job.succeed(Outcome{
		Set:              set,
		UsedVersion:      version,
		TriedVersions:    result.TriedVersions,
		FreshlyGenerated: true,
	})
}
