package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/metrics"
	"github.com/Priya8975/epcis-repository/internal/validation"
)

var ErrCaptureLimitExceeded = errors.New("capture limit exceeded")

// DefaultCaptureLimit is the largest number of events one capture request
// may carry.
const DefaultCaptureLimit = 1000

// CaptureListener is notified with the events a capture job stored, after
// the job has finished.
type CaptureListener interface {
	EventsCaptured(events []*domain.Event)
}

// Pipeline runs capture jobs. Each submitted document is processed on its
// own goroutine; events within a job are handled strictly in order.
type Pipeline struct {
	events       EventStore
	jobs         JobStore
	logger       *slog.Logger
	captureLimit int
	now          func() time.Time

	listenerMu sync.RWMutex
	listener   CaptureListener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPipeline(events EventStore, jobs JobStore, captureLimit int, logger *slog.Logger) *Pipeline {
	if captureLimit <= 0 {
		captureLimit = DefaultCaptureLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		events:       events,
		jobs:         jobs,
		logger:       logger,
		captureLimit: captureLimit,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (p *Pipeline) CaptureLimit() int {
	return p.captureLimit
}

func (p *Pipeline) SetListener(l CaptureListener) {
	p.listenerMu.Lock()
	p.listener = l
	p.listenerMu.Unlock()
}

// Submit registers a capture job for body and starts processing it. The job
// is returned in its created state; callers poll the job store for progress.
// Only a body that is not JSON at all, or that exceeds the capture limit, is
// rejected synchronously.
func (p *Pipeline) Submit(ctx context.Context, body []byte, behaviour domain.ErrorBehaviour) (*domain.CaptureJob, error) {
	if behaviour == "" {
		behaviour = domain.Rollback
	}
	if !behaviour.Valid() {
		return nil, domain.Invalidf("capture error behaviour must be rollback or proceed, got %q", behaviour)
	}
	if !json.Valid(body) {
		return nil, domain.Invalidf("capture body is not valid JSON")
	}
	if n := countEvents(body); n > p.captureLimit {
		return nil, fmt.Errorf("%w: %d events, limit is %d", ErrCaptureLimitExceeded, n, p.captureLimit)
	}

	job := &domain.CaptureJob{
		CaptureID:             uuid.NewString(),
		CreatedAt:             p.now().UTC(),
		Success:               true,
		Status:                domain.JobCreated,
		CaptureErrorBehaviour: behaviour,
		Errors:                []domain.CaptureError{},
	}
	if err := p.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("saving capture job: %w", err)
	}

	p.logger.Info("capture job submitted",
		"capture_id", job.CaptureID,
		"capture_error_behaviour", behaviour,
	)

	created := job.Clone()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(p.ctx, job, bytes.Clone(body))
	}()
	return created, nil
}

// Shutdown stops accepting progress on running jobs once ctx expires and
// waits for in-flight jobs to finish.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Wait blocks until every submitted job has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) run(ctx context.Context, job *domain.CaptureJob, body []byte) {
	job.Status = domain.JobRunning
	job.Running = true
	p.save(ctx, job)

	doc, err := validation.ParseDocument(body)
	if err != nil {
		p.fail(job, -1, "", domain.NewProblem(domain.ValidationException, "Invalid EPCIS document", http.StatusBadRequest, err.Error()))
		p.finish(ctx, job, domain.JobAborted)
		return
	}
	job.EventCount = len(doc.EventList)

	var captured []*domain.Event
	for i, raw := range doc.EventList {
		ev, problem := p.captureOne(ctx, job, raw)
		if problem == nil {
			captured = append(captured, ev)
			job.CapturedCount++
			continue
		}

		p.fail(job, i, eventIDOf(ev, raw), *problem)
		if job.CaptureErrorBehaviour == domain.Rollback {
			p.rollback(ctx, job)
			p.finish(ctx, job, domain.JobAborted)
			return
		}
		p.save(ctx, job)
	}

	status := domain.JobSucceeded
	if len(job.Errors) > 0 {
		status = domain.JobPartiallyFailed
	}
	p.finish(ctx, job, status)
	metrics.EventsCaptured.Add(float64(len(captured)))

	p.listenerMu.RLock()
	listener := p.listener
	p.listenerMu.RUnlock()
	if listener != nil && len(captured) > 0 {
		listener.EventsCaptured(captured)
	}
}

// captureOne validates and stores a single event. The returned event is set
// whenever validation succeeded, even if storing it failed.
func (p *Pipeline) captureOne(ctx context.Context, job *domain.CaptureJob, raw json.RawMessage) (*domain.Event, *domain.Problem) {
	if err := ctx.Err(); err != nil {
		problem := domain.NewProblem(domain.ImplementationException, "Capture interrupted", http.StatusInternalServerError, err.Error())
		return nil, &problem
	}

	ev, err := validation.Event(raw)
	if err != nil {
		problem := domain.NewProblem(domain.ValidationException, "Invalid event", http.StatusBadRequest, reason(err))
		return nil, &problem
	}

	ev.CaptureID = job.CaptureID
	ev.RecordTime = p.now().UTC()
	if err := p.events.InsertEvent(ctx, ev); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			problem := domain.NewProblem(domain.ValidationException, "Duplicate event", http.StatusBadRequest, "eventID "+ev.EventID+" is already captured")
			return ev, &problem
		}
		p.logger.Error("failed to store event",
			"capture_id", job.CaptureID,
			"event_id", ev.EventID,
			"error", err,
		)
		problem := domain.NewProblem(domain.ImplementationException, "Failed to store event", http.StatusInternalServerError, err.Error())
		return ev, &problem
	}
	return ev, nil
}

func (p *Pipeline) rollback(ctx context.Context, job *domain.CaptureJob) {
	removed, err := p.events.DeleteByCaptureID(context.WithoutCancel(ctx), job.CaptureID)
	if err != nil {
		p.logger.Error("capture rollback failed", "capture_id", job.CaptureID, "error", err)
		p.fail(job, -1, "", domain.NewProblem(domain.ImplementationException, "Rollback failed", http.StatusInternalServerError, err.Error()))
		return
	}
	job.CapturedCount = 0
	metrics.EventsRolledBack.Add(float64(removed))
	p.logger.Info("capture rolled back", "capture_id", job.CaptureID, "events_removed", removed)
}

// fail records a problem on job. index is -1 for document-level problems.
func (p *Pipeline) fail(job *domain.CaptureJob, index int, eventID string, problem domain.Problem) {
	ce := domain.CaptureError{Problem: problem, EventID: eventID}
	if index >= 0 {
		i := index
		ce.EventIndex = &i
		metrics.EventsRejected.Inc()
	}
	job.Errors = append(job.Errors, ce)
	job.Success = false

	p.logger.Warn("capture error",
		"capture_id", job.CaptureID,
		"event_id", eventID,
		"event_index", index,
		"detail", problem.Detail,
	)
}

func (p *Pipeline) finish(ctx context.Context, job *domain.CaptureJob, status domain.JobStatus) {
	finished := p.now().UTC()
	job.FinishedAt = &finished
	job.Running = false
	job.Status = status
	p.save(ctx, job)

	metrics.CaptureJobs.WithLabelValues(string(status)).Inc()
	p.logger.Info("capture job finished",
		"capture_id", job.CaptureID,
		"status", status,
		"events", job.EventCount,
		"captured", job.CapturedCount,
		"errors", len(job.Errors),
	)
}

func (p *Pipeline) save(ctx context.Context, job *domain.CaptureJob) {
	if err := p.jobs.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		p.logger.Error("failed to save capture job", "capture_id", job.CaptureID, "error", err)
	}
}

func (p *Pipeline) Job(ctx context.Context, id string) (*domain.CaptureJob, error) {
	job, err := p.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading capture job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("capture job %s: %w", id, domain.ErrNoSuchResource)
	}
	return job, nil
}

func (p *Pipeline) Jobs(ctx context.Context) ([]domain.CaptureJob, error) {
	jobs, err := p.jobs.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing capture jobs: %w", err)
	}
	return jobs, nil
}

// countEvents reports the length of epcisBody.eventList, or 0 when the body
// does not have that shape.
func countEvents(body []byte) int {
	var probe struct {
		EpcisBody struct {
			EventList []json.RawMessage `json:"eventList"`
		} `json:"epcisBody"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return 0
	}
	return len(probe.EpcisBody.EventList)
}

func eventIDOf(ev *domain.Event, raw json.RawMessage) string {
	if ev != nil {
		return ev.EventID
	}
	var probe struct {
		EventID string `json:"eventID"`
	}
	json.Unmarshal(raw, &probe)
	return probe.EventID
}

func reason(err error) string {
	var ee *validation.EventError
	if errors.As(err, &ee) {
		return ee.Reason
	}
	return err.Error()
}
