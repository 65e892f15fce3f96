// Package restorer brings archived results back to standard storage when
// a user upgrades to the premium tier. Restoration runs in two stages: a
// restore request sweeps the user's archived jobs and requests cold-tier
// retrieval for each, and a delayed thaw signal later copies the thawed
// object back and completes the cycle.
package restorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/consumer"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/jobs"
)

// JobStore is the record-store surface the restorer needs.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	ListJobsByUserAndStatus(ctx context.Context, userID string, status jobs.Status) ([]jobs.Job, error)
	MarkRestoring(ctx context.Context, jobID string) error
	MarkRestored(ctx context.Context, jobID string) error
}

// ColdStore is the cold-storage surface of the object store.
type ColdStore interface {
	RequestThaw(ctx context.Context, archiveLocation string) (ticket string, err error)
	RestoreFromCold(ctx context.Context, archiveLocation, bucket, key string) error
}

// Scheduler parks the delayed thaw-complete signal while the cold tier
// retrieves the object.
type Scheduler interface {
	Schedule(ctx context.Context, routingKey string, payload []byte, delay time.Duration) error
}

// Config holds restorer configuration
type Config struct {
	Logger         *slog.Logger
	Store          JobStore
	Objects        ColdStore
	Scheduler      Scheduler
	ThawRoutingKey string
	ThawDelay      time.Duration
}

// RestoreHandler sweeps a user's ARCHIVED jobs on upgrade. The sweep is
// idempotent: jobs already moved to RESTORING by an earlier delivery no
// longer match the status filter and are simply not selected again.
type RestoreHandler struct {
	logger    *slog.Logger
	store     JobStore
	objects   ColdStore
	scheduler Scheduler
	thawKey   string
	thawDelay time.Duration
}

// NewRestoreHandler creates a new RestoreHandler
func NewRestoreHandler(cfg *Config) *RestoreHandler {
	return &RestoreHandler{
		logger:    cfg.Logger,
		store:     cfg.Store,
		objects:   cfg.Objects,
		scheduler: cfg.Scheduler,
		thawKey:   cfg.ThawRoutingKey,
		thawDelay: cfg.ThawDelay,
	}
}

// Handle processes one restore request
func (h *RestoreHandler) Handle(ctx context.Context, body []byte) error {
	var msg jobs.RestoreRequestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", consumer.ErrMalformedMessage, err)
	}
	if msg.UserID == "" {
		return fmt.Errorf("%w: restore request missing user_id", consumer.ErrMalformedMessage)
	}

	logger := h.logger.With(slog.String("user_id", msg.UserID))

	archived, err := h.store.ListJobsByUserAndStatus(ctx, msg.UserID, jobs.StatusArchived)
	if err != nil {
		return consumer.NewRetryableError(fmt.Errorf("failed to list archived jobs: %w", err))
	}
	if len(archived) == 0 {
		logger.Info("No archived jobs to restore")
		return nil
	}

	var failed int
	for _, job := range archived {
		if err := h.restoreJob(ctx, &job); err != nil {
			logger.Error("Failed to start restoration",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			failed++
		}
	}
	if failed > 0 {
		// Requeue the sweep; jobs that made it to RESTORING are filtered
		// out next time, so only the failures are retried.
		return consumer.NewRetryableError(
			fmt.Errorf("restoration failed for %d of %d jobs", failed, len(archived)))
	}

	logger.Info("Restoration started", slog.Int("jobs", len(archived)))
	return nil
}

// restoreJob requests retrieval for one archived result and schedules the
// thaw-complete signal. The thaw signal is parked before the RESTORING
// transition so a crash between the two cannot strand the job: the thaw
// handler tolerates either order.
func (h *RestoreHandler) restoreJob(ctx context.Context, job *jobs.Job) error {
	ticket, err := h.objects.RequestThaw(ctx, job.ArchiveLocation)
	if err != nil {
		return fmt.Errorf("failed to request thaw: %w", err)
	}

	thawBody, _ := json.Marshal(jobs.ThawCompleteMessage{
		JobID:           job.JobID,
		Ticket:          ticket,
		ArchiveLocation: job.ArchiveLocation,
	})
	if err := h.scheduler.Schedule(ctx, h.thawKey, thawBody, h.thawDelay); err != nil {
		return fmt.Errorf("failed to schedule thaw signal: %w", err)
	}

	if err := h.store.MarkRestoring(ctx, job.JobID); err != nil {
		if errors.Is(err, jobs.ErrConditionFailed) {
			h.logger.Info("Job left ARCHIVED during sweep, skipping",
				slog.String("job_id", job.JobID),
			)
			return nil
		}
		return fmt.Errorf("failed to mark job restoring: %w", err)
	}

	h.logger.Info("Thaw requested",
		slog.String("job_id", job.JobID),
		slog.String("ticket", ticket),
	)
	return nil
}

// ThawHandler finishes a restoration once the cold tier has retrieved
// the object: it copies the result back to standard storage and moves
// the job RESTORING -> COMPLETED.
type ThawHandler struct {
	logger  *slog.Logger
	store   JobStore
	objects ColdStore
}

// NewThawHandler creates a new ThawHandler
func NewThawHandler(cfg *Config) *ThawHandler {
	return &ThawHandler{
		logger:  cfg.Logger,
		store:   cfg.Store,
		objects: cfg.Objects,
	}
}

// Handle processes one thaw-complete signal
func (h *ThawHandler) Handle(ctx context.Context, body []byte) error {
	var msg jobs.ThawCompleteMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", consumer.ErrMalformedMessage, err)
	}
	if msg.JobID == "" {
		return fmt.Errorf("%w: thaw signal missing job_id", consumer.ErrMalformedMessage)
	}

	logger := h.logger.With(slog.String("job_id", msg.JobID))

	job, err := h.store.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			logger.Warn("Thaw signal for unknown job, dropping")
			return fmt.Errorf("%w: unknown job %s", consumer.ErrMalformedMessage, msg.JobID)
		}
		return consumer.NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	if job.Status != jobs.StatusRestoring {
		// Duplicate delivery after the cycle finished. No storage calls,
		// just acknowledge.
		logger.Info("Job not in RESTORING, skipping thaw",
			slog.String("status", string(job.Status)),
		)
		return nil
	}

	if err := h.objects.RestoreFromCold(ctx, msg.ArchiveLocation, job.ResultsBucket, job.ResultKey); err != nil {
		return consumer.NewRetryableError(fmt.Errorf("failed to copy result back from cold storage: %w", err))
	}

	if err := h.store.MarkRestored(ctx, msg.JobID); err != nil {
		if errors.Is(err, jobs.ErrConditionFailed) {
			logger.Info("Job already restored by a concurrent attempt")
			return nil
		}
		return consumer.NewRetryableError(fmt.Errorf("failed to mark job restored: %w", err))
	}

	logger.Info("Result restored to standard storage",
		slog.String("result_key", job.ResultKey),
	)
	return nil
}
