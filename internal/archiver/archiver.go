// Package archiver moves free-tier result files into cold storage once
// the retention interval after completion has elapsed.
package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/consumer"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/jobs"
)

// JobStore is the record-store surface the archiver needs.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	GetProfile(ctx context.Context, userID string) (*jobs.Profile, error)
	MarkArchived(ctx context.Context, jobID, archiveLocation string) error
}

// ColdMover relocates an object from standard to cold storage.
type ColdMover interface {
	MoveToCold(ctx context.Context, bucket, key string) (archiveLocation string, err error)
}

// Config holds archiver configuration
type Config struct {
	Logger  *slog.Logger
	Store   JobStore
	Objects ColdMover
}

// Handler processes delayed archive signals. The owner's tier is checked
// when the signal fires, not when it was scheduled: an upgrade during the
// retention window cancels the archival.
type Handler struct {
	logger  *slog.Logger
	store   JobStore
	objects ColdMover
}

// NewHandler creates a new Handler
func NewHandler(cfg *Config) *Handler {
	return &Handler{
		logger:  cfg.Logger,
		store:   cfg.Store,
		objects: cfg.Objects,
	}
}

// Handle processes one archive signal
func (h *Handler) Handle(ctx context.Context, body []byte) error {
	var msg jobs.ArchiveMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", consumer.ErrMalformedMessage, err)
	}
	if msg.JobID == "" {
		return fmt.Errorf("%w: archive signal missing job_id", consumer.ErrMalformedMessage)
	}

	logger := h.logger.With(slog.String("job_id", msg.JobID))

	job, err := h.store.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			logger.Warn("Archive signal for unknown job, dropping")
			return fmt.Errorf("%w: unknown job %s", consumer.ErrMalformedMessage, msg.JobID)
		}
		return consumer.NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	if job.Status != jobs.StatusCompleted {
		// Already archived by a duplicate delivery, or mid-restore.
		logger.Info("Job not in COMPLETED, skipping archive",
			slog.String("status", string(job.Status)),
		)
		return nil
	}

	profile, err := h.store.GetProfile(ctx, job.UserID)
	if err != nil {
		if errors.Is(err, jobs.ErrProfileNotFound) {
			logger.Error("No profile for job owner, dropping archive signal",
				slog.String("user_id", job.UserID),
			)
			return fmt.Errorf("%w: unknown user %s", consumer.ErrMalformedMessage, job.UserID)
		}
		return consumer.NewRetryableError(fmt.Errorf("failed to load profile: %w", err))
	}

	if profile.Role != jobs.RoleFreeUser {
		logger.Info("Owner upgraded during retention window, archive cancelled",
			slog.String("user_id", job.UserID),
		)
		return nil
	}

	archiveLocation, err := h.objects.MoveToCold(ctx, job.ResultsBucket, job.ResultKey)
	if err != nil {
		return consumer.NewRetryableError(fmt.Errorf("failed to move result to cold storage: %w", err))
	}

	if err := h.store.MarkArchived(ctx, msg.JobID, archiveLocation); err != nil {
		if errors.Is(err, jobs.ErrConditionFailed) {
			// A concurrent consumer won the transition between our status
			// read and the update. Its archive location stands.
			logger.Info("Job already archived by a concurrent attempt")
			return nil
		}
		return consumer.NewRetryableError(fmt.Errorf("failed to mark job archived: %w", err))
	}

	logger.Info("Result archived",
		slog.String("archive_location", archiveLocation),
	)
	return nil
}
