// Package annotator consumes submission messages and turns PENDING jobs
// into RUNNING ones. It fetches the input, launches the annotation
// computation as a detached process, and performs the conditional
// PENDING -> RUNNING transition that makes duplicate delivery safe: only
// the first successful launcher moves the record and deletes the
// message. The computation itself finishes the job later, outside this
// consumer's call graph.
package annotator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/consumer"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/jobs"
)

// JobStore is the record-store surface the annotator needs.
type JobStore interface {
	ClaimPendingJob(ctx context.Context, jobID string) error
}

// ObjectDownloader fetches input objects into the working directory.
type ObjectDownloader interface {
	Download(ctx context.Context, bucket, key, localPath string) error
}

// Launcher starts the detached annotation computation. The consumer's
// responsibility ends at a successful launch; it never waits on the
// computation.
type Launcher interface {
	Launch(ctx context.Context, inputPath, inputKey, jobID string) error
}

// Config holds annotator handler configuration
type Config struct {
	Logger   *slog.Logger
	Store    JobStore
	Objects  ObjectDownloader
	Launcher Launcher
	WorkDir  string
}

// Handler processes submission messages
type Handler struct {
	logger   *slog.Logger
	store    JobStore
	objects  ObjectDownloader
	launcher Launcher
	workDir  string
}

// NewHandler creates a new annotator handler
func NewHandler(cfg *Config) *Handler {
	return &Handler{
		logger:   cfg.Logger,
		store:    cfg.Store,
		objects:  cfg.Objects,
		launcher: cfg.Launcher,
		workDir:  cfg.WorkDir,
	}
}

// Handle processes one submission message
func (h *Handler) Handle(ctx context.Context, body []byte) error {
	var msg jobs.SubmissionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		h.logger.Error("Failed to parse submission message",
			slog.String("body", string(body)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", consumer.ErrMalformedMessage, err)
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		h.logger.Error("Invalid job_id in submission message",
			slog.String("job_id", msg.JobID),
		)
		return fmt.Errorf("%w: job_id %q is not a UUID", consumer.ErrMalformedMessage, msg.JobID)
	}

	if msg.InputBucket == "" || msg.InputKey == "" {
		return fmt.Errorf("%w: missing input object location", consumer.ErrMalformedMessage)
	}

	h.logger.Info("Processing submission",
		slog.String("job_id", msg.JobID),
		slog.String("input_key", msg.InputKey),
	)

	// Private working directory keyed by job id. Creation and fetch are
	// idempotent so a redelivered message re-fetches without error.
	jobDir := filepath.Join(h.workDir, msg.JobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return consumer.NewRetryableError(fmt.Errorf("failed to create job dir: %w", err))
	}

	inputPath := filepath.Join(jobDir, path.Base(msg.InputKey))
	if err := h.objects.Download(ctx, msg.InputBucket, msg.InputKey, inputPath); err != nil {
		h.logger.Error("Failed to fetch input object",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		return consumer.NewRetryableError(fmt.Errorf("failed to fetch input: %w", err))
	}

	// Launch before claiming: the computation runs detached and performs
	// its own completion transition. A launch that fails leaves the job
	// PENDING for redelivery.
	if err := h.launcher.Launch(ctx, inputPath, msg.InputKey, msg.JobID); err != nil {
		h.logger.Error("Failed to launch annotation computation",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		return consumer.NewRetryableError(fmt.Errorf("failed to launch computation: %w", err))
	}

	// Conditional PENDING -> RUNNING. Losing this race means another
	// delivery already owns the job; the message is held, not deleted,
	// so duplicate work stays visible.
	if err := h.store.ClaimPendingJob(ctx, msg.JobID); err != nil {
		if errors.Is(err, jobs.ErrConditionFailed) {
			h.logger.Warn("Job already claimed by a concurrent delivery",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("%w: job %s already claimed", consumer.ErrHoldMessage, msg.JobID)
		}
		if errors.Is(err, jobs.ErrJobNotFound) {
			// Racing ahead of a slow record write; retry on redelivery.
			h.logger.Warn("Job record not found yet, leaving message for redelivery",
				slog.String("job_id", msg.JobID),
			)
			return consumer.NewRetryableError(err)
		}
		return consumer.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	h.logger.Info("Job claimed, computation running detached",
		slog.String("job_id", msg.JobID),
	)

	return nil
}
