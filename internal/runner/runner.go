// Package runner is the detached completion path of an annotation job.
// It is launched by the annotator as an independent process, runs the
// annotation tool to completion, uploads the result and log objects,
// and performs the RUNNING -> COMPLETED transition. It is the sole
// writer at that stage; the consumer that launched it never waits on it.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/jobs"
)

// JobStore is the record-store surface the runner needs.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	CompleteJob(ctx context.Context, jobID, resultsBucket, resultKey, logKey string, completeTime int64) error
	GetProfile(ctx context.Context, userID string) (*jobs.Profile, error)
}

// ObjectUploader stores result artifacts in the standard tier.
type ObjectUploader interface {
	Upload(ctx context.Context, localPath, bucket, key string) error
}

// Publisher emits the completion event for the notifier.
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte) error
}

// Scheduler parks the time-delayed archive signal.
type Scheduler interface {
	Schedule(ctx context.Context, routingKey string, payload []byte, delay time.Duration) error
}

// Tool is the opaque annotation computation. On success it deposits the
// result and log files at the derivable paths next to the input.
type Tool interface {
	Run(ctx context.Context, inputPath string) error
}

// Config holds runner configuration
type Config struct {
	Logger               *slog.Logger
	Store                JobStore
	Objects              ObjectUploader
	Publisher            Publisher
	Scheduler            Scheduler
	Tool                 Tool
	ResultsBucket        string
	CompletionRoutingKey string
	ArchiveRoutingKey    string
	RetentionInterval    time.Duration
}

// Runner finishes one annotation job
type Runner struct {
	logger        *slog.Logger
	store         JobStore
	objects       ObjectUploader
	publisher     Publisher
	scheduler     Scheduler
	tool          Tool
	resultsBucket string
	completionKey string
	archiveKey    string
	retention     time.Duration
	now           func() time.Time
}

// New creates a new Runner
func New(cfg *Config) *Runner {
	return &Runner{
		logger:        cfg.Logger,
		store:         cfg.Store,
		objects:       cfg.Objects,
		publisher:     cfg.Publisher,
		scheduler:     cfg.Scheduler,
		tool:          cfg.Tool,
		resultsBucket: cfg.ResultsBucket,
		completionKey: cfg.CompletionRoutingKey,
		archiveKey:    cfg.ArchiveRoutingKey,
		retention:     cfg.RetentionInterval,
		now:           time.Now,
	}
}

// Run executes the annotation tool and finalizes the job. On upload
// failure nothing is deleted and no transition occurs: the job stays
// RUNNING with its local artifacts on disk, discoverable for
// remediation.
func (r *Runner) Run(ctx context.Context, inputPath, inputKey, jobID string) error {
	logger := r.logger.With(slog.String("job_id", jobID))

	start := r.now()
	if err := r.tool.Run(ctx, inputPath); err != nil {
		return fmt.Errorf("annotation tool failed: %w", err)
	}
	logger.Info("Annotation tool finished",
		slog.Duration("runtime", r.now().Sub(start)),
	)

	resultPath, logPath := jobs.LocalArtifactPaths(inputPath)
	for _, p := range []string{resultPath, logPath} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("expected artifact missing: %w", err)
		}
	}

	resultKey, logKey := jobs.DeriveArtifactKeys(inputKey)

	// Each upload is independently retryable; the transition happens
	// only after both have succeeded.
	if err := r.objects.Upload(ctx, resultPath, r.resultsBucket, resultKey); err != nil {
		return fmt.Errorf("failed to upload result file, local artifacts retained: %w", err)
	}
	if err := r.objects.Upload(ctx, logPath, r.resultsBucket, logKey); err != nil {
		return fmt.Errorf("failed to upload log file, local artifacts retained: %w", err)
	}

	completeTime := r.now().Unix()
	if err := r.store.CompleteJob(ctx, jobID, r.resultsBucket, resultKey, logKey, completeTime); err != nil {
		if errors.Is(err, jobs.ErrConditionFailed) {
			// A concurrent duplicate launch already finalized this job.
			// Leave its record alone and keep our files for inspection.
			logger.Warn("Job no longer RUNNING, skipping finalization")
			return nil
		}
		return fmt.Errorf("failed to mark job completed, local artifacts retained: %w", err)
	}

	logger.Info("Job completed",
		slog.String("result_key", resultKey),
		slog.String("log_key", logKey),
	)

	// Exactly one runner reaches this point per job, so the completion
	// event and the archive signal fire exactly once.
	r.emitCompletionEvents(ctx, logger, jobID, completeTime)

	r.cleanup(logger, inputPath, resultPath, logPath)
	return nil
}

// emitCompletionEvents publishes the notification event and, for
// free-tier owners, schedules the deferred archive signal. The archiver
// re-checks the tier at fire time, so scheduling here is only an
// optimization to keep premium results out of the archive queue.
func (r *Runner) emitCompletionEvents(ctx context.Context, logger *slog.Logger, jobID string, completeTime int64) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		logger.Error("Failed to load completed job for event fan-out",
			slog.String("error", err.Error()),
		)
		return
	}

	body, _ := json.Marshal(jobs.CompletionMessage{
		JobID:        jobID,
		UserID:       job.UserID,
		CompleteTime: completeTime,
	})
	if err := r.publisher.PublishWithRetry(ctx, r.completionKey, body); err != nil {
		logger.Error("Failed to publish completion event",
			slog.String("error", err.Error()),
		)
	}

	profile, err := r.store.GetProfile(ctx, job.UserID)
	if err != nil {
		logger.Error("Failed to look up owner profile for archive scheduling",
			slog.String("user_id", job.UserID),
			slog.String("error", err.Error()),
		)
		return
	}

	if profile.Role != jobs.RoleFreeUser {
		logger.Info("Owner is premium, no archive scheduled",
			slog.String("user_id", job.UserID),
		)
		return
	}

	archiveBody, _ := json.Marshal(jobs.ArchiveMessage{JobID: jobID})
	if err := r.scheduler.Schedule(ctx, r.archiveKey, archiveBody, r.retention); err != nil {
		logger.Error("Failed to schedule archive signal",
			slog.String("error", err.Error()),
		)
		return
	}

	logger.Info("Archive signal scheduled",
		slog.Duration("retention_interval", r.retention),
	)
}

// cleanup removes the local artifacts and the now-empty job directory
func (r *Runner) cleanup(logger *slog.Logger, inputPath, resultPath, logPath string) {
	for _, p := range []string{resultPath, logPath, inputPath} {
		if err := os.Remove(p); err != nil {
			logger.Warn("Failed to delete local file",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}

	jobDir := filepath.Dir(inputPath)
	if err := os.Remove(jobDir); err != nil {
		logger.Warn("Failed to delete job directory",
			slog.String("path", jobDir),
			slog.String("error", err.Error()),
		)
	}
}
