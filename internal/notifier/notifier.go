// Package notifier consumes completion events and emails the job owner.
package notifier

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

// ProfileStore resolves a job owner to a notification address.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*jobs.Profile, error)
}

// Mailer delivers a single notification email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Config holds notifier configuration
type Config struct {
	Logger   *slog.Logger
	Profiles ProfileStore
	Mailer   Mailer
}

// Handler turns completion events into emails. Delivery is at-least-once;
// a redelivered event means at worst a duplicate email, which is
// acceptable, so no dedup state is kept.
type Handler struct {
	logger   *slog.Logger
	profiles ProfileStore
	mailer   Mailer
}

// NewHandler creates a new Handler
func NewHandler(cfg *Config) *Handler {
	return &Handler{
		logger:   cfg.Logger,
		profiles: cfg.Profiles,
		mailer:   cfg.Mailer,
	}
}

// Handle processes one completion event
func (h *Handler) Handle(ctx context.Context, body []byte) error {
	var msg jobs.CompletionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", consumer.ErrMalformedMessage, err)
	}
	if msg.JobID == "" || msg.UserID == "" {
		return fmt.Errorf("%w: completion event missing job_id or user_id", consumer.ErrMalformedMessage)
	}

	logger := h.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("user_id", msg.UserID),
	)

	profile, err := h.profiles.GetProfile(ctx, msg.UserID)
	if err != nil {
		if errors.Is(err, jobs.ErrProfileNotFound) {
			logger.Error("No profile for job owner, dropping notification")
			return fmt.Errorf("%w: unknown user %s", consumer.ErrMalformedMessage, msg.UserID)
		}
		return consumer.NewRetryableError(fmt.Errorf("failed to load profile: %w", err))
	}

	subject := fmt.Sprintf("Results available for job %s", msg.JobID)
	completed := time.Unix(msg.CompleteTime, 0).UTC().Format(time.RFC1123)
	mailBody := fmt.Sprintf(
		"Your annotation job %s completed at %s. Sign in to view the results.",
		msg.JobID, completed,
	)

	if err := h.mailer.Send(ctx, profile.Email, subject, mailBody); err != nil {
		return consumer.NewRetryableError(fmt.Errorf("failed to send notification email: %w", err))
	}

	logger.Info("Notification sent", slog.String("email", profile.Email))
	return nil
}
