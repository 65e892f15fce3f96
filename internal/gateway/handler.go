package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/jobs"
)

// JobStore is the record-store surface the gateway needs.
type JobStore interface {
	PutJob(ctx context.Context, job *jobs.Job) error
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	ListJobsByUser(ctx context.Context, userID string) ([]jobs.Job, error)
	GetProfile(ctx context.Context, userID string) (*jobs.Profile, error)
	UpdateRole(ctx context.Context, userID, role string) error
}

// Publisher is the broker surface the gateway needs.
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte) error
}

// Presigner mints time-limited upload URLs against the input bucket.
type Presigner interface {
	PresignUpload(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// Config holds gateway handler configuration
type Config struct {
	InputsBucket         string
	KeyPrefix            string
	UploadExpiry         time.Duration
	SubmissionRoutingKey string
	RestoreRoutingKey    string
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Store     JobStore
	Publisher Publisher
	Presigner Presigner
	Config    Config
}

// AnnotationHandler handles annotation-related HTTP requests
type AnnotationHandler struct {
	logger    *slog.Logger
	store     JobStore
	publisher Publisher
	presigner Presigner
	cfg       Config
	now       func() time.Time
}

// NewAnnotationHandler creates a new AnnotationHandler instance
func NewAnnotationHandler(deps *Dependencies) *AnnotationHandler {
	return &AnnotationHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		publisher: deps.Publisher,
		presigner: deps.Presigner,
		cfg:       deps.Config,
		now:       time.Now,
	}
}

// userID extracts the authenticated owner. Authentication itself lives
// in front of this service; the identity arrives as a trusted header.
func userID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

// NewUploadTarget handles GET /annotate
// Mints an input object key with an embedded fresh job id and returns a
// presigned upload URL for it. The job record is created later, by the
// upload-complete redirect.
func (h *AnnotationHandler) NewUploadTarget(c *gin.Context) {
	user := userID(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-User-ID header is required"})
		return
	}

	fileName := c.Query("file_name")
	if fileName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_name is required"})
		return
	}

	jobID := uuid.New().String()
	key := jobs.BuildInputKey(h.cfg.KeyPrefix, user, jobID, fileName)

	uploadURL, err := h.presigner.PresignUpload(c.Request.Context(), h.cfg.InputsBucket, key, h.cfg.UploadExpiry)
	if err != nil {
		h.logger.Error("Failed to presign upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create upload target"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":     jobID,
		"bucket":     h.cfg.InputsBucket,
		"key":        key,
		"upload_url": uploadURL,
		"expires_in": h.cfg.UploadExpiry.String(),
	})
}

// CreateAnnotationJob handles GET /annotate/job
// Accepts the upload-complete redirect (bucket + key of an object
// already stored), creates the job record, then publishes the
// submission message. Record-then-publish: the record must exist before
// the message so a fast worker eventually finds it.
func (h *AnnotationHandler) CreateAnnotationJob(c *gin.Context) {
	user := userID(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-User-ID header is required"})
		return
	}

	bucket := c.Query("bucket")
	key := c.Query("key")
	if bucket == "" || key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bucket and key are required"})
		return
	}

	jobID, fileName, err := jobs.ParseInputKey(key)
	if err != nil {
		h.logger.Error("Rejected malformed input key",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "key does not decode to a job identifier and file name"})
		return
	}

	job := &jobs.Job{
		JobID:         jobID,
		UserID:        user,
		InputFileName: fileName,
		InputBucket:   bucket,
		InputKey:      key,
		SubmitTime:    h.now().Unix(),
		Status:        jobs.StatusPending,
	}

	if err := h.store.PutJob(c.Request.Context(), job); err != nil {
		h.logger.Error("Failed to create job record", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job"})
		return
	}

	msg := jobs.SubmissionMessage{
		JobID:         job.JobID,
		UserID:        job.UserID,
		InputFileName: job.InputFileName,
		InputBucket:   job.InputBucket,
		InputKey:      job.InputKey,
		SubmitTime:    job.SubmitTime,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal submission message", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to publish job"})
		return
	}

	if err := h.publisher.PublishWithRetry(c.Request.Context(), h.cfg.SubmissionRoutingKey, body); err != nil {
		// The record exists but the event is lost; surface it rather
		// than pretending the submission is in flight.
		h.logger.Error("Failed to publish submission message",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to publish job"})
		return
	}

	h.logger.Info("Annotation job submitted",
		slog.String("job_id", job.JobID),
		slog.String("user_id", user),
		slog.String("input_file", fileName),
	)

	c.JSON(http.StatusOK, job)
}

// GetAnnotation handles GET /annotations/:job_id
func (h *AnnotationHandler) GetAnnotation(c *gin.Context) {
	user := userID(c)
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}

	if user != "" && job.UserID != user {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this job"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListAnnotations handles GET /annotations
func (h *AnnotationHandler) ListAnnotations(c *gin.Context) {
	user := userID(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-User-ID header is required"})
		return
	}

	list, err := h.store.ListJobsByUser(c.Request.Context(), user)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"annotations": list})
}

// Subscribe handles POST /subscribe
// Upgrades the user to the premium tier and publishes a restore request
// so the restorer sweeps their archived results back to standard storage.
func (h *AnnotationHandler) Subscribe(c *gin.Context) {
	user := userID(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-User-ID header is required"})
		return
	}

	if err := h.store.UpdateRole(c.Request.Context(), user, jobs.RolePremiumUser); err != nil {
		if errors.Is(err, jobs.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		h.logger.Error("Failed to upgrade user", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upgrade"})
		return
	}

	body, _ := json.Marshal(jobs.RestoreRequestMessage{UserID: user})
	if err := h.publisher.PublishWithRetry(c.Request.Context(), h.cfg.RestoreRoutingKey, body); err != nil {
		h.logger.Error("Failed to publish restore request",
			slog.String("user_id", user),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upgrade recorded but restore could not be requested"})
		return
	}

	h.logger.Info("User upgraded, restore requested",
		slog.String("user_id", user),
	)

	c.JSON(http.StatusOK, gin.H{
		"user_id": user,
		"role":    jobs.RolePremiumUser,
	})
}
