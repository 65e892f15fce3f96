package restorer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/consumer"
	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/jobs"
)

const (
	testJobID  = "6c8a5b9e-32c1-4f7d-9c33-02a1d6a9f001"
	testJobID2 = "7d9b6caf-43d2-5a8e-ad44-13b2e7baf002"
)

type fakeStore struct {
	jobs         map[string]*jobs.Job
	restoringErr error
	restoredErr  error
	restoring    []string
	restored     []string
}

func (f *fakeStore) GetJob(_ context.Context, jobID string) (*jobs.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeStore) ListJobsByUserAndStatus(_ context.Context, userID string, status jobs.Status) ([]jobs.Job, error) {
	var out []jobs.Job
	for _, job := range f.jobs {
		if job.UserID == userID && job.Status == status {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkRestoring(_ context.Context, jobID string) error {
	if f.restoringErr != nil {
		return f.restoringErr
	}
	f.restoring = append(f.restoring, jobID)
	f.jobs[jobID].Status = jobs.StatusRestoring
	return nil
}

func (f *fakeStore) MarkRestored(_ context.Context, jobID string) error {
	if f.restoredErr != nil {
		return f.restoredErr
	}
	f.restored = append(f.restored, jobID)
	f.jobs[jobID].Status = jobs.StatusCompleted
	return nil
}

type fakeColdStore struct {
	thawErr    error
	restoreErr error
	thawed     []string
	restoredTo []string
}

func (f *fakeColdStore) RequestThaw(_ context.Context, archiveLocation string) (string, error) {
	if f.thawErr != nil {
		return "", f.thawErr
	}
	f.thawed = append(f.thawed, archiveLocation)
	return "ticket-" + archiveLocation, nil
}

func (f *fakeColdStore) RestoreFromCold(_ context.Context, archiveLocation, _, key string) error {
	if f.restoreErr != nil {
		return f.restoreErr
	}
	f.restoredTo = append(f.restoredTo, key)
	return nil
}

type fakeScheduler struct {
	err       error
	scheduled []jobs.ThawCompleteMessage
	delays    []time.Duration
}

func (f *fakeScheduler) Schedule(_ context.Context, _ string, payload []byte, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	var msg jobs.ThawCompleteMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	f.scheduled = append(f.scheduled, msg)
	f.delays = append(f.delays, delay)
	return nil
}

func archivedJob(jobID string) *jobs.Job {
	return &jobs.Job{
		JobID:           jobID,
		UserID:          "user-1",
		ResultsBucket:   "gas-results",
		ResultKey:       "uploads/user-1/" + jobID + "~sample.annot.vcf",
		ArchiveLocation: "archive/" + jobID,
		Status:          jobs.StatusArchived,
	}
}

func newConfig(store *fakeStore, cold *fakeColdStore, sched *fakeScheduler) *Config {
	return &Config{
		Logger:         slog.New(slog.DiscardHandler),
		Store:          store,
		Objects:        cold,
		Scheduler:      sched,
		ThawRoutingKey: "job.thaw",
		ThawDelay:      2 * time.Minute,
	}
}

func restoreBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(jobs.RestoreRequestMessage{UserID: "user-1"})
	require.NoError(t, err)
	return body
}

func TestRestoreHandler_Handle_SweepsAllArchivedJobs(t *testing.T) {
	store := &fakeStore{jobs: map[string]*jobs.Job{
		testJobID:  archivedJob(testJobID),
		testJobID2: archivedJob(testJobID2),
	}}
	cold := &fakeColdStore{}
	sched := &fakeScheduler{}
	handler := NewRestoreHandler(newConfig(store, cold, sched))

	err := handler.Handle(context.Background(), restoreBody(t))
	require.NoError(t, err)

	assert.Len(t, cold.thawed, 2)
	assert.Len(t, sched.scheduled, 2)
	assert.ElementsMatch(t, []string{testJobID, testJobID2}, store.restoring)
	assert.Equal(t, []time.Duration{2 * time.Minute, 2 * time.Minute}, sched.delays)
}

func TestRestoreHandler_Handle_NoArchivedJobs(t *testing.T) {
	store := &fakeStore{jobs: map[string]*jobs.Job{}}
	cold := &fakeColdStore{}
	handler := NewRestoreHandler(newConfig(store, cold, &fakeScheduler{}))

	err := handler.Handle(context.Background(), restoreBody(t))
	require.NoError(t, err)
	assert.Empty(t, cold.thawed)
}

func TestRestoreHandler_Handle_RedeliveredSweepIsIdempotent(t *testing.T) {
	store := &fakeStore{jobs: map[string]*jobs.Job{
		testJobID: archivedJob(testJobID),
	}}
	cold := &fakeColdStore{}
	handler := NewRestoreHandler(newConfig(store, cold, &fakeScheduler{}))

	require.NoError(t, handler.Handle(context.Background(), restoreBody(t)))
	require.NoError(t, handler.Handle(context.Background(), restoreBody(t)))

	// The second sweep finds nothing in ARCHIVED.
	assert.Len(t, cold.thawed, 1)
	assert.Len(t, store.restoring, 1)
}

func TestRestoreHandler_Handle_ThawFailureRequeuesSweep(t *testing.T) {
	store := &fakeStore{jobs: map[string]*jobs.Job{
		testJobID: archivedJob(testJobID),
	}}
	cold := &fakeColdStore{thawErr: errors.New("cold tier unavailable")}
	handler := NewRestoreHandler(newConfig(store, cold, &fakeScheduler{}))

	err := handler.Handle(context.Background(), restoreBody(t))
	require.Error(t, err)

	var retryable *consumer.RetryableError
	assert.ErrorAs(t, err, &retryable)
	assert.Empty(t, store.restoring, "a failed thaw request must leave the job ARCHIVED")
}

func TestRestoreHandler_Handle_MalformedPayload(t *testing.T) {
	handler := NewRestoreHandler(newConfig(&fakeStore{}, &fakeColdStore{}, &fakeScheduler{}))

	for _, body := range [][]byte{[]byte("garbage"), []byte(`{}`)} {
		err := handler.Handle(context.Background(), body)
		require.Error(t, err)
		assert.ErrorIs(t, err, consumer.ErrMalformedMessage)
	}
}

func thawBody(t *testing.T, jobID string) []byte {
	t.Helper()
	body, err := json.Marshal(jobs.ThawCompleteMessage{
		JobID:           jobID,
		Ticket:          "ticket-1",
		ArchiveLocation: "archive/" + jobID,
	})
	require.NoError(t, err)
	return body
}

func TestThawHandler_Handle(t *testing.T) {
	job := archivedJob(testJobID)
	job.Status = jobs.StatusRestoring
	store := &fakeStore{jobs: map[string]*jobs.Job{testJobID: job}}
	cold := &fakeColdStore{}
	handler := NewThawHandler(newConfig(store, cold, &fakeScheduler{}))

	err := handler.Handle(context.Background(), thawBody(t, testJobID))
	require.NoError(t, err)

	assert.Equal(t, []string{job.ResultKey}, cold.restoredTo)
	assert.Equal(t, []string{testJobID}, store.restored)
	assert.Equal(t, jobs.StatusCompleted, store.jobs[testJobID].Status)
}

func TestThawHandler_Handle_DuplicateSignalIsNoOp(t *testing.T) {
	// Cycle already finished: job is back in COMPLETED.
	job := archivedJob(testJobID)
	job.Status = jobs.StatusCompleted
	store := &fakeStore{jobs: map[string]*jobs.Job{testJobID: job}}
	cold := &fakeColdStore{}
	handler := NewThawHandler(newConfig(store, cold, &fakeScheduler{}))

	err := handler.Handle(context.Background(), thawBody(t, testJobID))
	require.NoError(t, err)

	assert.Empty(t, cold.restoredTo, "duplicate thaw must make no storage calls")
	assert.Empty(t, store.restored)
}

func TestThawHandler_Handle_CopyBackFailureIsRetryable(t *testing.T) {
	job := archivedJob(testJobID)
	job.Status = jobs.StatusRestoring
	store := &fakeStore{jobs: map[string]*jobs.Job{testJobID: job}}
	cold := &fakeColdStore{restoreErr: errors.New("object still thawing")}
	handler := NewThawHandler(newConfig(store, cold, &fakeScheduler{}))

	err := handler.Handle(context.Background(), thawBody(t, testJobID))
	require.Error(t, err)

	var retryable *consumer.RetryableError
	assert.ErrorAs(t, err, &retryable)
	assert.Empty(t, store.restored)
}

func TestThawHandler_Handle_UnknownJobIsDropped(t *testing.T) {
	store := &fakeStore{jobs: map[string]*jobs.Job{}}
	handler := NewThawHandler(newConfig(store, &fakeColdStore{}, &fakeScheduler{}))

	err := handler.Handle(context.Background(), thawBody(t, testJobID))
	require.Error(t, err)
	assert.ErrorIs(t, err, consumer.ErrMalformedMessage)
}
