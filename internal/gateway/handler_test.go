package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiangli-damien/AWS-Genomics-Annotation-Platform/internal/jobs"
)

const testJobID = "6c8a5b9e-32c1-4f7d-9c33-02a1d6a9f001"

type fakeJobStore struct {
	putErr     error
	getJob     *jobs.Job
	listed     []jobs.Job
	updateErr  error
	putJobs    []*jobs.Job
	roleEvents []string
}

func (f *fakeJobStore) PutJob(_ context.Context, job *jobs.Job) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.putJobs = append(f.putJobs, job)
	return nil
}

func (f *fakeJobStore) GetJob(_ context.Context, _ string) (*jobs.Job, error) {
	if f.getJob == nil {
		return nil, jobs.ErrJobNotFound
	}
	return f.getJob, nil
}

func (f *fakeJobStore) ListJobsByUser(_ context.Context, _ string) ([]jobs.Job, error) {
	return f.listed, nil
}

func (f *fakeJobStore) GetProfile(_ context.Context, _ string) (*jobs.Profile, error) {
	return nil, jobs.ErrProfileNotFound
}

func (f *fakeJobStore) UpdateRole(_ context.Context, userID, role string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.roleEvents = append(f.roleEvents, userID+":"+role)
	return nil
}

type fakePublisher struct {
	err    error
	keys   []string
	bodies [][]byte
}

func (f *fakePublisher) PublishWithRetry(_ context.Context, routingKey string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, routingKey)
	f.bodies = append(f.bodies, body)
	return nil
}

type fakePresigner struct {
	err error
}

func (f *fakePresigner) PresignUpload(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://store.example.com/" + bucket + "/" + key + "?sig=abc", nil
}

func newTestRouter(store *fakeJobStore, publisher *fakePublisher, presigner *fakePresigner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(&Dependencies{
		Logger:    slog.New(slog.DiscardHandler),
		Store:     store,
		Publisher: publisher,
		Presigner: presigner,
		Config: Config{
			InputsBucket:         "gas-inputs",
			KeyPrefix:            "uploads/",
			UploadExpiry:         15 * time.Minute,
			SubmissionRoutingKey: "job.submitted",
			RestoreRoutingKey:    "job.restore",
		},
	})
}

func doRequest(router *gin.Engine, method, target, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestNewUploadTarget(t *testing.T) {
	router := newTestRouter(&fakeJobStore{}, &fakePublisher{}, &fakePresigner{})

	w := doRequest(router, http.MethodGet, "/annotate?file_name=sample.vcf", "user-1")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "gas-inputs", resp["bucket"])
	assert.NotEmpty(t, resp["upload_url"])

	// The key embeds a fresh job id and round-trips through the parser.
	jobID, fileName, err := jobs.ParseInputKey(resp["key"])
	require.NoError(t, err)
	assert.Equal(t, resp["job_id"], jobID)
	assert.Equal(t, "sample.vcf", fileName)
	_, err = uuid.Parse(jobID)
	assert.NoError(t, err)
}

func TestNewUploadTarget_Validation(t *testing.T) {
	router := newTestRouter(&fakeJobStore{}, &fakePublisher{}, &fakePresigner{})

	w := doRequest(router, http.MethodGet, "/annotate?file_name=sample.vcf", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodGet, "/annotate", "user-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateAnnotationJob(t *testing.T) {
	store := &fakeJobStore{}
	publisher := &fakePublisher{}
	router := newTestRouter(store, publisher, &fakePresigner{})

	key := "uploads/user-1/" + testJobID + "~sample.vcf"
	w := doRequest(router, http.MethodGet, "/annotate/job?bucket=gas-inputs&key="+key, "user-1")
	require.Equal(t, http.StatusOK, w.Code)

	// Record created before the message went out.
	require.Len(t, store.putJobs, 1)
	job := store.putJobs[0]
	assert.Equal(t, testJobID, job.JobID)
	assert.Equal(t, "user-1", job.UserID)
	assert.Equal(t, "sample.vcf", job.InputFileName)
	assert.Equal(t, jobs.StatusPending, job.Status)

	require.Equal(t, []string{"job.submitted"}, publisher.keys)
	var msg jobs.SubmissionMessage
	require.NoError(t, json.Unmarshal(publisher.bodies[0], &msg))
	assert.Equal(t, testJobID, msg.JobID)
	assert.Equal(t, key, msg.InputKey)
}

func TestCreateAnnotationJob_MalformedKey(t *testing.T) {
	store := &fakeJobStore{}
	publisher := &fakePublisher{}
	router := newTestRouter(store, publisher, &fakePresigner{})

	w := doRequest(router, http.MethodGet, "/annotate/job?bucket=gas-inputs&key=uploads/user-1/garbage.vcf", "user-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, store.putJobs, "malformed key must not create a record")
	assert.Empty(t, publisher.keys)
}

func TestCreateAnnotationJob_RecordBeforePublish(t *testing.T) {
	store := &fakeJobStore{putErr: errors.New("db down")}
	publisher := &fakePublisher{}
	router := newTestRouter(store, publisher, &fakePresigner{})

	key := "uploads/user-1/" + testJobID + "~sample.vcf"
	w := doRequest(router, http.MethodGet, "/annotate/job?bucket=gas-inputs&key="+key, "user-1")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, publisher.keys, "no message may be published without a record")
}

func TestGetAnnotation(t *testing.T) {
	store := &fakeJobStore{getJob: &jobs.Job{
		JobID:  testJobID,
		UserID: "user-1",
		Status: jobs.StatusCompleted,
	}}
	router := newTestRouter(store, &fakePublisher{}, &fakePresigner{})

	w := doRequest(router, http.MethodGet, "/annotations/"+testJobID, "user-1")
	require.Equal(t, http.StatusOK, w.Code)

	var job jobs.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, testJobID, job.JobID)
}

func TestGetAnnotation_Errors(t *testing.T) {
	tests := []struct {
		name     string
		store    *fakeJobStore
		target   string
		user     string
		wantCode int
	}{
		{
			name:     "invalid uuid",
			store:    &fakeJobStore{},
			target:   "/annotations/not-a-uuid",
			user:     "user-1",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown job",
			store:    &fakeJobStore{},
			target:   "/annotations/" + testJobID,
			user:     "user-1",
			wantCode: http.StatusNotFound,
		},
		{
			name:     "foreign job",
			store:    &fakeJobStore{getJob: &jobs.Job{JobID: testJobID, UserID: "someone-else"}},
			target:   "/annotations/" + testJobID,
			user:     "user-1",
			wantCode: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(tt.store, &fakePublisher{}, &fakePresigner{})
			w := doRequest(router, http.MethodGet, tt.target, tt.user)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestListAnnotations(t *testing.T) {
	store := &fakeJobStore{listed: []jobs.Job{
		{JobID: testJobID, UserID: "user-1", Status: jobs.StatusCompleted},
	}}
	router := newTestRouter(store, &fakePublisher{}, &fakePresigner{})

	w := doRequest(router, http.MethodGet, "/annotations", "user-1")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Annotations []jobs.Job `json:"annotations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Annotations, 1)
	assert.Equal(t, testJobID, resp.Annotations[0].JobID)
}

func TestSubscribe(t *testing.T) {
	store := &fakeJobStore{}
	publisher := &fakePublisher{}
	router := newTestRouter(store, publisher, &fakePresigner{})

	w := doRequest(router, http.MethodPost, "/subscribe", "user-1")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []string{"user-1:" + jobs.RolePremiumUser}, store.roleEvents)

	require.Equal(t, []string{"job.restore"}, publisher.keys)
	var msg jobs.RestoreRequestMessage
	require.NoError(t, json.Unmarshal(publisher.bodies[0], &msg))
	assert.Equal(t, "user-1", msg.UserID)
}

func TestSubscribe_UnknownProfile(t *testing.T) {
	store := &fakeJobStore{updateErr: jobs.ErrProfileNotFound}
	publisher := &fakePublisher{}
	router := newTestRouter(store, publisher, &fakePresigner{})

	w := doRequest(router, http.MethodPost, "/subscribe", "user-1")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, publisher.keys)
}
