package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/persistence"
)

func TestToFirestoreUpdates(t *testing.T) {
	t.Parallel()

	updates, err := toFirestoreUpdates([]persistence.FieldUpdate{
		persistence.Set("status", "UPLOADED"),
		persistence.SetPath("PARSED", "documents", "doc.with.dots"),
		persistence.ArrayUnion("collectionIds", "c1"),
		persistence.ArrayRemove("documentIds", "d1", "d2"),
	})
	require.NoError(t, err)
	require.Len(t, updates, 4)

	assert.Equal(t, firestore.FieldPath{"status"}, updates[0].FieldPath)
	assert.Equal(t, "UPLOADED", updates[0].Value)
	assert.Equal(t, firestore.FieldPath{"documents", "doc.with.dots"}, updates[1].FieldPath)
	assert.Equal(t, firestore.FieldPath{"collectionIds"}, updates[2].FieldPath)
	assert.NotEqual(t, []any{"c1"}, updates[2].Value, "array union must be a Firestore transform")

	_, err = toFirestoreUpdates([]persistence.FieldUpdate{persistence.Merge("documents", map[string]any{"a": "b"})})
	assert.Error(t, err)
}

type fakeExecutions struct {
	mu    sync.Mutex
	reqs  []*executionspb.CreateExecutionRequest
	fail  error
	calls int
}

func (f *fakeExecutions) CreateExecution(_ context.Context, req *executionspb.CreateExecutionRequest, _ ...gax.CallOption) (*executionspb.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	f.reqs = append(f.reqs, req)
	return &executionspb.Execution{Name: req.Parent + "/executions/e1"}, nil
}

func TestWorkflowQueue_Submit(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutions{}
	q := newWorkflowQueue(fake, "proj", "us-central1", "dispatch")

	handle, err := q.Submit(context.Background(), "https://extractor", []byte(`{"documentId":"d1"}`))
	require.NoError(t, err)
	assert.Equal(t, "projects/proj/locations/us-central1/workflows/dispatch/executions/e1", handle)

	require.Len(t, fake.reqs, 1)
	var task WorkflowTask
	require.NoError(t, json.Unmarshal([]byte(fake.reqs[0].Execution.Argument), &task))
	assert.Equal(t, "https://extractor", task.Endpoint)
	assert.JSONEq(t, `{"documentId":"d1"}`, string(task.Body))
}

func TestWorkflowQueue_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	fake := &fakeExecutions{fail: errors.New("unavailable")}
	q := newWorkflowQueue(fake, "proj", "us-central1", "dispatch")

	for i := 0; i < 5; i++ {
		_, err := q.Submit(context.Background(), "e", []byte(`{}`))
		require.Error(t, err)
	}
	_, err := q.Submit(context.Background(), "e", []byte(`{}`))
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, fake.calls, "open breaker must not reach the API")
}

func TestLocalBlobStore_UploadThenDownload(t *testing.T) {
	t.Parallel()

	var notified []models.StorageObject
	store := NewLocalBlobStore("http://local/blobs", "uploads", func(_ context.Context, obj models.StorageObject) error {
		notified = append(notified, obj)
		return nil
	})
	path := models.ObjectPath{TenantID: "t", CollectionID: "c", DocumentID: "d", Filename: "a.pdf"}

	_, err := store.IssueDownloadLink(context.Background(), path)
	require.ErrorIs(t, err, models.ErrNotFound)

	target, err := store.IssueUploadTarget(context.Background(), path, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "http://local/blobs/t/c/d/a.pdf", target)

	req := httptest.NewRequest(http.MethodPut, "/t/c/d/a.pdf", strings.NewReader("%PDF-1.7"))
	req.Header.Set("Content-Type", "application/pdf")
	rec := httptest.NewRecorder()
	store.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, notified, 1)
	assert.Equal(t, "t/c/d/a.pdf", notified[0].Name)
	assert.Equal(t, "8", notified[0].Size)

	link, err := store.IssueDownloadLink(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, target, link)

	rec = httptest.NewRecorder()
	store.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/t/c/d/a.pdf", nil))
	assert.Equal(t, "%PDF-1.7", rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	store.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bad", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLocalQueue_PostsBody(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- string(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	q := NewLocalQueue(nil)
	handle, err := q.Submit(context.Background(), srv.URL, []byte(`{"documentId":"d1"}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(handle, "local-"))
	q.Wait()

	assert.JSONEq(t, `{"documentId":"d1"}`, <-got)

	_, err = q.Submit(context.Background(), "", []byte(`{}`))
	assert.NoError(t, err)
}

func TestLocalQueue_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		bodies = append(bodies, string(body))
		if len(bodies) == 1 {
			// The worker's callback was refused on the first attempt.
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := NewLocalQueue(nil)
	_, err := q.Submit(context.Background(), srv.URL, []byte(`{"documentId":"d1"}`))
	require.NoError(t, err)
	q.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.JSONEq(t, `{"documentId":"d1"}`, bodies[1], "the body is resent")
}

func TestLocalQueue_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	q := NewLocalQueue(nil)
	_, err := q.Submit(context.Background(), srv.URL, []byte(`{}`))
	require.NoError(t, err)
	q.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
