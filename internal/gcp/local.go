package gcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/Lllllllleong/invoiceflow/internal/models"
)

// The types below stand in for GCS and Workflows when the service runs with
// STORE_DRIVER=memory. They keep the same contracts so the pipeline runs end
// to end on one machine.

// FinalizeFunc is called after an object has been written, like a storage
// "object finalized" notification.
type FinalizeFunc func(ctx context.Context, obj models.StorageObject) error

// LocalBlobStore keeps uploaded objects in memory and serves them over HTTP
// under its base URL.
type LocalBlobStore struct {
	baseURL    string
	bucket     string
	onFinalize FinalizeFunc

	mu      sync.RWMutex
	objects map[string]localObject
}

type localObject struct {
	contentType string
	data        []byte
}

// NewLocalBlobStore returns a store whose links point at baseURL. The store
// must be mounted at baseURL for the links to resolve.
func NewLocalBlobStore(baseURL, bucket string, onFinalize FinalizeFunc) *LocalBlobStore {
	return &LocalBlobStore{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		bucket:     bucket,
		onFinalize: onFinalize,
		objects:    map[string]localObject{},
	}
}

// SetFinalizeFunc replaces the notification hook.
func (s *LocalBlobStore) SetFinalizeFunc(fn FinalizeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinalize = fn
}

// IssueUploadTarget returns a PUT URL for path.
func (s *LocalBlobStore) IssueUploadTarget(_ context.Context, path models.ObjectPath, _ string) (string, error) {
	return s.baseURL + "/" + path.String(), nil
}

// IssueDownloadLink returns a GET URL for an uploaded object, or
// models.ErrNotFound.
func (s *LocalBlobStore) IssueDownloadLink(_ context.Context, path models.ObjectPath) (string, error) {
	name := path.String()
	s.mu.RLock()
	_, ok := s.objects[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%s/%s: %w", s.bucket, name, models.ErrNotFound)
	}
	return s.baseURL + "/" + name, nil
}

// Put stores an object and fires the finalize hook.
func (s *LocalBlobStore) Put(ctx context.Context, name, contentType string, data []byte) error {
	s.mu.Lock()
	s.objects[name] = localObject{contentType: contentType, data: data}
	hook := s.onFinalize
	s.mu.Unlock()

	if hook == nil {
		return nil
	}
	return hook(ctx, models.StorageObject{
		Bucket:      s.bucket,
		Name:        name,
		ContentType: contentType,
		Size:        fmt.Sprint(len(data)),
	})
}

// ServeHTTP accepts PUT uploads and serves GET downloads. The request path
// below the mount point is the object name.
func (s *LocalBlobStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if _, err := models.ParseStoragePath(name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if err := s.Put(r.Context(), name, r.Header.Get("Content-Type"), data); err != nil {
			slog.Error("Upload notification failed.", "gcsObject", name, "error", err)
			http.Error(w, "upload notification failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		s.mu.RLock()
		obj, ok := s.objects[name]
		s.mu.RUnlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		if obj.contentType != "" {
			w.Header().Set("Content-Type", obj.contentType)
		}
		_, _ = w.Write(obj.data)
	default:
		w.Header().Set("Allow", "GET, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Delivery retry policy of LocalQueue. A worker answers 5xx when its callback
// was refused, for example because it raced ahead of the IN_PROGRESS write.
const (
	localQueueRetries      = 3
	localQueueRetryWait    = 200 * time.Millisecond
	localQueueRetryMaxWait = 2 * time.Second
)

// LocalQueue POSTs each task body to its endpoint from a background goroutine,
// the way a dispatcher workflow would, retrying transport errors and 5xx
// replies a bounded number of times.
type LocalQueue struct {
	client *resty.Client
	wg     sync.WaitGroup
}

// NewLocalQueue returns a queue that posts with client. A nil client gets a
// default one. The retry policy is installed on client.
func NewLocalQueue(client *resty.Client) *LocalQueue {
	if client == nil {
		client = resty.New().SetHeader("Content-Type", "application/json")
	}
	client.
		SetRetryCount(localQueueRetries).
		SetRetryWaitTime(localQueueRetryWait).
		SetRetryMaxWaitTime(localQueueRetryMaxWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})
	return &LocalQueue{client: client}
}

// Submit schedules the POST and returns a handle immediately. An empty
// endpoint only logs the task.
func (q *LocalQueue) Submit(_ context.Context, endpoint string, body []byte) (string, error) {
	handle := "local-" + uuid.NewString()
	logCtx := slog.With("taskHandle", handle, "endpoint", endpoint)
	if endpoint == "" {
		logCtx.Info("No task endpoint configured. Task logged only.", "bytes", len(body))
		return handle, nil
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		resp, err := q.client.R().
			SetContext(context.Background()).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(endpoint)
		if err != nil {
			logCtx.Error("Task delivery failed.", "error", err)
			return
		}
		if resp.IsError() {
			logCtx.Error("Task endpoint rejected the task.", "status", resp.StatusCode(), "attempts", resp.Request.Attempt, "body", resp.String())
			return
		}
		logCtx.Info("Task delivered.", "status", resp.StatusCode(), "attempts", resp.Request.Attempt)
	}()
	return handle, nil
}

// Wait blocks until every scheduled delivery has finished.
func (q *LocalQueue) Wait() {
	q.wg.Wait()
}
