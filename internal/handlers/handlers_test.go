package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/invoiceflow/internal/broadcast"
	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/Lllllllleong/invoiceflow/internal/services"
)

type fakePipeline struct {
	events *broadcast.Registry

	createReq  *models.CreateCollectionRequest
	uploaded   []models.StorageObject
	callbacks  []*models.ExtractionCallback
	approvedBy string
	err        error
}

func (p *fakePipeline) CreateCollection(_ context.Context, req *models.CreateCollectionRequest) (*models.CreateCollectionResponse, error) {
	p.createReq = req
	if p.err != nil {
		return nil, p.err
	}
	return &models.CreateCollectionResponse{CollectionID: "c1", Status: models.CollectionReceived}, nil
}

func (p *fakePipeline) GetCollection(_ context.Context, id string) (*models.Collection, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &models.Collection{ID: id, Status: models.CollectionInProgress}, nil
}

func (p *fakePipeline) DeleteCollection(_ context.Context, id, _ string) (*models.Collection, error) {
	return &models.Collection{ID: id, Status: models.CollectionDeleted}, p.err
}

func (p *fakePipeline) Watch(_ context.Context, id string) (models.StatusEvent, *broadcast.Subscription, error) {
	if p.err != nil {
		return models.StatusEvent{}, nil, p.err
	}
	sub, ok := p.events.Subscribe(id)
	if !ok {
		sub = nil
	}
	return models.StatusEvent{ID: id, Status: models.CollectionReceived}, sub, nil
}

func (p *fakePipeline) GetDocument(_ context.Context, id string) (*models.Document, error) {
	return &models.Document{ID: id, Status: models.DocumentValidated}, p.err
}

func (p *fakePipeline) ApproveDocument(_ context.Context, id, userID string) (*models.Document, error) {
	p.approvedBy = userID
	return &models.Document{ID: id, Status: models.DocumentApproved}, p.err
}

func (p *fakePipeline) HandleFileUploaded(_ context.Context, obj models.StorageObject) error {
	p.uploaded = append(p.uploaded, obj)
	return p.err
}

func (p *fakePipeline) HandleExtractionCallback(_ context.Context, cb *models.ExtractionCallback) error {
	p.callbacks = append(p.callbacks, cb)
	return p.err
}

func serve(t *testing.T, p *fakePipeline, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(NewHandler(p), nil, nil)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateCollection(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}

	rec := serve(t, p, http.MethodPost, "/collections", `{"userId":"u1","name":"April","documents":[{"name":"a.pdf"}]}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"collectionId":"c1","status":"RECEIVED","documents":null}`, rec.Body.String())
	require.NotNil(t, p.createReq)
	assert.Equal(t, "u1", p.createReq.UserID)
	assert.Equal(t, "a.pdf", p.createReq.Documents[0].Name)

	rec = serve(t, p, http.MethodPost, "/collections", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"INVALID_REQUEST"`)
}

func TestHandler_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
		code models.ErrorCode
	}{
		{"not found", models.NewError(models.CodeNotFound, models.ErrNotFound), http.StatusNotFound, models.CodeNotFound},
		{"invalid transition", models.NewError(models.CodeInvalidTransition, nil), http.StatusConflict, models.CodeInvalidTransition},
		{"store failure", &services.CollectionError{CollectionID: "c1", Code: models.CodeCollectionUpdate, Err: errors.New("boom")}, http.StatusServiceUnavailable, models.CodeCollectionUpdate},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, models.CodeInvoiceProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, &fakePipeline{err: tt.err}, http.MethodGet, "/collections/c1", "")
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":"`+string(tt.code)+`"`)
		})
	}
}

func TestHandler_ExtractionCallback(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}

	rec := serve(t, p, http.MethodPost, "/callbacks/extraction", `{"id":"d1","parsedData":"{}","metadata":{"pageCount":"1"}}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, p.callbacks, 1)
	assert.Equal(t, "d1", p.callbacks[0].ID)
	assert.Equal(t, "1", p.callbacks[0].Metadata["pageCount"])

	p.err = &services.CollectionError{CollectionID: "c1", Code: models.CodeCollectionUpdate, Err: errors.New("boom")}
	rec = serve(t, p, http.MethodPost, "/callbacks/extraction", `{"id":"d1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "worker must retry")
}

func TestHandler_ApproveDocument(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{}

	rec := serve(t, p, http.MethodPost, "/documents/d1/approve", `{"userId":"reviewer"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reviewer", p.approvedBy)
	assert.Contains(t, rec.Body.String(), `"status":"APPROVED"`)
}

func TestHandler_StreamCollection(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{events: broadcast.NewRegistry(8)}
	p.events.Open("c1")

	router := NewRouter(NewHandler(p), nil, nil)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/collections/c1/events", nil))
	}()

	require.Eventually(t, func() bool {
		return p.events.Publish(models.StatusEvent{ID: "c1", Status: models.CollectionInProgress}) == broadcast.PublishSuccess
	}, time.Second, 5*time.Millisecond)
	p.events.Close("c1")
	<-done

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "event: status\ndata: {\"id\":\"c1\",\"name\":\"\",\"status\":\"RECEIVED\""), body)
	assert.Contains(t, body, `"status":"IN_PROGRESS"`)
	assert.True(t, strings.Contains(body, "event: complete\n"), body)
}

func TestHandler_StreamOfCompletedCollection(t *testing.T) {
	t.Parallel()
	p := &fakePipeline{events: broadcast.NewRegistry(8)}

	rec := serve(t, p, http.MethodGet, "/collections/c1/events", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "event: status\n"))
	assert.Equal(t, 1, strings.Count(body, "event: complete\n"))
}

func TestStorageEventFunc(t *testing.T) {
	t.Parallel()

	newEvent := func(t *testing.T, data any) cloudevents.Event {
		e := cloudevents.NewEvent()
		e.SetID("evt-1")
		e.SetSource("//storage.googleapis.com/projects/_/buckets/uploads")
		e.SetType("google.cloud.storage.object.v1.finalized")
		require.NoError(t, e.SetData(cloudevents.ApplicationJSON, data))
		return e
	}

	p := &fakePipeline{}
	fn := StorageEventFunc(p)
	require.NoError(t, fn(context.Background(), newEvent(t, models.StorageObject{Bucket: "uploads", Name: "u1/c1/d1/a.pdf"})))
	require.Len(t, p.uploaded, 1)
	assert.Equal(t, "u1/c1/d1/a.pdf", p.uploaded[0].Name)

	p.err = models.NewError(models.CodeInvalidRequest, errors.New("bad path"))
	assert.NoError(t, fn(context.Background(), newEvent(t, models.StorageObject{Name: "stray.txt"})), "foreign objects are dropped")

	p.err = &services.CollectionError{CollectionID: "c1", Code: models.CodeCollectionCreation, Err: errors.New("boom")}
	assert.Error(t, fn(context.Background(), newEvent(t, models.StorageObject{Name: "u1/c1/d1/a.pdf"})), "store failures are redelivered")
}
