package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"conversepdf/internal/config"
	"conversepdf/internal/database"
	"conversepdf/internal/queue"
	"conversepdf/models"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	q := queue.QueueDefault
	if task.Type() == queue.TypeIngest {
		q = queue.QueueCritical
	}
	return &asynq.TaskInfo{ID: "task-1", Queue: q, Type: task.Type(), State: asynq.TaskStatePending}, nil
}

// fakeInspector returns the pending state until polled `after` times.
type fakeInspector struct {
	mu    sync.Mutex
	polls int
	after int
	final *asynq.TaskInfo
}

func (f *fakeInspector) GetTaskInfo(q, id string) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.final == nil {
		return nil, asynq.ErrTaskNotFound
	}
	f.polls++
	if f.polls <= f.after {
		return &asynq.TaskInfo{ID: id, Queue: q, State: asynq.TaskStateActive}, nil
	}
	return f.final, nil
}

type fakeRegistry struct {
	pending map[string]string
	records []models.IngestionRecord
}

func (f *fakeRegistry) MarkPending(_ context.Context, sourceID, _, taskID string) error {
	f.pending[sourceID] = taskID
	return nil
}

func (f *fakeRegistry) Get(_ context.Context, sourceID string) (*models.IngestionRecord, error) {
	for _, r := range f.records {
		if r.SourceID == sourceID {
			return &r, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeRegistry) List(_ context.Context, limit int) ([]models.IngestionRecord, error) {
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

type harness struct {
	router   *gin.Engine
	queue    *fakeQueue
	insp     *fakeInspector
	registry *fakeRegistry
	storage  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	waitPollInterval = time.Millisecond

	h := &harness{
		router:   gin.New(),
		queue:    &fakeQueue{},
		insp:     &fakeInspector{},
		registry: &fakeRegistry{pending: map[string]string{}},
		storage:  t.TempDir(),
	}
	SetupRAGRoutes(h.router, API{
		Config: &config.Config{
			FileStorageDir:   h.storage,
			MaxFileSize:      1 << 20,
			DefaultTopK:      5,
			MaxTopK:          20,
			QueryWaitTimeout: 200 * time.Millisecond,
		},
		Queue:     h.queue,
		Inspector: h.insp,
		Registry:  h.registry,
	})
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body.ErrorCode
}

func TestDocumentUpload(t *testing.T) {
	h := newHarness(t)
	w := h.do(uploadRequest(t, "report.pdf", []byte("%PDF-1.4 body")))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp models.UploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SourceID != "report.pdf" || resp.TaskID != "task-1" || resp.Queue != queue.QueueCritical {
		t.Fatalf("unexpected response %+v", resp)
	}

	saved, err := os.ReadFile(filepath.Join(h.storage, "report.pdf"))
	if err != nil || string(saved) != "%PDF-1.4 body" {
		t.Fatalf("saved file = %q, %v", saved, err)
	}

	var req models.IngestRequest
	if err := json.Unmarshal(h.queue.tasks[0].Payload(), &req); err != nil {
		t.Fatal(err)
	}
	if req.SourceID != "report.pdf" || req.DocumentReference != filepath.Join(h.storage, "report.pdf") {
		t.Fatalf("task payload = %+v", req)
	}
	if h.registry.pending["report.pdf"] != "task-1" {
		t.Fatalf("pending record not written: %v", h.registry.pending)
	}
}

func TestDocumentUploadRejects(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		status   int
		code     string
	}{
		{"not a pdf name", "notes.txt", []byte("%PDF-1.4"), http.StatusBadRequest, "invalid_file_type"},
		{"bad header", "fake.pdf", []byte("hello world"), http.StatusBadRequest, "invalid_pdf"},
		{"too large", "big.pdf", append([]byte("%PDF"), make([]byte, 1<<20+100)...), http.StatusRequestEntityTooLarge, "file_too_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			w := h.do(uploadRequest(t, tt.filename, tt.content))
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if code := errorCode(t, w); code != tt.code {
				t.Fatalf("error_code = %s, want %s", code, tt.code)
			}
			if len(h.queue.tasks) != 0 {
				t.Fatal("rejected upload must not be enqueued")
			}
		})
	}
}

func TestDocumentUploadStripsDirectories(t *testing.T) {
	h := newHarness(t)
	w := h.do(uploadRequest(t, "../../etc/evil.pdf", []byte("%PDF-1.4")))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	if _, err := os.Stat(filepath.Join(h.storage, "evil.pdf")); err != nil {
		t.Fatalf("file should land inside storage: %v", err)
	}
}

func TestIngestByReference(t *testing.T) {
	h := newHarness(t)
	w := h.do(jsonRequest(http.MethodPost, "/api/v1/ingest", `{"document_reference":"/data/doc1.pdf"}`))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if h.registry.pending["/data/doc1.pdf"] != "task-1" {
		t.Fatalf("source id should default to the reference: %v", h.registry.pending)
	}

	w = h.do(jsonRequest(http.MethodPost, "/api/v1/ingest", `{}`))
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "invalid_argument" {
		t.Fatalf("empty request: status = %d %s", w.Code, w.Body.String())
	}
}

func TestIngestQueueDown(t *testing.T) {
	h := newHarness(t)
	h.queue.err = errors.New("redis down")
	w := h.do(jsonRequest(http.MethodPost, "/api/v1/ingest", `{"document_reference":"a.txt"}`))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	if len(h.registry.pending) != 0 {
		t.Fatal("nothing should be recorded when enqueue fails")
	}
}

func TestQueryValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty question", `{"question":"  "}`},
		{"top_k zero", `{"question":"q","top_k":0}`},
		{"top_k too large", `{"question":"q","top_k":21}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			w := h.do(jsonRequest(http.MethodPost, "/api/v1/query", tt.body))
			if w.Code != http.StatusBadRequest || errorCode(t, w) != "invalid_argument" {
				t.Fatalf("status = %d %s", w.Code, w.Body.String())
			}
			if len(h.queue.tasks) != 0 {
				t.Fatal("invalid query must not be enqueued")
			}
		})
	}
}

func TestQueryAsync(t *testing.T) {
	h := newHarness(t)
	w := h.do(jsonRequest(http.MethodPost, "/api/v1/query", `{"question":"What is X?","top_k":3}`))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	var req models.QueryRequest
	json.Unmarshal(h.queue.tasks[0].Payload(), &req)
	if req.Question != "What is X?" || req.TopK == nil || *req.TopK != 3 {
		t.Fatalf("payload = %+v", req)
	}
}

func TestQueryWait(t *testing.T) {
	answer := models.Answer{Answer: "X is Y.", Sources: []string{"doc1"}, ContextCount: 2}
	result, _ := json.Marshal(answer)

	tests := []struct {
		name   string
		final  *asynq.TaskInfo
		after  int
		status int
	}{
		{"completed", &asynq.TaskInfo{State: asynq.TaskStateCompleted, Result: result}, 2, http.StatusOK},
		{"archived", &asynq.TaskInfo{State: asynq.TaskStateArchived, LastErr: "embedding_provider: down"}, 0, http.StatusBadGateway},
		{"still running", &asynq.TaskInfo{State: asynq.TaskStateActive}, 0, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.insp.final, h.insp.after = tt.final, tt.after

			w := h.do(jsonRequest(http.MethodPost, "/api/v1/query?wait=true", `{"question":"What is X?"}`))
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if tt.status == http.StatusOK {
				var got models.Answer
				json.Unmarshal(w.Body.Bytes(), &got)
				if got.Answer != answer.Answer || len(got.Sources) != 1 || got.ContextCount != 2 {
					t.Fatalf("answer = %+v", got)
				}
			}
		})
	}
}

func TestRunStatus(t *testing.T) {
	h := newHarness(t)
	w := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/runs/default/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}

	h.insp.final = &asynq.TaskInfo{ID: "abc", Queue: "default", State: asynq.TaskStateRetry, Retried: 1, MaxRetry: 3, LastErr: "vector_store: timeout"}
	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/runs/default/abc", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st queue.RunStatus
	json.Unmarshal(w.Body.Bytes(), &st)
	if st.State != "retry" || st.Retried != 1 || st.LastError == "" {
		t.Fatalf("status = %+v", st)
	}
}

func TestDocumentStatus(t *testing.T) {
	h := newHarness(t)
	h.registry.records = []models.IngestionRecord{
		{SourceID: "a.pdf", Status: models.StatusCompleted, ChunkCount: 4},
		{SourceID: "b.pdf", Status: models.StatusFailed},
	}

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents?limit=1", nil))
	var list struct {
		Documents []models.IngestionRecord `json:"documents"`
		Count     int                      `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &list)
	if w.Code != http.StatusOK || list.Count != 1 || list.Documents[0].SourceID != "a.pdf" {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/a.pdf", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"chunk_count":4`) {
		t.Fatalf("get = %d %s", w.Code, w.Body.String())
	}

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/zzz.pdf", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing = %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	if w := h.do(httptest.NewRequest(http.MethodGet, "/health", nil)); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
