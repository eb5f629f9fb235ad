package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
)

type mockStore struct {
	mu     sync.Mutex
	tasks  map[string]map[string]domain.Task
	users  map[string]domain.User
	putErr error
}

func newMockStore() *mockStore {
	return &mockStore{tasks: map[string]map[string]domain.Task{}, users: map[string]domain.User{}}
}

func (m *mockStore) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Task
	for _, t := range m.tasks[userID] {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockStore) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[userID][id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func (m *mockStore) PutTask(ctx context.Context, userID string, task domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	if m.tasks[userID] == nil {
		m.tasks[userID] = map[string]domain.Task{}
	}
	m.tasks[userID][task.ID] = task
	return nil
}

func (m *mockStore) DeleteTask(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[userID][id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.tasks[userID], id)
	return nil
}

func (m *mockStore) CreateUser(ctx context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Email]; ok {
		return domain.ErrEmailTaken
	}
	m.users[user.Email] = user
	return nil
}

func (m *mockStore) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

type mockAuth struct{}

func (mockAuth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	return "user", nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.EventEnvelope
}

func (r *recordingSink) Send(env domain.EventEnvelope) {
	r.mu.Lock()
	r.events = append(r.events, env)
	r.mu.Unlock()
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Event.Type
	}
	return out
}

type mapDeduper struct {
	seen map[string]bool
}

func (m *mapDeduper) Add(_ context.Context, userID, key string) (bool, error) {
	k := userID + ":" + key
	if m.seen[k] {
		return false, nil
	}
	m.seen[k] = true
	return true, nil
}

func (m *mapDeduper) Remove(_ context.Context, userID, key string) error {
	delete(m.seen, userID+":"+key)
	return nil
}

func newTestServer(store *mockStore) (*echo.Echo, *recordingSink) {
	logger, _ := test.NewNullLogger()
	sink := &recordingSink{}
	e := echo.New()
	Register(e, Services{
		Store:   store,
		Auth:    mockAuth{},
		Tokens:  NewSharedSecretAuth([]byte("secret"), "", "", time.Hour),
		Events:  sink,
		Deduper: &mapDeduper{seen: map[string]bool{}},
		Logger:  logger,
	})
	return e, sink
}

func doRequest(e *echo.Echo, method, target, body string, authed bool) *httptest.ResponseRecorder {
	var rdr *strings.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	} else {
		rdr = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if authed {
		req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error json %q: %v", rec.Body.String(), err)
	}
	return resp.Message
}

func seedTask(store *mockStore, id string, status domain.Status, created time.Time) domain.Task {
	task := domain.Task{ID: id, Title: "task " + id, Status: status, Priority: domain.PriorityMedium, CreatedAt: created}
	store.PutTask(context.Background(), "user", task)
	return task
}

func TestListTasksOrderedByCreatedAt(t *testing.T) {
	store := newMockStore()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	seedTask(store, "b", domain.StatusTodo, base.Add(time.Hour))
	seedTask(store, "a", domain.StatusTodo, base)
	e, _ := newTestServer(store)

	rec := doRequest(e, http.MethodGet, "/api/v1/tasks", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "a" || tasks[1].ID != "b" {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
}

func TestListTasksEmptyIsArray(t *testing.T) {
	e, _ := newTestServer(newMockStore())
	rec := doRequest(e, http.MethodGet, "/api/v1/tasks", "", true)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", rec.Body.String())
	}
}

func TestTaskRoutesRequireAuth(t *testing.T) {
	e, _ := newTestServer(newMockStore())
	cases := map[string][2]string{
		"list":   {http.MethodGet, "/api/v1/tasks"},
		"create": {http.MethodPost, "/api/v1/tasks"},
		"update": {http.MethodPatch, "/api/v1/tasks/x"},
		"delete": {http.MethodDelete, "/api/v1/tasks/x"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doRequest(e, tc[0], tc[1], `{"title":"x"}`, false)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 got %d", rec.Code)
			}
			if decodeMessage(t, rec) == "" {
				t.Fatalf("expected error message")
			}
		})
	}
}

func TestCreateTaskAppliesDefaults(t *testing.T) {
	store := newMockStore()
	e, sink := newTestServer(store)

	rec := doRequest(e, http.MethodPost, "/api/v1/tasks", `{"title":"write docs","dueDate":"2024-06-20"}`, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var task domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if task.ID == "" || task.Status != domain.StatusTodo || task.Priority != domain.PriorityMedium {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.DueDate == nil || task.DueDate.String() != "2024-06-20" {
		t.Fatalf("unexpected due date %v", task.DueDate)
	}
	if _, err := store.GetTask(context.Background(), "user", task.ID); err != nil {
		t.Fatalf("task not stored: %v", err)
	}
	if got := sink.types(); len(got) != 1 || got[0] != domain.TaskCreated {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestCreateTaskRejectsInvalidBodies(t *testing.T) {
	e, sink := newTestServer(newMockStore())
	cases := map[string]string{
		"missing title":  `{"priority":"HIGH"}`,
		"blank title":    `{"title":"   "}`,
		"bad status":     `{"title":"x","status":"DONE"}`,
		"unknown field":  `{"title":"x","owner":"y"}`,
		"not json":       `{"title":`,
		"bad due date":   `{"title":"x","dueDate":"tomorrow"}`,
		"wrong type":     `{"title":5}`,
		"array body":     `[]`,
		"empty priority": `{"title":"x","priority":""}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doRequest(e, http.MethodPost, "/api/v1/tasks", body, true)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
	if len(sink.types()) != 0 {
		t.Fatalf("no events expected for rejected requests")
	}
}

func TestCreateTaskDuplicateIdempotencyKey(t *testing.T) {
	e, _ := newTestServer(newMockStore())
	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(`{"title":"x"}`))
		req.Header.Set(echo.HeaderAuthorization, "Bearer token")
		req.Header.Set(idempotencyHeader, "k1")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send(); code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", code)
	}
	if code := send(); code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate got %d", code)
	}
}

func TestCreateTaskStorageFailure(t *testing.T) {
	store := newMockStore()
	store.putErr = errors.New("table unavailable")
	e, _ := newTestServer(store)

	rec := doRequest(e, http.MethodPost, "/api/v1/tasks", `{"title":"x"}`, true)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	store := newMockStore()
	seedTask(store, "t1", domain.StatusTodo, time.Now())
	e, sink := newTestServer(store)

	rec := doRequest(e, http.MethodPatch, "/api/v1/tasks/t1", `{"status":"IN_PROGRESS"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var task domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if task.Status != domain.StatusInProgress || task.Title != "task t1" {
		t.Fatalf("unexpected task %+v", task)
	}
	if got := sink.types(); len(got) != 1 || got[0] != domain.TaskUpdated {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestUpdateTaskClearsDueDate(t *testing.T) {
	store := newMockStore()
	task := seedTask(store, "t1", domain.StatusTodo, time.Now())
	due := domain.NewDate(2024, time.June, 20)
	task.DueDate = &due
	store.PutTask(context.Background(), "user", task)
	e, _ := newTestServer(store)

	rec := doRequest(e, http.MethodPatch, "/api/v1/tasks/t1", `{"dueDate":null}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	got, _ := store.GetTask(context.Background(), "user", "t1")
	if got.DueDate != nil {
		t.Fatalf("expected due date cleared, got %v", got.DueDate)
	}
}

func TestUpdateTaskErrors(t *testing.T) {
	store := newMockStore()
	seedTask(store, "t1", domain.StatusTodo, time.Now())
	e, _ := newTestServer(store)

	cases := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"unknown task", "/api/v1/tasks/missing", `{"status":"COMPLETED"}`, http.StatusNotFound},
		{"empty patch", "/api/v1/tasks/t1", `{}`, http.StatusBadRequest},
		{"bad priority", "/api/v1/tasks/t1", `{"priority":"URGENT"}`, http.StatusBadRequest},
		{"blank title", "/api/v1/tasks/t1", `{"title":" "}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(e, http.MethodPatch, tc.target, tc.body, true)
			if rec.Code != tc.want {
				t.Fatalf("expected %d got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if decodeMessage(t, rec) == "" {
				t.Fatalf("expected message body")
			}
		})
	}
}

func TestDeleteTask(t *testing.T) {
	store := newMockStore()
	seedTask(store, "t1", domain.StatusTodo, time.Now())
	e, sink := newTestServer(store)

	if rec := doRequest(e, http.MethodDelete, "/api/v1/tasks/t1", "", true); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if rec := doRequest(e, http.MethodDelete, "/api/v1/tasks/t1", "", true); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	if got := sink.types(); len(got) != 1 || got[0] != domain.TaskDeleted {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestGzipRequestBody(t *testing.T) {
	e, _ := newTestServer(newMockStore())
	e.Pre(GzipRequestMiddleware())

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(`{"title":"compressed"}`))
	zw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", &buf)
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid gzip got %d", rec.Code)
	}
}

func TestOversizedBody(t *testing.T) {
	e, _ := newTestServer(newMockStore())
	body := `{"title":"` + strings.Repeat("x", maxBodySize) + `"}`
	rec := doRequest(e, http.MethodPost, "/api/v1/tasks", body, true)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", rec.Code)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	store := newMockStore()
	e, sink := newTestServer(store)

	body := `{"name":"Sam","email":"Sam@Example.com","password":"password1","confirmPassword":"password1"}`
	rec := doRequest(e, http.MethodPost, "/api/v1/auth/register", body, false)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var session sessionResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if session.Token == "" || session.User.Email != "sam@example.com" {
		t.Fatalf("unexpected session %+v", session)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("password hash leaked: %s", rec.Body.String())
	}
	if got := sink.types(); len(got) != 1 || got[0] != domain.UserCreated {
		t.Fatalf("unexpected events %v", got)
	}

	if rec := doRequest(e, http.MethodPost, "/api/v1/auth/register", body, false); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}

	rec = doRequest(e, http.MethodPost, "/api/v1/auth/login", `{"email":"sam@example.com","password":"password1"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(e, http.MethodPost, "/api/v1/auth/login", `{"email":"sam@example.com","password":"wrong-password"}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	rec = doRequest(e, http.MethodPost, "/api/v1/auth/login", `{"email":"nobody@example.com","password":"password1"}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestRegisterValidationMessages(t *testing.T) {
	e, _ := newTestServer(newMockStore())
	cases := map[string]struct {
		body string
		msg  string
	}{
		"short password": {
			`{"name":"Sam","email":"sam@example.com","password":"short","confirmPassword":"short"}`,
			"Password should be at least 8 characters",
		},
		"mismatch": {
			`{"name":"Sam","email":"sam@example.com","password":"password1","confirmPassword":"password2"}`,
			"Passwords don't match",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doRequest(e, http.MethodPost, "/api/v1/auth/register", tc.body, false)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", rec.Code)
			}
			if msg := decodeMessage(t, rec); !strings.Contains(msg, tc.msg) {
				t.Fatalf("expected %q in %q", tc.msg, msg)
			}
		})
	}
}

func TestAuthRoutesNeedIssuer(t *testing.T) {
	e := echo.New()
	Register(e, Services{Store: newMockStore(), Auth: mockAuth{}, Logger: log.New()})
	rec := doRequest(e, http.MethodPost, "/api/v1/auth/login", `{"email":"a@b.co","password":"x"}`, false)
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected auth routes to be absent, got %d", rec.Code)
	}
}

type pingStore struct {
	*mockStore
	err error
}

func (p pingStore) Ping(context.Context) error { return p.err }

func TestHealthz(t *testing.T) {
	e := echo.New()
	Register(e, Services{Store: pingStore{newMockStore(), nil}, Auth: mockAuth{}, Logger: log.New()})
	if rec := doRequest(e, http.MethodGet, "/healthz", "", false); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	e = echo.New()
	Register(e, Services{Store: pingStore{newMockStore(), errors.New("down")}, Auth: mockAuth{}, Logger: log.New()})
	if rec := doRequest(e, http.MethodGet, "/healthz", "", false); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}
