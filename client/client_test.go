package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "tok")
}

func TestUpdateTaskSendsStatusPatch(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/v1/tasks/t1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"status":"COMPLETED"}` {
			t.Errorf("unexpected body %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"t1","title":"a","status":"COMPLETED","priority":"HIGH","createdAt":"2024-06-01T09:00:00Z"}`))
	})

	task, err := c.UpdateTask(context.Background(), "t1", domain.StatusPatch(domain.StatusCompleted))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Status != domain.StatusCompleted || task.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		want   error
		msg    string
	}{
		"unauthorized": {http.StatusUnauthorized, `{"message":"expired"}`, domain.ErrAuthExpired, ""},
		"not found":    {http.StatusNotFound, `{"message":"task not found"}`, domain.ErrNotFound, "task not found"},
		"rejected":     {http.StatusUnprocessableEntity, `{"message":"nope"}`, domain.ErrTransitionConflict, "nope"},
		"server error": {http.StatusInternalServerError, "boom", domain.ErrTransitionConflict, "boom"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			_, err := c.UpdateTask(context.Background(), "t1", domain.StatusPatch(domain.StatusTodo))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var apiErr *APIError
			if tc.msg != "" && (!errors.As(err, &apiErr) || apiErr.Message != tc.msg) {
				t.Fatalf("expected message %q, got %v", tc.msg, err)
			}
		})
	}
}

func TestTransportFailureIsNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, "")
	_, err := c.ListTasks(context.Background())
	if !errors.Is(err, domain.ErrNetworkFailure) {
		t.Fatalf("expected network failure, got %v", err)
	}
}

func TestMalformedResponseIsNetworkFailure(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":`))
	})
	_, err := c.UpdateTask(context.Background(), "t1", domain.StatusPatch(domain.StatusTodo))
	if !errors.Is(err, domain.ErrNetworkFailure) {
		t.Fatalf("expected network failure, got %v", err)
	}
}

func TestListTasksEmpty(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	tasks, err := c.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty slice, got %#v", tasks)
	}
}

func TestCreateAndDelete(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var d domain.TaskDraft
			body, _ := io.ReadAll(r.Body)
			if err := sonic.Unmarshal(body, &d); err != nil {
				t.Errorf("decode: %v", err)
			}
			out, _ := sonic.Marshal(d.Task("new", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
			w.WriteHeader(http.StatusCreated)
			w.Write(out)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	task, err := c.CreateTask(context.Background(), domain.TaskDraft{Title: "write"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID != "new" || task.Status != domain.StatusTodo {
		t.Fatalf("unexpected task %+v", task)
	}
	if err := c.DeleteTask(context.Background(), "new"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestRegisterConflict(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"email already registered"}`))
	})
	_, err := c.Register(context.Background(), domain.Registration{
		Name: "Sam", Email: "sam@example.com", Password: "password1", ConfirmPassword: "password1",
	})
	if !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterValidatesLocally(t *testing.T) {
	called := false
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	_, err := c.Register(context.Background(), domain.Registration{
		Name: "Sam", Email: "sam@example.com", Password: "short", ConfirmPassword: "short",
	})
	if !domain.IsValidation(err) || called {
		t.Fatalf("expected local validation error, got %v (called=%v)", err, called)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Login(context.Background(), domain.Credentials{Email: "sam@example.com", Password: "x"})
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginReturnsSession(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"user":{"id":"u1","name":"Sam","email":"sam@example.com"},"token":"jwt"}`))
	})
	s, err := c.Login(context.Background(), domain.Credentials{Email: "sam@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.Token != "jwt" || s.User.ID != "u1" {
		t.Fatalf("unexpected session %+v", s)
	}
}
