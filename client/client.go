package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"taskboard/domain"
)

const (
	tasksPath    = "/api/v1/tasks"
	registerPath = "/api/v1/auth/register"
	loginPath    = "/api/v1/auth/login"

	maxErrorBody = 4 << 10
)

// APIError is a non-2xx response other than 401. It unwraps to
// ErrNotFound for 404 and to ErrTransitionConflict otherwise.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return domain.ErrTransitionConflict
}

// Session is what register and login return.
type Session struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

// Client talks JSON to the task API.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a new Client.
func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := c.do(ctx, http.MethodGet, tasksPath, nil, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

func (c *Client) CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	var task domain.Task
	hdr := http.Header{}
	hdr.Set("Idempotency-Key", uuid.NewString())
	err := c.doWithHeader(ctx, http.MethodPost, tasksPath, hdr, draft, &task)
	return task, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, patch domain.Patch) (domain.Task, error) {
	var task domain.Task
	err := c.do(ctx, http.MethodPatch, tasksPath+"/"+url.PathEscape(id), patch, &task)
	return task, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, tasksPath+"/"+url.PathEscape(id), nil, nil)
}

// Register creates an account. A 409 unwraps to ErrEmailTaken.
func (c *Client) Register(ctx context.Context, r domain.Registration) (Session, error) {
	if err := r.Validate(); err != nil {
		return Session{}, err
	}
	var s Session
	err := c.do(ctx, http.MethodPost, registerPath, r, &s)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		return Session{}, fmt.Errorf("%w: %s", domain.ErrEmailTaken, r.Email)
	}
	return s, err
}

// Login exchanges credentials for a session token. Wrong credentials are
// reported as ErrInvalidCredentials rather than an expired session.
func (c *Client) Login(ctx context.Context, creds domain.Credentials) (Session, error) {
	if err := creds.Validate(); err != nil {
		return Session{}, err
	}
	var s Session
	err := c.do(ctx, http.MethodPost, loginPath, creds, &s)
	if errors.Is(err, domain.ErrAuthExpired) {
		return Session{}, domain.ErrInvalidCredentials
	}
	return s, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doWithHeader(ctx, method, path, nil, body, out)
}

func (c *Client) doWithHeader(ctx context.Context, method, path string, hdr http.Header, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrNetworkFailure, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return domain.ErrAuthExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrNetworkFailure, err)
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrNetworkFailure, err)
	}
	return nil
}

func errorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if sonic.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(data))
}
