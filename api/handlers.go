package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const (
	routeTasks = "/api/v1/tasks"
	routeTask  = "/api/v1/tasks/:id"
)

// EventSink accepts change events. EventSender is the production sink.
type EventSink interface {
	Send(env domain.EventEnvelope)
}

// Services bundles handler dependencies. Tokens may be nil when sessions
// come from an external issuer; the auth routes are not registered then.
type Services struct {
	Store   Storage
	Auth    Authenticator
	Tokens  TokenIssuer
	Events  EventSink
	Deduper Deduper
	Logger  *log.Logger
}

type discardSink struct{}

func (discardSink) Send(domain.EventEnvelope) {}

func (s Services) withDefaults() Services {
	if s.Store == nil || s.Auth == nil {
		panic("api: store and auth are required")
	}
	if s.Logger == nil {
		s.Logger = log.StandardLogger()
	}
	if s.Events == nil {
		s.Events = discardSink{}
	}
	if s.Deduper == nil {
		s.Deduper = noopDeduper{}
	}
	return s
}

// NewServer returns an echo instance with middleware and routes installed.
func NewServer(svc Services) *echo.Echo {
	svc = svc.withDefaults()
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(RequestLogger(svc.Logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, idempotencyHeader},
	}))
	e.Use(GzipRequestMiddleware())
	Register(e, svc)
	return e
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Services) {
	svc = svc.withDefaults()
	e.JSONSerializer = SonicSerializer{}

	g := e.Group("/api/v1")
	g.GET("/tasks", listTasks(svc))
	g.POST("/tasks", createTask(svc))
	g.PATCH("/tasks/:id", updateTask(svc))
	g.DELETE("/tasks/:id", deleteTask(svc))
	if svc.Tokens != nil {
		g.POST("/auth/register", register(svc))
		g.POST("/auth/login", login(svc))
	}
	e.GET("/healthz", healthz(svc.Store))
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthz(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		if p, ok := store.(pinger); ok {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				return writeError(c, http.StatusServiceUnavailable, "storage unavailable")
			}
		}
		return c.NoContent(http.StatusOK)
	}
}

func listTasks(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		var failure error
		metrics, ctx := beginTaskRequest(c, svc.Logger, routeTasks)
		defer func() { metrics.Log(c.Response().Status, failure) }()

		userID, err := authenticate(c, svc.Auth, metrics)
		if err != nil {
			return writeError(c, http.StatusUnauthorized, err.Error())
		}

		start := time.Now()
		tasks, err := svc.Store.ListTasks(ctx, userID)
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			failure = err
			metrics.SetErrorStage("storage")
			return writeError(c, http.StatusInternalServerError, "failed to load tasks")
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		slices.SortStableFunc(tasks, func(a, b domain.Task) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
		metrics.SetTasksReturned(len(tasks))

		start = time.Now()
		err = c.JSON(http.StatusOK, tasks)
		metrics.ObserveEncode(time.Since(start))
		if err != nil {
			failure = err
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createTask(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		var failure error
		metrics, ctx := beginTaskRequest(c, svc.Logger, routeTasks)
		defer func() { metrics.Log(c.Response().Status, failure) }()

		userID, err := authenticate(c, svc.Auth, metrics)
		if err != nil {
			return writeError(c, http.StatusUnauthorized, err.Error())
		}

		body, err := readBody(c.Request().Body, taskCreateSchema)
		if err != nil {
			metrics.SetErrorStage("validate")
			return writeBodyError(c, err)
		}
		var draft domain.TaskDraft
		if err := sonic.Unmarshal(body, &draft); err != nil {
			metrics.SetErrorStage("decode")
			return writeError(c, http.StatusBadRequest, "invalid body")
		}
		if err := draft.Validate(); err != nil {
			metrics.SetErrorStage("validate")
			return writeError(c, http.StatusBadRequest, err.Error())
		}

		key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
		if key != "" {
			added, err := svc.Deduper.Add(ctx, userID, key)
			switch {
			case err != nil:
				svc.Logger.WithError(err).Warn("idempotency check failed")
			case !added:
				metrics.SetErrorStage("duplicate")
				return writeError(c, http.StatusConflict, "duplicate request")
			}
		}

		task := draft.Task(uuid.NewString(), time.Now().UTC().Truncate(time.Millisecond))
		metrics.SetTaskID(task.ID)
		start := time.Now()
		err = svc.Store.PutTask(ctx, userID, task)
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			if key != "" {
				if rerr := svc.Deduper.Remove(context.Background(), userID, key); rerr != nil {
					svc.Logger.WithError(rerr).Warn("idempotency rollback failed")
				}
			}
			failure = err
			metrics.SetErrorStage("storage")
			return writeError(c, http.StatusInternalServerError, "failed to save task")
		}

		svc.Events.Send(newEvent(userID, "task", task.ID, domain.TaskCreated, task))
		return c.JSON(http.StatusCreated, task)
	}
}

func updateTask(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		var failure error
		metrics, ctx := beginTaskRequest(c, svc.Logger, routeTask)
		defer func() { metrics.Log(c.Response().Status, failure) }()

		userID, err := authenticate(c, svc.Auth, metrics)
		if err != nil {
			return writeError(c, http.StatusUnauthorized, err.Error())
		}
		id := c.Param("id")
		metrics.SetTaskID(id)

		body, err := readBody(c.Request().Body, taskPatchSchema)
		if err != nil {
			metrics.SetErrorStage("validate")
			return writeBodyError(c, err)
		}
		var patch domain.Patch
		if err := sonic.Unmarshal(body, &patch); err != nil {
			metrics.SetErrorStage("decode")
			return writeError(c, http.StatusBadRequest, "invalid body")
		}
		if err := patch.Validate(); err != nil {
			metrics.SetErrorStage("validate")
			return writeError(c, http.StatusBadRequest, err.Error())
		}

		start := time.Now()
		current, err := svc.Store.GetTask(ctx, userID, id)
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			metrics.SetErrorStage("storage")
			if errors.Is(err, domain.ErrNotFound) {
				return writeError(c, http.StatusNotFound, "task not found")
			}
			failure = err
			return writeError(c, http.StatusInternalServerError, "failed to load task")
		}

		updated := patch.Apply(current)
		if err := updated.Validate(); err != nil {
			metrics.SetErrorStage("validate")
			return writeError(c, http.StatusBadRequest, err.Error())
		}
		start = time.Now()
		err = svc.Store.PutTask(ctx, userID, updated)
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			failure = err
			metrics.SetErrorStage("storage")
			return writeError(c, http.StatusInternalServerError, "failed to save task")
		}

		svc.Events.Send(newEvent(userID, "task", id, domain.TaskUpdated, patch))
		return c.JSON(http.StatusOK, updated)
	}
}

func deleteTask(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		var failure error
		metrics, ctx := beginTaskRequest(c, svc.Logger, routeTask)
		defer func() { metrics.Log(c.Response().Status, failure) }()

		userID, err := authenticate(c, svc.Auth, metrics)
		if err != nil {
			return writeError(c, http.StatusUnauthorized, err.Error())
		}
		id := c.Param("id")
		metrics.SetTaskID(id)

		start := time.Now()
		err = svc.Store.DeleteTask(ctx, userID, id)
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			metrics.SetErrorStage("storage")
			if errors.Is(err, domain.ErrNotFound) {
				return writeError(c, http.StatusNotFound, "task not found")
			}
			failure = err
			return writeError(c, http.StatusInternalServerError, "failed to delete task")
		}

		svc.Events.Send(newEvent(userID, "task", id, domain.TaskDeleted, nil))
		return c.NoContent(http.StatusNoContent)
	}
}

func register(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		body, err := readBody(c.Request().Body, registerSchema)
		if err != nil {
			return writeBodyError(c, err)
		}
		var reg domain.Registration
		if err := sonic.Unmarshal(body, &reg); err != nil {
			return writeError(c, http.StatusBadRequest, "invalid body")
		}
		if err := reg.Validate(); err != nil {
			return writeError(c, http.StatusBadRequest, err.Error())
		}

		hash, err := HashPassword(reg.Password)
		if err != nil {
			svc.Logger.WithError(err).Error("hash password")
			return writeError(c, http.StatusInternalServerError, "registration failed")
		}
		user := domain.User{
			ID:           uuid.NewString(),
			Name:         strings.TrimSpace(reg.Name),
			Email:        domain.NormalizeEmail(reg.Email),
			PasswordHash: hash,
		}
		if err := svc.Store.CreateUser(ctx, user); err != nil {
			if errors.Is(err, domain.ErrEmailTaken) {
				return writeError(c, http.StatusConflict, domain.ErrEmailTaken.Error())
			}
			svc.Logger.WithError(err).Error("create user")
			return writeError(c, http.StatusInternalServerError, "registration failed")
		}

		token, err := svc.Tokens.IssueToken(user.ID)
		if err != nil {
			svc.Logger.WithError(err).Error("issue token")
			return writeError(c, http.StatusInternalServerError, "registration failed")
		}
		svc.Events.Send(newEvent(user.ID, "user", user.ID, domain.UserCreated, user))
		return c.JSON(http.StatusCreated, sessionResponse{User: user, Token: token})
	}
}

func login(svc Services) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		body, err := readBody(c.Request().Body, loginSchema)
		if err != nil {
			return writeBodyError(c, err)
		}
		var creds domain.Credentials
		if err := sonic.Unmarshal(body, &creds); err != nil {
			return writeError(c, http.StatusBadRequest, "invalid body")
		}
		if err := creds.Validate(); err != nil {
			return writeError(c, http.StatusBadRequest, err.Error())
		}

		user, err := svc.Store.UserByEmail(ctx, domain.NormalizeEmail(creds.Email))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return writeError(c, http.StatusUnauthorized, domain.ErrInvalidCredentials.Error())
			}
			svc.Logger.WithError(err).Error("load user")
			return writeError(c, http.StatusInternalServerError, "login failed")
		}
		if err := ComparePassword(user.PasswordHash, creds.Password); err != nil {
			if !errors.Is(err, domain.ErrInvalidCredentials) {
				svc.Logger.WithError(err).Warn("compare password")
			}
			return writeError(c, http.StatusUnauthorized, domain.ErrInvalidCredentials.Error())
		}

		token, err := svc.Tokens.IssueToken(user.ID)
		if err != nil {
			svc.Logger.WithError(err).Error("issue token")
			return writeError(c, http.StatusInternalServerError, "login failed")
		}
		return c.JSON(http.StatusOK, sessionResponse{User: user, Token: token})
	}
}

func beginTaskRequest(c echo.Context, logger *log.Logger, route string) (*taskRequestMetrics, context.Context) {
	metrics, ctx := newTaskRequestMetrics(c.Request().Context(), logger, c.Request().Method, route)
	c.SetRequest(c.Request().WithContext(ctx))
	return metrics, ctx
}

func authenticate(c echo.Context, auth Authenticator, metrics *taskRequestMetrics) (string, error) {
	start := time.Now()
	userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	metrics.ObserveAuth(time.Since(start))
	if err != nil {
		metrics.SetErrorStage("auth")
	}
	return userID, err
}

func writeError(c echo.Context, status int, message string) error {
	return c.JSON(status, errorResponse{Message: message})
}

func writeBodyError(c echo.Context, err error) error {
	if errors.Is(err, errBodyTooLarge) {
		return writeError(c, http.StatusRequestEntityTooLarge, err.Error())
	}
	if domain.IsValidation(err) {
		return writeError(c, http.StatusBadRequest, err.Error())
	}
	return writeError(c, http.StatusBadRequest, "invalid body")
}
