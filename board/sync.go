package board

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskboard/domain"
)

const tracerName = "taskboard/board"

// pendingRun tracks an unconfirmed status change. previous is the status
// held before the first request of the run, so a rollback restores the last
// confirmed column even after several superseding moves.
type pendingRun struct {
	previous domain.Status
	target   domain.Status
	seq      uint64
}

// Engine applies status transitions optimistically and reconciles them with
// the server. A task is Stable when it has no entry in pending and Pending
// otherwise. Only the latest request per task is honoured; responses to
// superseded requests are dropped.
type Engine struct {
	store  *Store
	api    API
	logger *log.Logger

	mu        sync.Mutex
	pending   map[string]*pendingRun
	seq       uint64
	expired   bool
	onOutcome func(Outcome)

	inflight sync.WaitGroup
}

func NewEngine(store *Store, api API, logger *log.Logger) *Engine {
	if store == nil {
		panic("board.NewEngine: store is nil")
	}
	if api == nil {
		panic("board.NewEngine: api is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{
		store:   store,
		api:     api,
		logger:  logger,
		pending: make(map[string]*pendingRun),
	}
}

// OnOutcome registers a callback for reported outcomes, typically a
// notification toast. It is called outside the engine lock.
func (e *Engine) OnOutcome(fn func(Outcome)) {
	e.mu.Lock()
	e.onOutcome = fn
	e.mu.Unlock()
}

func (e *Engine) Store() *Store {
	return e.store
}

// Pending reports whether a transition for id awaits confirmation.
func (e *Engine) Pending(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[id]
	return ok
}

// Expired reports whether the session was rejected by the server. An
// expired engine refuses further work; callers must sign in again and
// start a new board session.
func (e *Engine) Expired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expired
}

// Load hydrates the store from the server, replacing its contents.
func (e *Engine) Load(ctx context.Context) error {
	if err := e.checkSession(); err != nil {
		return err
	}
	tasks, err := e.api.ListTasks(ctx)
	if err != nil {
		e.noteFailure(err)
		return fmt.Errorf("load tasks: %w", err)
	}
	e.mu.Lock()
	e.pending = make(map[string]*pendingRun)
	e.store.Load(tasks)
	e.mu.Unlock()
	e.logger.WithField("tasks", len(tasks)).Debug("board.loaded")
	return nil
}

// Begin applies a status change locally. It returns false when the task
// already shows target, in which case nothing is sent. A Begin for a task
// that is already pending supersedes the earlier request.
func (e *Engine) Begin(id string, target domain.Status) (Transition, bool, error) {
	if !target.Valid() {
		return Transition{}, false, &domain.ValidationError{Field: "status", Message: "unknown status " + string(target)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.expired {
		return Transition{}, false, domain.ErrAuthExpired
	}
	task, ok := e.store.Get(id)
	if !ok {
		return Transition{}, false, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if !domain.IsValidTransition(task.Status, target) {
		return Transition{}, false, nil
	}

	run, ok := e.pending[id]
	if !ok {
		run = &pendingRun{previous: task.Status}
		e.pending[id] = run
	}
	e.seq++
	run.seq = e.seq
	run.target = target
	e.store.SetStatus(id, target)

	return Transition{TaskID: id, Target: target, Previous: run.previous, Seq: run.seq}, true, nil
}

// Send issues the update request for tr. It is the only blocking step of a
// transition and runs without holding the engine lock.
func (e *Engine) Send(ctx context.Context, tr Transition) (domain.Task, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "board.transition",
		trace.WithAttributes(
			attribute.String("task.id", tr.TaskID),
			attribute.String("task.status.previous", string(tr.Previous)),
			attribute.String("task.status.target", string(tr.Target)),
			attribute.Int64("board.transition.seq", int64(tr.Seq)),
		))
	defer span.End()

	task, err := e.api.UpdateTask(ctx, tr.TaskID, domain.StatusPatch(tr.Target))
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("board.failure_kind", string(Classify(err))))
		span.SetStatus(codes.Error, err.Error())
		return domain.Task{}, err
	}
	span.SetStatus(codes.Ok, "")
	return task, nil
}

// Settle reconciles the response to tr. The boolean is false when tr was
// superseded or dropped, in which case nothing changed and nothing is
// reported.
func (e *Engine) Settle(tr Transition, server domain.Task, err error) (Outcome, bool) {
	e.mu.Lock()
	run, ok := e.pending[tr.TaskID]
	if !ok || run.seq != tr.Seq {
		e.mu.Unlock()
		e.logger.WithFields(log.Fields{
			"task_id": tr.TaskID,
			"seq":     tr.Seq,
		}).Debug("board.transition.stale")
		return Outcome{}, false
	}
	delete(e.pending, tr.TaskID)

	out := Outcome{TaskID: tr.TaskID, Target: tr.Target}
	if err == nil {
		// A transition response settles the status only. Other fields come
		// from Edit responses, which may have been applied in between.
		if server.ID == tr.TaskID && server.Status.Valid() {
			e.store.SetStatus(tr.TaskID, server.Status)
		}
		out.OK = true
		out.Task, _ = e.store.Get(tr.TaskID)
	} else {
		out.Kind = Classify(err)
		out.Reason = err
		if out.Kind == FailureAuthExpired {
			e.expired = true
		}
		if _, exists := e.store.SetStatus(tr.TaskID, run.previous); exists {
			out.Task, _ = e.store.Get(tr.TaskID)
		}
	}
	notify := e.onOutcome
	e.mu.Unlock()

	if out.OK {
		e.logger.WithFields(log.Fields{
			"task_id": tr.TaskID,
			"status":  out.Task.Status,
		}).Debug("board.transition.confirmed")
	} else {
		e.logger.WithFields(log.Fields{
			"task_id":      tr.TaskID,
			"target":       tr.Target,
			"restored":     run.previous,
			"failure_kind": out.Kind,
			"error":        err.Error(),
		}).Warn("board.transition.rolled_back")
	}
	if notify != nil {
		notify(out)
	}
	return out, true
}

// Dispatch sends tr in the background. The channel yields the outcome if it
// is reported and is closed afterwards.
func (e *Engine) Dispatch(ctx context.Context, tr Transition) <-chan Outcome {
	ch := make(chan Outcome, 1)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer close(ch)
		task, err := e.Send(ctx, tr)
		if out, ok := e.Settle(tr, task, err); ok {
			ch <- out
		}
	}()
	return ch
}

// RequestTransition moves a task to target optimistically and confirms it
// in the background. Moving a task onto its current column returns a closed
// channel and sends nothing.
func (e *Engine) RequestTransition(ctx context.Context, id string, target domain.Status) (<-chan Outcome, error) {
	tr, ok, err := e.Begin(id, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		ch := make(chan Outcome)
		close(ch)
		return ch, nil
	}
	return e.Dispatch(ctx, tr), nil
}

// Wait blocks until every dispatched transition has settled.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Create validates a draft, creates it on the server and adds the result.
func (e *Engine) Create(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	if err := draft.Validate(); err != nil {
		return domain.Task{}, err
	}
	if err := e.checkSession(); err != nil {
		return domain.Task{}, err
	}
	task, err := e.api.CreateTask(ctx, draft.Normalize())
	if err != nil {
		e.noteFailure(err)
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	e.store.Upsert(task)
	return task, nil
}

// Edit changes the non-status fields of a task. Edits are confirmed before
// they are shown; a pending optimistic status survives the server response.
func (e *Engine) Edit(ctx context.Context, id string, patch domain.Patch) (domain.Task, error) {
	if patch.Status != nil {
		return domain.Task{}, &domain.ValidationError{Field: "status", Message: "status changes go through transitions"}
	}
	if err := patch.Validate(); err != nil {
		return domain.Task{}, err
	}
	if err := e.checkSession(); err != nil {
		return domain.Task{}, err
	}
	if _, ok := e.store.Get(id); !ok {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	updated, err := e.api.UpdateTask(ctx, id, patch)
	if err != nil {
		e.noteFailure(err)
		return domain.Task{}, fmt.Errorf("edit task %s: %w", id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	current, ok := e.store.Get(id)
	if !ok {
		return updated, nil
	}
	if _, pending := e.pending[id]; pending {
		updated.Status = current.Status
	}
	e.store.Upsert(updated)
	return updated, nil
}

// Delete removes a task on the server and then from the board. A pending
// transition for the task is dropped, so its late response is discarded.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.checkSession(); err != nil {
		return err
	}
	if err := e.api.DeleteTask(ctx, id); err != nil {
		e.noteFailure(err)
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	e.mu.Lock()
	delete(e.pending, id)
	e.store.Remove(id)
	e.mu.Unlock()
	return nil
}

func (e *Engine) checkSession() error {
	if e.Expired() {
		return domain.ErrAuthExpired
	}
	return nil
}

func (e *Engine) noteFailure(err error) {
	kind := Classify(err)
	if kind == FailureAuthExpired {
		e.mu.Lock()
		e.expired = true
		e.mu.Unlock()
	}
	e.logger.WithFields(log.Fields{
		"failure_kind": kind,
		"error":        err.Error(),
	}).Warn("board.request.failed")
}
