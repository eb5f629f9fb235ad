package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"taskboard/domain"
)

const userPartition = "user"

var retryStatusCodes = []int{408, 429, 500, 502, 503, 504}

// Tables stores tasks and users in Azure Table Storage. Tasks are
// partitioned by owner; users live in a single partition keyed by the
// normalized email address.
type Tables struct {
	taskTable *aztables.Client
	userTable *aztables.Client
}

// NewTables creates a Tables instance from the given connection string.
func NewTables(connStr, tasksTable, usersTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{taskTable: svc.NewClient(tasksTable), userTable: svc.NewClient(usersTable)}, nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	Priority    string `json:"Priority"`
	DueDate     string `json:"DueDate"`
	CreatedAt   int64  `json:"CreatedAt"`
}

func newTaskEntity(userID string, t domain.Task) taskEntity {
	ent := taskEntity{
		Entity:      aztables.Entity{PartitionKey: userID, RowKey: t.ID},
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		CreatedAt:   t.CreatedAt.UnixMilli(),
	}
	if t.DueDate != nil {
		ent.DueDate = t.DueDate.String()
	}
	return ent
}

func (e taskEntity) task() (domain.Task, error) {
	t := domain.Task{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		Status:      domain.Status(e.Status),
		Priority:    domain.Priority(e.Priority),
		CreatedAt:   time.UnixMilli(e.CreatedAt).UTC(),
	}
	if e.DueDate != "" {
		d, err := domain.ParseDate(e.DueDate)
		if err != nil {
			return domain.Task{}, fmt.Errorf("task %s: %w", e.RowKey, err)
		}
		t.DueDate = &d
	}
	return t, nil
}

type userEntity struct {
	aztables.Entity
	UserID       string `json:"UserId"`
	Name         string `json:"Name"`
	Email        string `json:"Email"`
	PasswordHash string `json:"PasswordHash"`
}

func newUserEntity(u domain.User) userEntity {
	return userEntity{
		Entity:       aztables.Entity{PartitionKey: userPartition, RowKey: domain.NormalizeEmail(u.Email)},
		UserID:       u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
	}
}

func (e userEntity) user() domain.User {
	return domain.User{ID: e.UserID, Name: e.Name, Email: e.Email, PasswordHash: e.PasswordHash}
}

func partitionFilter(pk string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(pk, "'", "''") + "'"
}

// ListTasks retrieves all tasks for the provided user.
func (s *Tables) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := partitionFilter(userID)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			t, err := ent.task()
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (s *Tables) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, userID, id, nil)
	if err != nil {
		return domain.Task{}, notFound(err)
	}
	var ent taskEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	return ent.task()
}

func (s *Tables) PutTask(ctx context.Context, userID string, task domain.Task) error {
	payload, err := sonic.Marshal(newTaskEntity(userID, task))
	if err != nil {
		return err
	}
	_, err = s.taskTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (s *Tables) DeleteTask(ctx context.Context, userID, id string) error {
	_, err := s.taskTable.DeleteEntity(ctx, userID, id, nil)
	return notFound(err)
}

func (s *Tables) CreateUser(ctx context.Context, user domain.User) error {
	payload, err := sonic.Marshal(newUserEntity(user))
	if err != nil {
		return err
	}
	if _, err := s.userTable.AddEntity(ctx, payload, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) &&
			(respErr.StatusCode == http.StatusConflict || respErr.ErrorCode == string(aztables.EntityAlreadyExists)) {
			return fmt.Errorf("%w: %s", domain.ErrEmailTaken, user.Email)
		}
		return err
	}
	return nil
}

func (s *Tables) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	resp, err := s.userTable.GetEntity(ctx, userPartition, domain.NormalizeEmail(email), nil)
	if err != nil {
		return domain.User{}, notFound(err)
	}
	var ent userEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return domain.User{}, err
	}
	return ent.user(), nil
}

// notFound maps a 404 response onto domain.ErrNotFound.
func notFound(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, respErr.ErrorCode)
	}
	return err
}
