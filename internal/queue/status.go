package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// ErrTaskFailed is returned by WaitForResult for a task asynq archived.
var ErrTaskFailed = errors.New("task failed")

// Inspector is the subset of *asynq.Inspector used to read run state.
type Inspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

// RunStatus is the externally visible state of one run.
type RunStatus struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Type        string          `json:"type"`
	State       string          `json:"state"`
	Retried     int             `json:"retried"`
	MaxRetry    int             `json:"max_retry"`
	LastError   string          `json:"last_error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func StatusOf(info *asynq.TaskInfo) RunStatus {
	st := RunStatus{
		ID:        info.ID,
		Queue:     info.Queue,
		Type:      info.Type,
		State:     info.State.String(),
		Retried:   info.Retried,
		MaxRetry:  info.MaxRetry,
		LastError: info.LastErr,
	}
	if len(info.Result) > 0 && json.Valid(info.Result) {
		st.Result = json.RawMessage(info.Result)
	}
	if !info.CompletedAt.IsZero() {
		at := info.CompletedAt
		st.CompletedAt = &at
	}
	return st
}

// WaitForResult polls until the task completes or is archived, or ctx ends.
func WaitForResult(ctx context.Context, insp Inspector, queue, id string, interval time.Duration) (*asynq.TaskInfo, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		info, err := insp.GetTaskInfo(queue, id)
		if err != nil {
			return nil, err
		}
		switch info.State {
		case asynq.TaskStateCompleted:
			return info, nil
		case asynq.TaskStateArchived:
			return info, ErrTaskFailed
		}

		select {
		case <-ctx.Done():
			return info, ctx.Err()
		case <-ticker.C:
		}
	}
}
