package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/hibiken/asynq"

	"conversepdf/internal/logger"
	"conversepdf/internal/queue"
	"conversepdf/models"
)

const inboxJobTag = "inbox-sweep"

// InboxSweeper periodically enqueues ingestion for documents dropped into a directory.
type InboxSweeper struct {
	dir       string
	enqueuer  queue.Enqueuer
	opts      queue.TaskOptions
	scheduler *gocron.Scheduler
	logger    *slog.Logger
}

func NewInboxSweeper(dir string, enqueuer queue.Enqueuer, opts queue.TaskOptions, log *slog.Logger) *InboxSweeper {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	return &InboxSweeper{
		dir:       dir,
		enqueuer:  enqueuer,
		opts:      opts,
		scheduler: s,
		logger:    logger.Or(log),
	}
}

// Start sweeps once immediately and then every interval.
func (s *InboxSweeper) Start(ctx context.Context, interval time.Duration) error {
	_, err := s.scheduler.Every(interval).Tag(inboxJobTag).SingletonMode().Do(func() {
		n, err := s.Sweep(ctx)
		if err != nil {
			s.logger.Error("inbox sweep failed", "dir", s.dir, "error", err)
			return
		}
		if n > 0 {
			s.logger.Info("inbox sweep enqueued documents", "dir", s.dir, "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule inbox sweep: %w", err)
	}
	s.scheduler.StartAsync()
	return nil
}

func (s *InboxSweeper) Stop() {
	s.scheduler.Stop()
}

// Sweep enqueues every supported file in the inbox and returns how many were
// new. An unchanged file keeps its task id and is skipped.
func (s *InboxSweeper) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read inbox: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	enqueued := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return enqueued, err
		}
		if entry.IsDir() || !SupportedExtension(entry.Name()) {
			continue
		}

		path, err := filepath.Abs(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return enqueued, err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable inbox file", "path", path, "error", err)
			continue
		}

		req := models.IngestRequest{SourceID: entry.Name(), DocumentReference: path}
		task, err := queue.NewIngestTask(req, s.opts)
		if err != nil {
			return enqueued, err
		}

		info, err := s.enqueuer.EnqueueContext(ctx, task, asynq.TaskID(queue.IngestTaskID(req.SourceID, content)))
		switch {
		case errors.Is(err, asynq.ErrTaskIDConflict):
			s.logger.Debug("inbox document already enqueued", "source_id", req.SourceID)
			continue
		case err != nil:
			return enqueued, fmt.Errorf("enqueue %s: %w", entry.Name(), err)
		}
		enqueued++
		s.logger.Debug("inbox document enqueued", "source_id", req.SourceID, "task_id", info.ID)
	}
	return enqueued, nil
}
