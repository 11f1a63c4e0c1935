// Package janitor runs recurring sweeps in the background.
//
// LIFECYCLE:
// Start launches one goroutine (only once, however often it is called).
// Every Interval it runs each registered Task in order. Stop closes the done
// channel and waits for the goroutine to exit, so no sweep is still running
// against a store the caller is about to close.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one sweep. Run returns how many entries it removed. Size, when
// set, reports how many entries remain and is logged after each run.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
	Size func() int
}

// Janitor runs its tasks on a fixed interval.
type Janitor struct {
	interval time.Duration
	timeout  time.Duration
	tasks    []Task
	logger   *slog.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a Janitor. Each run of a task is bounded by the interval, so a
// stuck backend cannot pile up overlapping sweeps.
func New(interval time.Duration, logger *slog.Logger, tasks ...Task) *Janitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Janitor{
		interval: interval,
		timeout:  interval,
		tasks:    tasks,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins sweeping in the background.
func (j *Janitor) Start() {
	j.startOnce.Do(func() {
		j.logger.Info("starting janitor",
			slog.Duration("interval", j.interval),
			slog.Int("tasks", len(j.tasks)),
		)
		j.wg.Add(1)
		go j.loop()
	})
}

// Stop ends the background loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
	})
	j.wg.Wait()
}

// RunOnce runs every task immediately and returns the total removed.
// Errors are logged and do not stop the remaining tasks.
func (j *Janitor) RunOnce(ctx context.Context) int {
	total := 0
	for _, task := range j.tasks {
		taskCtx, cancel := context.WithTimeout(ctx, j.timeout)
		n, err := task.Run(taskCtx)
		cancel()
		if err != nil {
			j.logger.Error("sweep failed",
				slog.String("task", task.Name),
				slog.String("error", err.Error()),
			)
		}
		if n > 0 {
			j.logger.Info("sweep removed expired entries",
				slog.String("task", task.Name),
				slog.Int("removed", n),
			)
		}
		if task.Size != nil {
			j.logger.Debug("sweep finished",
				slog.String("task", task.Name),
				slog.Int("remaining", task.Size()),
			)
		}
		total += n
	}
	return total
}

func (j *Janitor) loop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-j.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}
