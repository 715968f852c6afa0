// Package agent runs the command of a task as a child process and streams its output.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/tuanbt/vickyboard/internal/config"
	"github.com/tuanbt/vickyboard/internal/task"
)

// maxLineSize bounds a single output line.
const maxLineSize = 1 << 20

// OutputLine represents a line of output from the task command.
type OutputLine struct {
	Source string
	Line   string
	Time   time.Time
}

// Driver executes task commands. It is stateless and safe for concurrent use; every Run
// starts its own process.
type Driver struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
	workDir string

	// waitDelay bounds how long output pipes are drained after the process was killed.
	waitDelay time.Duration
}

// New initializes a new Driver for the configured task command.
func New(cfg *config.MockConfig, logger *slog.Logger, workDir string) *Driver {
	return &Driver{
		command:   cfg.TaskCommand,
		timeout:   time.Duration(cfg.MaxTaskDurationSeconds) * time.Second,
		logger:    logger,
		workDir:   workDir,
		waitDelay: 2 * time.Second,
	}
}

// Run executes the command for t and hands every non-empty output line to sink. The result
// is TIMEOUT when the task exceeded its maximum duration, CANCEL when ctx was cancelled,
// ERROR on a non-zero exit and SUCCESS otherwise. The error describes the failure, if any.
func (d *Driver) Run(ctx context.Context, t *task.Task, sink func(OutputLine)) (task.Result, error) {
	if len(d.command) == 0 {
		return task.ResultError, errors.New("no task command configured")
	}

	runCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, d.command[0], d.command[1:]...)
	cmd.Dir = d.workDir
	cmd.Env = append(os.Environ(),
		"VICKY_TASK_ID="+t.ID,
		"VICKY_TASK_NAME="+t.DisplayName,
		"VICKY_TASK_GROUP="+t.Group,
		"VICKY_FLAKE="+t.FlakeRef.Flake,
	)
	cmd.WaitDelay = d.waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return task.ResultError, fmt.Errorf("failed to create stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return task.ResultError, fmt.Errorf("failed to create stderr: %w", err)
	}

	d.logger.Info("starting task command", "task_id", t.ID, "command", cmd.String())
	if err := cmd.Start(); err != nil {
		return task.ResultError, fmt.Errorf("failed to start task command: %w", err)
	}

	// Lines of both pipes go through one mutex so sink never runs concurrently.
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	emit := func(line OutputLine) {
		mu.Lock()
		defer mu.Unlock()
		if sink != nil {
			sink(line)
		}
	}
	wg.Add(2)
	go d.readOutput(&wg, stdout, "stdout", emit)
	go d.readOutput(&wg, stderr, "stderr", emit)

	// Pipes must be drained before Wait closes them.
	wg.Wait()
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		d.logger.Info("task command cancelled", "task_id", t.ID)
		return task.ResultCancel, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		d.logger.Warn("task command timed out", "task_id", t.ID, "timeout", d.timeout)
		return task.ResultTimeout, fmt.Errorf("task exceeded %s", d.timeout)
	case waitErr != nil:
		d.logger.Warn("task command failed", "task_id", t.ID, "error", waitErr)
		return task.ResultError, waitErr
	default:
		d.logger.Info("task command finished", "task_id", t.ID)
		return task.ResultSuccess, nil
	}
}

func (d *Driver) readOutput(wg *sync.WaitGroup, r io.Reader, source string, emit func(OutputLine)) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		emit(OutputLine{Source: source, Line: line, Time: time.Now()})
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		d.logger.Debug("read error", "source", source, "error", err)
	}
}
