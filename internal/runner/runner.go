package runner

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"gorm.io/gorm"

	"archived/internal/models"
)

// killGracePeriod is how long the runner waits between the soft terminate and
// the hard kill of a timed-out process group.
const killGracePeriod = 5 * time.Second

// Request describes one subprocess invocation.
type Request struct {
	Command       string
	TimeoutSecs   int
	Cwd           string
	Env           []string
	ArchivedUrlID *uint
	Archiver      string
}

// Result is the structured outcome of an execution, or of a replay.
type Result struct {
	ExecutionID     uint
	ExitCode        *int
	TimedOut        bool
	DurationSeconds float64
	StdoutLines     []string
	StderrLines     []string
	CombinedOutput  []string
	RecordingErrors int
}

// Success reports whether the command exited cleanly within its time budget.
func (r *Result) Success() bool {
	return !r.TimedOut && r.ExitCode != nil && *r.ExitCode == 0
}

// Runner executes shell commands serially, capturing every output line into
// the catalog with monotonic per-stream line numbers.
//
// Execution is mutually exclusive across the whole process: headless browser
// instances sharing a user-data directory must never overlap. Callers that
// want parallelism use the worker pool, not concurrent Execute calls.
type Runner struct {
	db *gorm.DB
	mu sync.Mutex
}

func New(db *gorm.DB) *Runner {
	return &Runner{db: db}
}

// Execute runs the command under the global lock, records one
// CommandExecution row plus its output lines, and returns the result. Spawn
// failures are recorded as a stderr line; catalog write failures are counted
// on the result but never interrupt the subprocess.
func (r *Runner) Execute(ctx context.Context, req Request) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exec_ := models.CommandExecution{
		Command:       req.Command,
		Cwd:           req.Cwd,
		StartTime:     time.Now(),
		TimeoutSecs:   req.TimeoutSecs,
		ArchivedUrlID: req.ArchivedUrlID,
		Archiver:      req.Archiver,
	}
	if err := r.db.Create(&exec_).Error; err != nil {
		return Result{}, fmt.Errorf("failed to create command execution: %w", err)
	}

	capture := newCapture(r.db, exec_.ID)
	result := Result{ExecutionID: exec_.ID}
	start := time.Now()

	cmd := exec.Command("sh", "-c", req.Command)
	cmd.Dir = req.Cwd
	if len(req.Env) > 0 {
		cmd.Env = req.Env
	}
	// Own process group so timeout kills the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.finishSpawnFailure(&exec_, capture, result, start, err), nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.finishSpawnFailure(&exec_, capture, result, start, err), nil
	}

	if err := cmd.Start(); err != nil {
		return r.finishSpawnFailure(&exec_, capture, result, start, err), nil
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			capture.record(models.StreamStdout, scanner.Text())
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			capture.record(models.StreamStderr, scanner.Text())
		}
	}()

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	timeout := time.Duration(req.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		r.killGroup(cmd)
		result.TimedOut = true
		waitErr = <-done
	case <-timer.C:
		slog.Warn("Command timed out, terminating process group",
			"execution_id", exec_.ID,
			"timeout_secs", req.TimeoutSecs)
		r.killGroup(cmd)
		result.TimedOut = true
		waitErr = <-done
	}

	if !result.TimedOut {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = models.IntPtr(exitErr.ExitCode())
		} else if waitErr == nil {
			result.ExitCode = models.IntPtr(0)
		} else {
			capture.record(models.StreamStderr, waitErr.Error())
		}
	}

	result.DurationSeconds = time.Since(start).Seconds()
	result.StdoutLines, result.StderrLines, result.CombinedOutput = capture.lines()
	result.RecordingErrors = capture.writeErrors()

	now := time.Now()
	updates := map[string]interface{}{
		"end_time":  &now,
		"timed_out": result.TimedOut,
	}
	if result.ExitCode != nil {
		updates["exit_code"] = *result.ExitCode
	}
	if err := r.db.Model(&exec_).Updates(updates).Error; err != nil {
		slog.Error("Failed to finalize command execution", "execution_id", exec_.ID, "error", err)
		result.RecordingErrors++
	}

	return result, nil
}

// killGroup escalates from SIGTERM to SIGKILL on the process group.
func (r *Runner) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	syscall.Kill(pgid, syscall.SIGTERM)

	deadline := time.After(killGracePeriod)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			syscall.Kill(pgid, syscall.SIGKILL)
			return
		case <-tick.C:
			// Signal 0 probes whether the group is still alive.
			if err := syscall.Kill(pgid, syscall.Signal(0)); err != nil {
				return
			}
		}
	}
}

func (r *Runner) finishSpawnFailure(exec_ *models.CommandExecution, capture *lineCapture, result Result, start time.Time, spawnErr error) Result {
	capture.record(models.StreamStderr, spawnErr.Error())
	result.StdoutLines, result.StderrLines, result.CombinedOutput = capture.lines()
	result.RecordingErrors = capture.writeErrors()
	result.DurationSeconds = time.Since(start).Seconds()

	now := time.Now()
	if err := r.db.Model(exec_).Updates(map[string]interface{}{"end_time": &now}).Error; err != nil {
		result.RecordingErrors++
	}
	return result
}

// Replay reconstructs a Result from persisted output lines without
// re-executing. Used for post-mortem analysis.
func (r *Runner) Replay(executionID uint) (Result, error) {
	var exec_ models.CommandExecution
	if err := r.db.First(&exec_, executionID).Error; err != nil {
		return Result{}, fmt.Errorf("execution %d not found: %w", executionID, err)
	}

	var lines []models.CommandOutputLine
	if err := r.db.Where("execution_id = ?", executionID).
		Order("id ASC").Find(&lines).Error; err != nil {
		return Result{}, fmt.Errorf("failed to load output lines: %w", err)
	}

	result := Result{
		ExecutionID: exec_.ID,
		ExitCode:    exec_.ExitCode,
		TimedOut:    exec_.TimedOut,
	}
	if exec_.EndTime != nil {
		result.DurationSeconds = exec_.EndTime.Sub(exec_.StartTime).Seconds()
	}
	for _, l := range lines {
		switch l.Stream {
		case models.StreamStdout:
			result.StdoutLines = append(result.StdoutLines, l.Line)
		case models.StreamStderr:
			result.StderrLines = append(result.StderrLines, l.Line)
		}
		result.CombinedOutput = append(result.CombinedOutput, l.Line)
	}
	return result, nil
}

// lineCapture streams output lines into the catalog while keeping in-memory
// copies for the result. Stdout and stderr are numbered independently.
type lineCapture struct {
	db          *gorm.DB
	executionID uint

	mu       sync.Mutex
	counters map[string]int
	stdout   []string
	stderr   []string
	combined []string
	failures int
}

func newCapture(db *gorm.DB, executionID uint) *lineCapture {
	return &lineCapture{
		db:          db,
		executionID: executionID,
		counters:    make(map[string]int),
	}
}

func (c *lineCapture) record(stream, line string) {
	c.mu.Lock()
	c.counters[stream]++
	n := c.counters[stream]
	switch stream {
	case models.StreamStdout:
		c.stdout = append(c.stdout, line)
	case models.StreamStderr:
		c.stderr = append(c.stderr, line)
	}
	c.combined = append(c.combined, line)
	c.mu.Unlock()

	row := models.CommandOutputLine{
		ExecutionID: c.executionID,
		Timestamp:   time.Now(),
		Stream:      stream,
		Line:        line,
		LineNumber:  n,
	}
	if err := c.db.Create(&row).Error; err != nil {
		c.mu.Lock()
		c.failures++
		c.mu.Unlock()
		slog.Error("Failed to record output line", "execution_id", c.executionID, "error", err)
	}
}

func (c *lineCapture) lines() (stdout, stderr, combined []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout, c.stderr, c.combined
}

func (c *lineCapture) writeErrors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}
