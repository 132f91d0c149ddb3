// Package shell is the built-in shell AbstractTask: it materializes the
// task's raw script to a file under its execution directory and runs it
// with os/exec, the same approach traiproject-same's shell executor
// adapter uses for environment assembly and stdout/stderr wiring.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/swarmguard/worker/internal/task"
)

// ParamScript is the DefinedParams key holding the raw shell script body.
const ParamScript = "rawScript"

// Channel is the task.Channel for task type "SHELL".
var Channel = task.ChannelFunc(func(_ context.Context, ectx *task.ExecutionContext) (task.AbstractTask, error) {
	return New(ectx), nil
})

// Task runs ectx's rawScript as a child process.
type Task struct {
	ectx *task.ExecutionContext

	mu         sync.Mutex
	cmd        *exec.Cmd
	exitStatus task.ExitStatus
	varPool    []task.Property
}

func New(ectx *task.ExecutionContext) *Task {
	return &Task{ectx: ectx}
}

func (t *Task) Init(_ context.Context) error {
	script, ok := t.ectx.DefinedParams[ParamScript]
	if !ok || script == "" {
		return fmt.Errorf("shell: missing %q in defined params", ParamScript)
	}

	scriptPath := filepath.Join(t.ectx.ExecutePath, fmt.Sprintf("%s.sh", t.ectx.TaskAppID()))
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return fmt.Errorf("shell: write script: %w", err)
	}
	return nil
}

// Handle runs the materialized script to completion, blocking until exit
// or cancellation. Command failures surface as a non-zero ExitStatus, not
// as an error: only setup/process-launch failures are errors.
func (t *Task) Handle(ctx context.Context) error {
	scriptPath := filepath.Join(t.ectx.ExecutePath, fmt.Sprintf("%s.sh", t.ectx.TaskAppID()))

	env := os.Environ()
	for k, v := range t.ectx.DefinedParams {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	if t.ectx.EnvFile != "" {
		env = append(env, fmt.Sprintf("SWARM_WORKER_ENV_FILE=%s", t.ectx.EnvFile))
	}

	cmd := exec.CommandContext(ctx, "sh", scriptPath)
	cmd.Dir = t.ectx.ExecutePath
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("shell: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("shell: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("shell: start: %w", err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go streamLog(&wg, stdout, slog.LevelInfo, t.ectx.TaskLogName)
	go streamLog(&wg, stderr, slog.LevelWarn, t.ectx.TaskLogName)
	wg.Wait()

	waitErr := cmd.Wait()
	code := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	t.mu.Lock()
	t.exitStatus = task.ExitStatus{Code: code}
	t.mu.Unlock()
	return nil
}

func streamLog(wg *sync.WaitGroup, r io.Reader, level slog.Level, taskLogName string) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Log(context.Background(), level, scanner.Text(), "task_log_name", taskLogName)
	}
}

// CancelApplication kills the child process. force is accepted for
// interface symmetry; a shell child only ever receives SIGKILL here.
func (t *Task) CancelApplication(_ context.Context, _ bool) error {
	t.mu.Lock()
	cmd := t.cmd
	t.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func (t *Task) ExitStatus() task.ExitStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitStatus
}

func (t *Task) ProcessID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

func (t *Task) AppIDs() string { return "" }

func (t *Task) Parameters() *task.Parameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &task.Parameters{VarPool: t.varPool}
}

func (t *Task) SetVarPool(pool []task.Property) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.varPool = pool
}

func (t *Task) NeedAlert() bool { return false }

func (t *Task) AlertInfo() task.AlertInfo { return task.AlertInfo{} }
