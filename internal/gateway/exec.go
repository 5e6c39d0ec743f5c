package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// ExecWorker runs a command per call, writing the request as JSON to its
// stdin and reading the response from its stdout.
type ExecWorker struct {
	command string
	args    []string
	env     []string
}

// NewExecWorker creates an ExecWorker for command.
func NewExecWorker(command string, args ...string) (*ExecWorker, error) {
	if command == "" {
		return nil, fmt.Errorf("worker command required")
	}
	return &ExecWorker{command: command, args: append([]string(nil), args...)}, nil
}

// WithEnv sets extra environment variables (KEY=VALUE) for the command.
func (w *ExecWorker) WithEnv(env ...string) *ExecWorker {
	w.env = append(w.env, env...)
	return w
}

// Call implements Worker.
func (w *ExecWorker) Call(ctx context.Context, req Request) (Response, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, w.command, w.args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	if len(w.env) > 0 {
		cmd.Env = append(cmd.Environ(), w.env...)
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("worker command failed: %w: %s", err, truncate(stderr.Bytes(), 200))
	}

	var out Response
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Response{}, &decodeError{err: err}
	}
	return out, nil
}
