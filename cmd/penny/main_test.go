package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
	"github.com/skribblez2718/penny-sub000/internal/engine"
	"github.com/skribblez2718/penny-sub000/internal/gateway"
	"github.com/skribblez2718/penny-sub000/internal/inbox"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

const reviewYAML = `
id: review
phases:
  - id: draft
    type: linear
    worker_role: generator
    next: check
    min_output_tokens: 6
  - id: check
    type: linear
    worker_role: validator
    predecessors: [draft]
`

const brokenYAML = `
id: broken
phases:
  - id: a
    type: linear
    worker_role: generator
    next: missing
`

// testWorker answers like a cooperative worker, except that tasks whose id
// starts with "stuck" return undersized drafts on their first two calls.
func testWorker() gateway.Worker {
	var mu sync.Mutex
	calls := map[string]int{}
	return gateway.FuncWorker(func(_ context.Context, req gateway.Request) (gateway.Response, error) {
		mu.Lock()
		calls[req.TaskID+req.PhaseID]++
		n := calls[req.TaskID+req.PhaseID]
		mu.Unlock()

		if strings.HasPrefix(req.TaskID, "stuck") && n <= 2 {
			return gateway.Response{Artifact: &artifact.Artifact{
				Body:      "x",
				Quadrants: artifact.Quadrants{Open: "o", Hidden: "h", Blind: "b", Unknown: "u"},
			}}, nil
		}
		tag := fmt.Sprintf("%s-%s-%d", req.TaskID, req.PhaseID, n)
		return gateway.Response{Artifact: &artifact.Artifact{
			Body:      tag + "-a " + tag + "-b " + tag + "-c",
			Quadrants: artifact.Quadrants{Open: tag + "-o", Hidden: tag + "-h", Blind: tag + "-bl", Unknown: tag + "-u"},
		}}, nil
	})
}

type cliEnv struct {
	home      string
	workflows string
	worker    gateway.Worker
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	home, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	t.Setenv("HOME", home)

	workflows := filepath.Join(home, "workflows")
	require.NoError(t, os.MkdirAll(workflows, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(workflows, "review.yaml"), []byte(reviewYAML), 0o600))

	return &cliEnv{home: home, workflows: workflows, worker: testWorker()}
}

// run executes one CLI invocation and returns its stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(appOptions{worker: e.worker})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--workflows", e.workflows, "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd(appOptions{})
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{
		"abort", "answer", "list", "mcp", "resume", "serve",
		"start", "status", "validate", "version", "workflows",
	} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCmd(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
}

func TestWorkflowsCmd(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(t, "--store", "memory", "workflows")
	require.NoError(t, err)
	assert.Equal(t, "review\n", out)
}

func TestValidateCmd(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "validate", env.workflows)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ review")
	assert.Contains(t, out, "2 phases")

	bad := filepath.Join(env.home, "broken.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(brokenYAML), 0o600))
	out, err = env.run(t, "validate", env.workflows, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 definitions invalid")
	assert.Contains(t, out, "✗ "+bad)

	dup := filepath.Join(env.home, "dup.yml")
	require.NoError(t, os.WriteFile(dup, []byte(reviewYAML), 0o600))
	_, err = env.run(t, "validate", env.workflows, dup)
	require.Error(t, err)

	_, err = env.run(t, "validate", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no workflow definitions")
}

func TestStartCmd_Completes(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "--store", "memory", "start", "review", "--task", "t-1", "--meta", "repo=api")
	require.NoError(t, err)
	assert.Contains(t, out, "penny task t-1")
	assert.Contains(t, out, "COMPLETED")

	out, err = env.run(t, "--store", "memory", "start", "review", "--task", "t-2", "--json")
	require.NoError(t, err)
	var outcome engine.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, "t-2", outcome.Task.TaskID)
	assert.Equal(t, taskstate.StatusCompleted, outcome.Task.Status)
	assert.NotEmpty(t, outcome.Task.History)
}

func TestStartCmd_Errors(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "--store", "memory", "start", "nope", "--task", "t-1")
	require.Error(t, err)

	_, err = env.run(t, "--store", "memory", "start", "review", "--meta", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected key=value")

	_, err = env.run(t, "--store", "bogus", "workflows")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestCLI_EscalationAcrossInvocations(t *testing.T) {
	env := newCLIEnv(t)
	store := []string{"--store", "file", "--store-path", filepath.Join(env.home, "data")}
	args := func(a ...string) []string { return append(append([]string{}, store...), a...) }

	out, err := env.run(t, args("start", "review", "--task", "stuck-1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "WAITING INPUT")
	assert.Contains(t, out, "Escalation at draft")
	assert.Contains(t, out, "[action]")

	out, err = env.run(t, args("status", "stuck-1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "WAITING INPUT")

	out, err = env.run(t, args("list", "--status", "waiting_external_input")...)
	require.NoError(t, err)
	assert.Contains(t, out, "stuck-1")

	_, err = env.run(t, args("answer", "stuck-1")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one --answer")

	out, err = env.run(t, args("answer", "stuck-1", "--answer", "action=retry", "--answer", "guidance=be longer")...)
	require.NoError(t, err)
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "be longer")

	_, err = env.run(t, args("abort", "stuck-1")...)
	require.ErrorIs(t, err, engine.ErrCompleted)
}

func TestAbortCmd(t *testing.T) {
	env := newCLIEnv(t)
	store := []string{"--store", "file", "--store-path", filepath.Join(env.home, "data")}

	_, err := env.run(t, append(store, "start", "review", "--task", "stuck-2")...)
	require.NoError(t, err)

	out, err := env.run(t, append(store, "abort", "stuck-2", "--reason", "no longer needed", "--json")...)
	require.NoError(t, err)
	var outcome engine.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, taskstate.StatusAborted, outcome.Task.Status)
	assert.Equal(t, "no longer needed", outcome.Task.AbortReason)

	out, err = env.run(t, append(store, "resume", "stuck-2")...)
	require.NoError(t, err)
	assert.Contains(t, out, "ABORTED")

	_, err = env.run(t, append(store, "answer", "stuck-2", "--answer", "action=retry")...)
	require.ErrorIs(t, err, engine.ErrAborted)
}

func TestAnswerCmd_Inbox(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "answer", "t-9", "--inbox", "--answer", "action=abort")
	require.NoError(t, err)

	path := filepath.Join(env.home, ".local", "share", "penny", "inbox", "t-9.json")
	assert.Contains(t, out, path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var f inbox.File
	require.NoError(t, json.Unmarshal(raw, &f))
	assert.Equal(t, map[string]string{"action": "abort"}, f.Answers)
}

func TestParsePairs(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", in: nil, want: map[string]string{}},
		{name: "pairs", in: []string{"a=1", " b =two words"}, want: map[string]string{"a": "1", "b": "two words"}},
		{name: "value with equals", in: []string{"q=x=y"}, want: map[string]string{"q": "x=y"}},
		{name: "empty value", in: []string{"k="}, want: map[string]string{"k": ""}},
		{name: "missing equals", in: []string{"k"}, wantErr: true},
		{name: "missing key", in: []string{"=v"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePairs(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStartCmd_RunsConfiguredHooks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	env := newCLIEnv(t)

	marker := filepath.Join(env.home, "completed.json")
	cfgDir := filepath.Join(env.home, ".config", "penny")
	require.NoError(t, os.MkdirAll(cfgDir, 0o700))
	cfg := fmt.Sprintf(`
hooks:
  timeout: 5s
  commands:
    completed: ["sh", "-c", "cat > %s"]
`, marker)
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(cfg), 0o600))

	_, err := env.run(t, "--store", "memory", "start", "review", "--task", "t-hook")
	require.NoError(t, err)

	raw, err := os.ReadFile(marker)
	require.NoError(t, err)
	var ev engine.Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, engine.EventCompleted, ev.Type)
	assert.Equal(t, "t-hook", ev.TaskID)
}
