package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/engine"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

// ===== TASK TOOLS =====

type taskStartInput struct {
	WorkflowID string            `json:"workflow_id" jsonschema:"Workflow to run"`
	TaskID     string            `json:"task_id,omitempty" jsonschema:"Task id (generated when empty). Starting an existing task resumes it"`
	Metadata   map[string]string `json:"metadata,omitempty" jsonschema:"Opaque task metadata passed to every worker call"`
}

type taskIDInput struct {
	TaskID string `json:"task_id" jsonschema:"Task id"`
}

type taskAnswerInput struct {
	TaskID  string            `json:"task_id" jsonschema:"Task id"`
	Answers map[string]string `json:"answers" jsonschema:"Answers keyed by question id (action, guidance, choice)"`
}

type taskAbortInput struct {
	TaskID string `json:"task_id" jsonschema:"Task id"`
	Reason string `json:"reason,omitempty" jsonschema:"Why the task is being aborted"`
}

type taskListInput struct {
	Status string `json:"status,omitempty" jsonschema:"Only list tasks in this status"`
}

type hopView struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Route    string `json:"route"`
	Verdict  string `json:"verdict"`
	ReturnTo string `json:"return_to,omitempty"`
}

type questionView struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options,omitempty"`
	AllowFreeText bool     `json:"allow_free_text"`
}

type escalationView struct {
	ID        string         `json:"id"`
	PhaseID   string         `json:"phase_id"`
	Reason    string         `json:"reason"`
	Questions []questionView `json:"questions"`
	RaisedAt  string         `json:"raised_at"`
}

type taskView struct {
	TaskID         string            `json:"task_id"`
	WorkflowID     string            `json:"workflow_id"`
	CurrentPhaseID string            `json:"current_phase_id"`
	Status         string            `json:"status"`
	Stage          string            `json:"stage"`
	Version        int64             `json:"version"`
	History        []string          `json:"history,omitempty"`
	Hops           []hopView         `json:"hops,omitempty"`
	RetryCounters  map[string]int    `json:"retry_counters,omitempty"`
	Guidance       []string          `json:"guidance,omitempty"`
	LastVerdict    string            `json:"last_verdict,omitempty"`
	AbortReason    string            `json:"abort_reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	UpdatedAt      string            `json:"updated_at"`
}

type taskOutput struct {
	Task         taskView        `json:"task" jsonschema:"Task state after the call"`
	Escalation   *escalationView `json:"escalation,omitempty" jsonschema:"Pending questions when the task waits for input"`
	Verdict      string          `json:"verdict,omitempty" jsonschema:"Impasse verdict of the last evaluated phase"`
	Decision     string          `json:"decision,omitempty" jsonschema:"Remediation action of the last evaluated phase"`
	AbortPending bool            `json:"abort_pending,omitempty" jsonschema:"Abort was requested while another call held the task"`
}

type taskListOutput struct {
	Tasks []taskView `json:"tasks" jsonschema:"Tasks known to the store"`
	Count int        `json:"count" jsonschema:"Number of tasks returned"`
}

// ===== WORKFLOW TOOLS =====

type workflowListInput struct{}

type workflowListOutput struct {
	Workflows []string `json:"workflows" jsonschema:"Registered workflow ids"`
	Count     int      `json:"count" jsonschema:"Number of workflows"`
}

func (s *Server) registerTools() error {
	addTool(s, &ToolMetadata{
		Name:        "task_start",
		Description: "Start a workflow task, or resume it when the task id already exists, and run it until it completes, aborts or needs input",
		Category:    CategoryTask,
		Keywords:    []string{"run", "create", "workflow"},
	}, func(ctx context.Context, args taskStartInput) (taskOutput, error) {
		if strings.TrimSpace(args.WorkflowID) == "" {
			return taskOutput{}, errors.New("workflow_id is required")
		}
		out, err := s.engine.Start(ctx, args.WorkflowID, args.TaskID, args.Metadata)
		return s.outcome("task_start", out, err)
	})

	addTool(s, &ToolMetadata{
		Name:        "task_status",
		Description: "Read the committed state of a task without advancing it",
		Category:    CategoryTask,
		Keywords:    []string{"state", "progress", "inspect"},
	}, func(ctx context.Context, args taskIDInput) (taskOutput, error) {
		if err := requireTaskID(args.TaskID); err != nil {
			return taskOutput{}, err
		}
		out, err := s.engine.Status(ctx, args.TaskID)
		return s.outcome("task_status", out, err)
	})

	addTool(s, &ToolMetadata{
		Name:        "task_resume",
		Description: "Continue a task from its last committed phase",
		Category:    CategoryTask,
		Keywords:    []string{"continue", "restart", "recover"},
	}, func(ctx context.Context, args taskIDInput) (taskOutput, error) {
		if err := requireTaskID(args.TaskID); err != nil {
			return taskOutput{}, err
		}
		out, err := s.engine.Resume(ctx, args.TaskID)
		return s.outcome("task_resume", out, err)
	})

	addTool(s, &ToolMetadata{
		Name:        "task_answer",
		Description: "Answer the pending escalation questions of a waiting task and continue it",
		Category:    CategoryTask,
		Keywords:    []string{"escalation", "question", "guidance", "reply"},
	}, func(ctx context.Context, args taskAnswerInput) (taskOutput, error) {
		if err := requireTaskID(args.TaskID); err != nil {
			return taskOutput{}, err
		}
		if len(args.Answers) == 0 {
			return taskOutput{}, errors.New("answers are required")
		}
		out, err := s.engine.Answer(ctx, args.TaskID, args.Answers)
		return s.outcome("task_answer", out, err)
	})

	addTool(s, &ToolMetadata{
		Name:        "task_abort",
		Description: "Abort a task. A task held by another call stops at its next state boundary",
		Category:    CategoryTask,
		Keywords:    []string{"cancel", "stop"},
	}, func(ctx context.Context, args taskAbortInput) (taskOutput, error) {
		if err := requireTaskID(args.TaskID); err != nil {
			return taskOutput{}, err
		}
		out, err := s.engine.Abort(ctx, args.TaskID, args.Reason)
		return s.outcome("task_abort", out, err)
	})

	addTool(s, &ToolMetadata{
		Name:        "task_list",
		Description: "List tasks, optionally filtered by status",
		Category:    CategoryTask,
		Keywords:    []string{"tasks", "waiting", "running"},
	}, func(ctx context.Context, args taskListInput) (taskListOutput, error) {
		tasks, err := s.engine.List(ctx)
		if err != nil {
			return taskListOutput{}, fmt.Errorf("list tasks failed: %w", err)
		}
		views := make([]taskView, 0, len(tasks))
		for _, t := range tasks {
			if args.Status != "" && string(t.Status) != args.Status {
				continue
			}
			views = append(views, viewTask(t))
		}
		return taskListOutput{Tasks: views, Count: len(views)}, nil
	})

	addTool(s, &ToolMetadata{
		Name:        "workflow_list",
		Description: "List the registered workflow ids",
		Category:    CategoryWorkflow,
		Keywords:    []string{"definitions", "graph"},
	}, func(_ context.Context, _ workflowListInput) (workflowListOutput, error) {
		ids := s.engine.Workflows()
		if ids == nil {
			ids = []string{}
		}
		return workflowListOutput{Workflows: ids, Count: len(ids)}, nil
	})

	s.registerSearchTools()
	return nil
}

// addTool registers a typed tool with metrics and records its metadata.
func addTool[In, Out any](s *Server, meta *ToolMetadata, h func(context.Context, In) (Out, error)) {
	s.toolRegistry.Register(meta)
	name := meta.Name
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: meta.Description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, name)
			s.metrics.RecordInvocation(ctx, name, time.Since(start), toolErr)
		}()

		out, err := h(ctx, args)
		if err != nil {
			toolErr = err
			s.logger.Debug("tool failed", zap.String("tool", name), zap.Error(err))
			var zero Out
			return nil, zero, err
		}
		return nil, out, nil
	})
}

func requireTaskID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("task_id is required")
	}
	return nil
}

// outcome converts an engine result into the tool output.
func (s *Server) outcome(tool string, out *engine.Outcome, err error) (taskOutput, error) {
	if err != nil {
		return taskOutput{}, fmt.Errorf("%s failed: %w", tool, err)
	}
	if out == nil || out.Task == nil {
		return taskOutput{}, fmt.Errorf("%s failed: engine returned no task", tool)
	}

	res := taskOutput{
		Task:         viewTask(out.Task),
		AbortPending: out.AbortPending,
	}
	if out.Escalation != nil {
		res.Escalation = viewEscalation(out.Escalation)
	}
	if out.Verdict != nil {
		res.Verdict = string(out.Verdict.Type)
	}
	if out.Decision != nil {
		res.Decision = string(out.Decision.Action)
	}
	return res, nil
}

func viewTask(t *taskstate.TaskInstance) taskView {
	v := taskView{
		TaskID:         t.TaskID,
		WorkflowID:     t.WorkflowID,
		CurrentPhaseID: t.CurrentPhaseID,
		Status:         string(t.Status),
		Stage:          t.Stage,
		Version:        t.Version,
		History:        t.History,
		RetryCounters:  t.RetryCounters,
		Guidance:       t.Guidance,
		LastVerdict:    t.LastVerdict,
		AbortReason:    t.AbortReason,
		Metadata:       t.Metadata,
		UpdatedAt:      t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, h := range t.Hops {
		v.Hops = append(v.Hops, hopView{
			From:     h.From,
			To:       h.To,
			Route:    string(h.Route),
			Verdict:  h.Verdict,
			ReturnTo: h.ReturnTo,
		})
	}
	return v
}

func viewEscalation(e *taskstate.Escalation) *escalationView {
	v := &escalationView{
		ID:        e.ID,
		PhaseID:   e.PhaseID,
		Reason:    e.Reason,
		Questions: make([]questionView, 0, len(e.Questions)),
		RaisedAt:  e.RaisedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, q := range e.Questions {
		v.Questions = append(v.Questions, questionView{
			ID:            q.ID,
			Prompt:        q.Prompt,
			Options:       q.Options,
			AllowFreeText: q.AllowFreeText,
		})
	}
	return v
}
