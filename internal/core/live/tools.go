package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/90rdon/Nubela-Tasks/internal/core/tasks"
)

// Decomposer generates subtask titles for a task. The gemini client
// implements it; tests substitute a fake.
type Decomposer interface {
	Subtasks(ctx context.Context, title string) ([]string, error)
}

// ToolRegistry binds the declared tool set to the task store. Dispatch is an
// exhaustive switch over the known tool names, each with its own typed
// argument record.
type ToolRegistry struct {
	store      *tasks.Store
	decomposer Decomposer
	observe    func(name string, err error)
}

// NewToolRegistry builds the registry. decomposer may be nil, in which case
// decomposeTask reports an error result instead of calling a model.
func NewToolRegistry(store *tasks.Store, decomposer Decomposer) *ToolRegistry {
	return &ToolRegistry{store: store, decomposer: decomposer}
}

// SetObserver registers a hook called after every dispatch, used for metrics.
func (r *ToolRegistry) SetObserver(fn func(name string, err error)) {
	r.observe = fn
}

type addTaskArgs struct {
	Title string `json:"title"`
}

type addSubTaskArgs struct {
	Task  string `json:"task"`
	Title string `json:"title"`
}

type markDoneArgs struct {
	Task string `json:"task"`
}

type renameTaskArgs struct {
	Task     string `json:"task"`
	NewTitle string `json:"new_title"`
}

type deleteTaskArgs struct {
	Task string `json:"task"`
}

type decomposeTaskArgs struct {
	Task    string `json:"task"`
	Confirm bool   `json:"confirm"`
}

// Declarations returns the wire contract for every tool the model may invoke.
func (r *ToolRegistry) Declarations() []ToolDecl {
	taskParam := ParamSchema{Type: "string", Description: "Keyword identifying the task; fuzzy matched against titles"}
	return []ToolDecl{
		{
			Name:        "listTasks",
			Description: "List every task with its subtasks and done state.",
			Params:      map[string]ParamSchema{},
		},
		{
			Name:        "addTask",
			Description: "Add a new top-level task.",
			Params: map[string]ParamSchema{
				"title": {Type: "string", Description: "Title of the new task"},
			},
			Required: []string{"title"},
		},
		{
			Name:        "addSubTask",
			Description: "Add a subtask under an existing task.",
			Params: map[string]ParamSchema{
				"task":  taskParam,
				"title": {Type: "string", Description: "Title of the new subtask"},
			},
			Required: []string{"task", "title"},
		},
		{
			Name:        "markDone",
			Description: "Mark a task or subtask as done.",
			Params:      map[string]ParamSchema{"task": taskParam},
			Required:    []string{"task"},
		},
		{
			Name:        "renameTask",
			Description: "Rename a task. Destructive: confirm with the user verbally before calling.",
			Params: map[string]ParamSchema{
				"task":      taskParam,
				"new_title": {Type: "string", Description: "Replacement title"},
			},
			Required: []string{"task", "new_title"},
		},
		{
			Name:        "deleteTask",
			Description: "Delete a task and its subtasks. Destructive: confirm with the user verbally before calling.",
			Params:      map[string]ParamSchema{"task": taskParam},
			Required:    []string{"task"},
		},
		{
			Name:        "decomposeTask",
			Description: "Generate subtasks for a task. If the task already has subtasks, ask the user to confirm first and then pass confirm=true.",
			Params: map[string]ParamSchema{
				"task":    taskParam,
				"confirm": {Type: "boolean", Description: "Set true only after the user confirmed regenerating existing subtasks"},
			},
			Required: []string{"task"},
		},
	}
}

// Dispatch runs one tool call and returns its result payload. Errors are
// reported to the caller, which converts them into {error: message} responses.
func (r *ToolRegistry) Dispatch(ctx context.Context, call ToolCall) (map[string]any, error) {
	result, err := r.dispatch(ctx, call)
	if r.observe != nil {
		r.observe(call.Name, err)
	}
	return result, err
}

func (r *ToolRegistry) dispatch(ctx context.Context, call ToolCall) (map[string]any, error) {
	switch call.Name {
	case "listTasks":
		return map[string]any{"tasks": r.store.List()}, nil

	case "addTask":
		var args addTaskArgs
		if err := decodeArgs(call, &args); err != nil {
			return nil, err
		}
		t, err := r.store.Add(args.Title)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task": t}, nil

	case "addSubTask":
		var args addSubTaskArgs
		if err := decodeArgs(call, &args); err != nil {
			return nil, err
		}
		t, err := r.store.AddSub(args.Task, args.Title)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task": t}, nil

	case "markDone":
		var args markDoneArgs
		if err := decodeArgs(call, &args); err != nil {
			return nil, err
		}
		t, err := r.store.MarkDone(args.Task)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task": t}, nil

	case "renameTask":
		var args renameTaskArgs
		if err := decodeArgs(call, &args); err != nil {
			return nil, err
		}
		t, err := r.store.Rename(args.Task, args.NewTitle)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task": t}, nil

	case "deleteTask":
		var args deleteTaskArgs
		if err := decodeArgs(call, &args); err != nil {
			return nil, err
		}
		t, err := r.store.Delete(args.Task)
		if err != nil {
			return nil, err
		}
		return map[string]any{"deleted": t.Title}, nil

	case "decomposeTask":
		var args decomposeTaskArgs
		if err := decodeArgs(call, &args); err != nil {
			return nil, err
		}
		return r.decompose(ctx, args)

	default:
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
}

func (r *ToolRegistry) decompose(ctx context.Context, args decomposeTaskArgs) (map[string]any, error) {
	t, err := r.store.Find(args.Task)
	if err != nil {
		return nil, err
	}
	if len(t.Subtasks) > 0 && !args.Confirm {
		return nil, fmt.Errorf("task %q already has %d subtasks; ask the user to confirm before regenerating", t.Title, len(t.Subtasks))
	}
	if r.decomposer == nil {
		return nil, fmt.Errorf("task decomposition is not available")
	}
	titles, err := r.decomposer.Subtasks(ctx, t.Title)
	if err != nil {
		return nil, fmt.Errorf("decompose %q: %w", t.Title, err)
	}
	updated, err := r.store.ReplaceSubtasks(t.ID, titles)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task": updated}, nil
}

func decodeArgs(call ToolCall, dst any) error {
	if len(call.Args) == 0 {
		return fmt.Errorf("%s: missing arguments", call.Name)
	}
	if err := json.Unmarshal(call.Args, dst); err != nil {
		return fmt.Errorf("%s: bad arguments: %w", call.Name, err)
	}
	return nil
}
