// Package mcpserver exposes the podcast orchestrator as an MCP server:
// tools for submitting, inspecting, cancelling and cleaning tasks, and
// resources for the derived artifacts.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/podforge/podforge/internal/cleanup"
	"github.com/podforge/podforge/internal/pipeline"
	"github.com/podforge/podforge/internal/runner"
	"github.com/podforge/podforge/internal/status"
	"github.com/podforge/podforge/pkg/podcast"
)

// Server wires the orchestrator core to the MCP protocol.
type Server struct {
	store      status.Store
	runner     *runner.Runner
	pipeline   *pipeline.Pipeline
	cleaner    *cleanup.Manager
	outputRoot string
	logger     *slog.Logger

	mcp *mcpsdk.Server
}

// Option is a functional option for Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates the MCP server and registers all tools and resources.
func New(store status.Store, run *runner.Runner, pl *pipeline.Pipeline, cleaner *cleanup.Manager, outputRoot string, opts ...Option) *Server {
	s := &Server{
		store:      store,
		runner:     run,
		pipeline:   pl,
		cleaner:    cleaner,
		outputRoot: outputRoot,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}

	s.mcp = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "podforge", Version: "1.0.0"}, nil)
	s.registerTools()
	s.registerResources()
	return s
}

// Run serves the MCP protocol over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcpsdk.StdioTransport{})
}

// HTTPHandler returns a streamable-HTTP handler for the same server.
func (s *Server) HTTPHandler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.mcp }, nil)
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "generate_podcast",
		Description: "Submit a podcast generation task. Returns a task_id to poll.",
	}, s.generatePodcast)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "get_status",
		Description: "Get the full status record of one task.",
	}, s.getStatus)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "list_statuses",
		Description: "List task status records, newest first.",
	}, s.listStatuses)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "delete_status",
		Description: "Delete the status record of a finished task.",
	}, s.deleteStatus)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "cancel_task",
		Description: "Request cooperative cancellation of a running task.",
	}, s.cancelTask)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "cleanup_task_files",
		Description: "Apply the cleanup policy to a finished task's artifact files.",
	}, s.cleanupTask)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "get_queue_status",
		Description: "Inspect worker pool capacity and active tasks.",
	}, s.queueStatus)
}

// TaskRef identifies one task in tool inputs.
type TaskRef struct {
	TaskID string `json:"task_id" jsonschema:"the task identifier returned by generate_podcast"`
}

// GenerateResult is the generate_podcast output.
type GenerateResult struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) generatePodcast(ctx context.Context, _ *mcpsdk.CallToolRequest, req podcast.Request) (*mcpsdk.CallToolResult, GenerateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, GenerateResult{}, err
	}

	taskID := uuid.NewString()
	if _, err := s.store.Create(ctx, taskID, req); err != nil {
		return nil, GenerateResult{}, fmt.Errorf("create task: %w", err)
	}

	err := s.runner.Submit(taskID, func(jobCtx context.Context) {
		s.pipeline.Run(jobCtx, taskID, req)
	})
	if err != nil {
		detail := err.Error()
		title := "Submission Failed"
		if errors.Is(err, runner.ErrAtCapacity) {
			title = "System at capacity"
			detail = "all worker slots are busy, retry later"
		}
		if serr := s.store.SetError(ctx, taskID, title, detail); serr != nil {
			s.logger.Error("capacity error write failed", "task_id", taskID, "error", serr)
		}
		return nil, GenerateResult{TaskID: taskID, Status: string(podcast.StateFailed), Message: title}, nil
	}

	s.logger.Info("task accepted", "task_id", taskID, "sources", len(req.SourceURLs))
	return nil, GenerateResult{
		TaskID:  taskID,
		Status:  string(podcast.StateQueued),
		Message: "Podcast generation started. Poll get_status with this task_id.",
	}, nil
}

func (s *Server) getStatus(ctx context.Context, _ *mcpsdk.CallToolRequest, in TaskRef) (*mcpsdk.CallToolResult, *podcast.TaskStatus, error) {
	st, err := s.store.Get(ctx, in.TaskID)
	if err != nil {
		return nil, nil, err
	}
	return nil, st, nil
}

// ListInput selects a page of status records.
type ListInput struct {
	Limit  int `json:"limit,omitempty" jsonschema:"maximum records to return, default 20"`
	Offset int `json:"offset,omitempty" jsonschema:"records to skip"`
}

// ListResult is the list_statuses output.
type ListResult struct {
	Tasks []*podcast.TaskStatus `json:"tasks"`
	Count int                   `json:"count"`
}

func (s *Server) listStatuses(ctx context.Context, _ *mcpsdk.CallToolRequest, in ListInput) (*mcpsdk.CallToolResult, ListResult, error) {
	if in.Limit <= 0 {
		in.Limit = 20
	}
	tasks, err := s.store.List(ctx, in.Limit, in.Offset)
	if err != nil {
		return nil, ListResult{}, err
	}
	return nil, ListResult{Tasks: tasks, Count: len(tasks)}, nil
}

// OpResult reports the outcome of a simple task operation.
type OpResult struct {
	TaskID  string `json:"task_id"`
	Done    bool   `json:"done"`
	Message string `json:"message"`
}

func (s *Server) deleteStatus(ctx context.Context, _ *mcpsdk.CallToolRequest, in TaskRef) (*mcpsdk.CallToolResult, OpResult, error) {
	st, err := s.store.Get(ctx, in.TaskID)
	if err != nil {
		return nil, OpResult{}, err
	}
	if !st.Status.Terminal() {
		return nil, OpResult{}, fmt.Errorf("task %s is still %s; cancel it before deleting", in.TaskID, st.Status)
	}
	if err := s.store.Delete(ctx, in.TaskID); err != nil {
		return nil, OpResult{}, err
	}
	return nil, OpResult{TaskID: in.TaskID, Done: true, Message: "status record deleted"}, nil
}

func (s *Server) cancelTask(ctx context.Context, _ *mcpsdk.CallToolRequest, in TaskRef) (*mcpsdk.CallToolResult, OpResult, error) {
	st, err := s.store.Get(ctx, in.TaskID)
	if err != nil {
		return nil, OpResult{}, err
	}
	if st.Status.Terminal() {
		return nil, OpResult{TaskID: in.TaskID, Done: false, Message: fmt.Sprintf("task already %s", st.Status)}, nil
	}

	tracked := s.runner.Cancel(in.TaskID)
	if !tracked {
		// Not on a worker: queued records can be cancelled directly.
		if err := s.store.Update(ctx, in.TaskID, podcast.StateCancelled, "Task cancelled by request", -1); err != nil {
			return nil, OpResult{}, err
		}
	}
	return nil, OpResult{TaskID: in.TaskID, Done: true, Message: "cancellation requested"}, nil
}

// CleanupInput triggers a cleanup pass with an optional retention
// override.
type CleanupInput struct {
	TaskID    string             `json:"task_id"`
	Retention *cleanup.Retention `json:"retention,omitempty" jsonschema:"per-call retention flags overriding the configured policy"`
}

func (s *Server) cleanupTask(ctx context.Context, _ *mcpsdk.CallToolRequest, in CleanupInput) (*mcpsdk.CallToolResult, cleanup.Result, error) {
	if s.cleaner == nil {
		return nil, cleanup.Result{}, fmt.Errorf("cleanup is not configured")
	}
	if _, err := s.store.Get(ctx, in.TaskID); err != nil {
		return nil, cleanup.Result{}, err
	}
	res, err := s.cleaner.Apply(in.TaskID, in.Retention)
	if err != nil {
		return nil, cleanup.Result{}, err
	}
	return nil, res, nil
}

// QueueInput is empty; queue status takes no arguments.
type QueueInput struct{}

func (s *Server) queueStatus(_ context.Context, _ *mcpsdk.CallToolRequest, _ QueueInput) (*mcpsdk.CallToolResult, runner.QueueStatus, error) {
	return nil, s.runner.QueueStatus(), nil
}
