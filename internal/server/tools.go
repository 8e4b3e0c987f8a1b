package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sevir/vigia/pkg/models"
)

const defaultWaitTimeout = 5 * time.Minute

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func (s *Server) registerTools() {
	s.tools["list_agents"] = s.toolListAgents
	s.tools["get_agent"] = s.toolGetAgent
	s.tools["start_agent"] = s.toolStartAgent
	s.tools["stop_agent"] = s.toolStopAgent
	s.tools["submit_task"] = s.toolSubmitTask
	s.tools["get_agent_logs"] = s.toolGetAgentLogs
	s.tools["wait_agent_idle"] = s.toolWaitAgentIdle
	s.tools["list_task_types"] = s.toolListTaskTypes
	s.tools["get_stats"] = s.toolGetStats
}

func agentProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Name of the agent",
	}
}

func (s *Server) getToolDefinitions() []Tool {
	agentOnly := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"agent": agentProperty(),
		},
		"required": []string{"agent"},
	}

	return []Tool{
		{
			Name:        "list_agents",
			Description: "List every agent with its status, liveness, queue size, progress and recent log lines",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "get_agent",
			Description: "Get the current snapshot of one agent",
			InputSchema: agentOnly,
		},
		{
			Name:        "start_agent",
			Description: "Start an agent's worker. Starting a running agent does nothing",
			InputSchema: agentOnly,
		},
		{
			Name:        "stop_agent",
			Description: "Stop a running agent. The task in progress is abandoned at its next step and queued tasks are cancelled",
			InputSchema: agentOnly,
		},
		{
			Name:        "submit_task",
			Description: "Queue a task on an agent. Tasks submitted to an agent that is not running wait until it is started",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agent": agentProperty(),
					"task_type": map[string]interface{}{
						"type":        "string",
						"description": "Task type, see list_task_types. Unknown types run a generic step",
					},
					"content": map[string]interface{}{
						"type":        "string",
						"description": "Text to work on",
					},
					"document_base64": map[string]interface{}{
						"type":        "string",
						"description": "Document bytes, base64 encoded. Used instead of content when set",
					},
				},
				"required": []string{"agent", "task_type"},
			},
		},
		{
			Name:        "get_agent_logs",
			Description: "Get an agent's activity log",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agent": agentProperty(),
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Return only the last N entries. 0 returns the full history",
						"default":     0,
					},
				},
				"required": []string{"agent"},
			},
		},
		{
			Name:        "wait_agent_idle",
			Description: "Wait until an agent has no queued or in-flight tasks",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agent": agentProperty(),
					"timeout": map[string]interface{}{
						"type":        "string",
						"description": "Maximum time to wait (e.g., '30s', '5m'). Default: 5m",
					},
				},
				"required": []string{"agent"},
			},
		},
		{
			Name:        "list_task_types",
			Description: "List the task types agents know how to run",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "get_stats",
			Description: "Get agent counts by status plus totals of completed, failed and cancelled tasks",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

type agentArgs struct {
	Agent string `json:"agent"`
}

func parseAgentArgs(params json.RawMessage) (string, error) {
	var args agentArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if args.Agent == "" {
		return "", fmt.Errorf("agent is required")
	}
	return args.Agent, nil
}

func (s *Server) toolListAgents(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"agents": s.agentViews(),
	}, nil
}

func (s *Server) toolGetAgent(ctx context.Context, params json.RawMessage) (interface{}, error) {
	name, err := parseAgentArgs(params)
	if err != nil {
		return nil, err
	}
	snap, err := s.registry.Snapshot(name)
	if err != nil {
		return nil, err
	}
	return newAgentView(snap, time.Now()), nil
}

func (s *Server) toolStartAgent(ctx context.Context, params json.RawMessage) (interface{}, error) {
	name, err := parseAgentArgs(params)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Start(name); err != nil {
		return nil, err
	}
	snap, _ := s.registry.Snapshot(name)
	return map[string]interface{}{
		"agent":  name,
		"status": snap.Status,
	}, nil
}

func (s *Server) toolStopAgent(ctx context.Context, params json.RawMessage) (interface{}, error) {
	name, err := parseAgentArgs(params)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Stop(name); err != nil {
		return nil, err
	}
	snap, _ := s.registry.Snapshot(name)
	return map[string]interface{}{
		"agent":  name,
		"status": snap.Status,
	}, nil
}

func (s *Server) toolSubmitTask(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args struct {
		Agent          string `json:"agent"`
		TaskType       string `json:"task_type"`
		Content        string `json:"content"`
		DocumentBase64 string `json:"document_base64"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if args.Agent == "" {
		return nil, fmt.Errorf("agent is required")
	}

	content := models.TextContent(args.Content)
	if args.DocumentBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(args.DocumentBase64)
		if err != nil {
			return nil, fmt.Errorf("invalid document_base64: %w", err)
		}
		content = models.BytesContent(data)
	}

	task, err := s.registry.Submit(args.Agent, args.TaskType, content)
	if err != nil {
		return nil, err
	}
	return task.ToSummary(), nil
}

func (s *Server) toolGetAgentLogs(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args struct {
		Agent string `json:"agent"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if args.Agent == "" {
		return nil, fmt.Errorf("agent is required")
	}

	logs, err := s.registry.Logs(args.Agent, args.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"agent": args.Agent,
		"logs":  logs,
	}, nil
}

func (s *Server) toolWaitAgentIdle(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args struct {
		Agent   string `json:"agent"`
		Timeout string `json:"timeout"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if args.Agent == "" {
		return nil, fmt.Errorf("agent is required")
	}

	timeout := defaultWaitTimeout
	if args.Timeout != "" {
		d, err := time.ParseDuration(args.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
		timeout = d
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap, err := s.registry.WaitIdle(ctx, args.Agent)
	if err != nil {
		return nil, err
	}
	return newAgentView(snap, time.Now()), nil
}

func (s *Server) toolListTaskTypes(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"task_types": s.registry.TaskTypes(),
	}, nil
}

func (s *Server) toolGetStats(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.registry.GetStats(), nil
}
