package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"heritage-portal/backend/internal/services"
	"heritage-portal/backend/pkg/models"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server exposes the workflow engine as MCP tools. Tool calls act as the
// configured operator, so the transport in front of this server is expected
// to be authenticated.
type Server struct {
	mcpServer *server.MCPServer
	workflows *services.WorkflowService
	consensus *services.ConsensusService
	monitor   *services.DelayMonitor
	operator  models.Actor
}

func NewServer(workflows *services.WorkflowService, consensus *services.ConsensusService, monitor *services.DelayMonitor, operator models.Actor) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Heritage Portal Workflows",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		workflows: workflows,
		consensus: consensus,
		monitor:   monitor,
		operator:  operator,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_workflow",
			mcp.WithDescription("Start an approval workflow instance for a subject"),
			mcp.WithString("definition_id", mcp.Required(), mcp.Description("The workflow definition to instantiate")),
			mcp.WithString("subject_id", mcp.Required(), mcp.Description("The item the workflow governs")),
			mcp.WithString("metadata", mcp.Description("Optional JSON metadata validated against the workflow kind")),
		),
		s.handleStartWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"record_step_outcome",
			mcp.WithDescription("Approve or reject the current step of a workflow instance"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow instance ID")),
			mcp.WithNumber("step_index", mcp.Required(), mcp.Description("The zero-based index of the step being decided")),
			mcp.WithString("decision", mcp.Required(), mcp.Description("Either \"approve\" or \"reject\"")),
			mcp.WithString("comments", mcp.Description("Reviewer comments; required for rejections")),
		),
		s.handleRecordStepOutcome,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cancel_workflow",
			mcp.WithDescription("Cancel an in-flight workflow instance"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow instance ID")),
		),
		s.handleCancelWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"record_vote",
			mcp.WithDescription("Record a committee member's vote in the current review round"),
			mcp.WithString("subject_id", mcp.Required(), mcp.Description("The subject under committee review")),
			mcp.WithString("member_id", mcp.Required(), mcp.Description("The committee member casting the vote")),
			mcp.WithString("decision", mcp.Required(), mcp.Description("One of \"approved\", \"rejected\" or \"needs_revision\"")),
			mcp.WithString("rationale", mcp.Description("Vote rationale; required for rejections")),
		),
		s.handleRecordVote,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_delayed",
			mcp.WithDescription("List non-terminal workflow instances older than the SLA threshold"),
			mcp.WithNumber("threshold_days", mcp.Required(), mcp.Description("Age in days beyond which an instance counts as delayed")),
		),
		s.handleListDelayed,
	)
}

func (s *Server) handleStartWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	definitionID, ok := args["definition_id"].(string)
	if !ok || definitionID == "" {
		return mcp.NewToolResultError("Missing required parameter: definition_id"), nil
	}
	subjectID, ok := args["subject_id"].(string)
	if !ok || subjectID == "" {
		return mcp.NewToolResultError("Missing required parameter: subject_id"), nil
	}

	var metadata json.RawMessage
	if raw, ok := args["metadata"].(string); ok && raw != "" {
		metadata = json.RawMessage(raw)
	}

	inst, err := s.workflows.StartInstance(ctx, definitionID, subjectID, s.operator, metadata)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(inst)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRecordStepOutcome(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	stepIndex, ok := args["step_index"].(float64)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: step_index"), nil
	}
	decision, ok := args["decision"].(string)
	if !ok || decision == "" {
		return mcp.NewToolResultError("Missing required parameter: decision"), nil
	}
	comments, _ := args["comments"].(string)

	step, err := s.workflows.RecordStepOutcome(ctx, workflowID, int(stepIndex), s.operator, models.Decision(decision), comments)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to record outcome: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(step)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleCancelWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	inst, err := s.workflows.CancelInstance(ctx, workflowID, s.operator)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to cancel workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(inst)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRecordVote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	subjectID, ok := args["subject_id"].(string)
	if !ok || subjectID == "" {
		return mcp.NewToolResultError("Missing required parameter: subject_id"), nil
	}
	memberID, ok := args["member_id"].(string)
	if !ok || memberID == "" {
		return mcp.NewToolResultError("Missing required parameter: member_id"), nil
	}
	decision, ok := args["decision"].(string)
	if !ok || decision == "" {
		return mcp.NewToolResultError("Missing required parameter: decision"), nil
	}
	rationale, _ := args["rationale"].(string)

	outcome, err := s.consensus.RecordVote(ctx, subjectID, memberID, models.ReviewStatus(decision), "", rationale)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to record vote: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Vote recorded, consensus outcome: %s", outcome)), nil
}

func (s *Server) handleListDelayed(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	days, ok := args["threshold_days"].(float64)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: threshold_days"), nil
	}

	delayed, err := s.monitor.ListDelayed(ctx, int(days))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list delayed workflows: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(delayed)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
