package mcpsurface

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/writerr/changepipeline/internal/batch"
	"github.com/writerr/changepipeline/internal/core"
	"github.com/writerr/changepipeline/internal/query"
)

// registerTools binds every pipeline operation to an MCP tool.
func registerTools(server *sdkmcp.Server, c *core.Core) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "submit_changes",
		Description: "Submit one or more proposed edits for validation, conflict resolution, and optional batch grouping",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in SubmitParams) (*sdkmcp.CallToolResult, SubmitResult, error) {
		var auth *core.AuthContext
		if in.PluginID != "" {
			if a, ok := c.Producer(in.PluginID); ok {
				auth = &a
			}
		}
		inputs := make([]core.ChangeInput, len(in.Changes))
		for i, ch := range in.Changes {
			inputs[i] = toChangeInput(ch)
		}
		result, err := c.Submit(inputs, core.SubmitOptions{
			SessionID:          in.SessionID,
			CreateSession:      in.CreateSession,
			BypassValidation:   in.BypassValidation,
			GroupChanges:       in.GroupChanges,
			GroupingStrategy:   groupingStrategyFor(in.GroupingStrategy),
			EditorialOperation: batch.OperationType(in.EditorialOperation),
		}, auth)
		if err != nil {
			return nil, SubmitResult{}, mapError(err)
		}
		return nil, toSubmitResult(result), nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "accept_change",
		Description: "Accept a pending change or an entire batch group",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in DecisionParams) (*sdkmcp.CallToolResult, DecisionResult, error) {
		outcome, err := c.Accept(in.ChangeOrBatchID, in.Actor, in.Reason)
		if err != nil {
			return nil, DecisionResult{}, mapError(err)
		}
		return nil, toDecisionResult(outcome), nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "reject_change",
		Description: "Reject a pending change or an entire batch group",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in DecisionParams) (*sdkmcp.CallToolResult, DecisionResult, error) {
		outcome, err := c.Reject(in.ChangeOrBatchID, in.Actor, in.Reason)
		if err != nil {
			return nil, DecisionResult{}, mapError(err)
		}
		return nil, toDecisionResult(outcome), nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "query_changes",
		Description: "Find change ids matching a predicate set (category, source, status, confidence, text, warnings/threats)",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in QueryParams) (*sdkmcp.CallToolResult, QueryResult, error) {
		ids, err := c.QueryIDs(buildQuery(c, in))
		if err != nil {
			return nil, QueryResult{}, mapError(err)
		}
		return nil, QueryResult{ChangeIDs: ids}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "export_changes",
		Description: "Render changes matching a predicate set as Json, Csv, or Markdown",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in ExportParams) (*sdkmcp.CallToolResult, ExportResult, error) {
		format := query.Format(in.Format)
		out, err := c.Export(buildQuery(c, in.QueryParams), format, query.ExportOptions{})
		if err != nil {
			return nil, ExportResult{}, mapError(err)
		}
		return nil, ExportResult{Format: in.Format, Content: string(out)}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "register_producer",
		Description: "Register a third-party editorial plugin, negotiating its declared capabilities",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in RegisterProducerParams) (*sdkmcp.CallToolResult, RegisterProducerResult, error) {
		auth, err := c.RegisterProducer(core.Manifest{
			PluginID:     in.PluginID,
			Name:         in.Name,
			Version:      in.Version,
			SecurityHash: in.SecurityHash,
			Capabilities: core.Capabilities{
				Operations:       in.Operations,
				Providers:        in.Providers,
				MaxBatchSize:     in.MaxBatchSize,
				SupportsRealtime: in.SupportsRealtime,
				FileTypes:        in.FileTypes,
				Permissions:      in.Permissions,
			},
		})
		if err != nil {
			return nil, RegisterProducerResult{}, mapError(err)
		}
		return nil, RegisterProducerResult{
			PluginID: auth.PluginID,
			Status:   string(auth.Status),
			IssuedAt: auth.IssuedAt,
		}, nil
	})
}
