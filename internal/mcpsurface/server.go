package mcpsurface

import (
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/writerr/changepipeline/internal/core"
)

const serverInstructions = `writerr-pipeline tracks proposed text edits ("changes") through
validation, multi-producer conflict resolution, clustering, and batch review.

Core concepts:
- Change: one proposed Insert/Delete/Replace/Move at a byte-offset position, with a
  Pending/Accepted/Rejected/Superseded lifecycle.
- Batch: a named group of changes reviewed and accepted/rejected together.
- Producer: a registered plugin (register_producer) whose submissions carry a
  plugin_id; unregistered callers may still submit, just without capability checks.

Typical flow:
1) submit_changes with the proposed edits; read back change_ids and any
   change_group_id from grouping.
2) query_changes / export_changes to review what is pending.
3) accept_change / reject_change by change id or batch group id.
`

// Config bundles the construction-time settings the MCP surface needs.
type Config struct {
	Core          *core.Core
	TransportMode string // "stdio" or "http"
	Logger        *slog.Logger
}

// NewServer builds an MCP server exposing c's operations as tools, wiring
// the middleware chain and tool registration together.
func NewServer(cfg Config) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "writerr-pipeline",
		Version: "0.1.0",
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))

	registerTools(server, cfg.Core)

	return server
}
