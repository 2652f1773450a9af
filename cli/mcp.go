// ABOUTME: MCP server subcommand
// ABOUTME: Serves the rollup tools over stdio for Claude Desktop and other MCP clients
package cli

import (
	"github.com/harperreed/rollupsync/config"
	"github.com/harperreed/rollupsync/handlers"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMCPCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.Engine()
			if err != nil {
				return err
			}

			server := mcp.NewServer(&mcp.Implementation{
				Name:    config.AppName,
				Version: app.version,
			}, nil)
			handlers.NewRollupHandlers(engine, app.store, app.jobKey()).Register(server)

			app.logger.Info("starting MCP server", zap.String("job", app.jobKey()))
			return server.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}
