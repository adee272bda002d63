package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scalpel-cua/internal/mcp"
	"github.com/xkilldash9x/scalpel-cua/internal/observability"
)

func newServeCmd() *cobra.Command {
	var docsOnly bool

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the document search API and the websocket agent endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			srv := mcp.NewServer(cfg.MCP(), logger)
			if !docsOnly {
				// No one can answer a prompt here; checks pass only with agent.auto_ack.
				stack, err := buildAgent(ctx, cfg, logger, nil, srv)
				if err != nil {
					return err
				}
				defer stack.Close()
				srv.SetInteractor(stack.runner)
			}
			return srv.Start(ctx)
		},
	}

	serveCmd.Flags().BoolVar(&docsOnly, "docs-only", false, "serve only the document API without starting a browser")
	return serveCmd
}
