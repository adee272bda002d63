package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-cua/internal/observability"
	"github.com/xkilldash9x/scalpel-cua/internal/session"
)

func newRunCmd() *cobra.Command {
	var (
		resume    string
		autoAck   bool
		headless  bool
		remoteURL string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive agent session",
		Long: `Opens a browser and reads instructions from standard input. Each line is one
turn for the agent. Type 'save' to persist the conversation and 'exit' to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("auto-ack") {
				cfg.SetAgentAutoAck(autoAck)
			}
			if cmd.Flags().Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}
			if cmd.Flags().Changed("remote-url") {
				cfg.SetBrowserRemoteURL(remoteURL)
			}

			logger := observability.GetLogger()
			con := session.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout())

			stack, err := buildAgent(ctx, cfg, logger, con.Acknowledge, con)
			if err != nil {
				return err
			}
			defer stack.Close()

			if resume != "" {
				if err := stack.runner.Resume(ctx, resume); err != nil {
					return err
				}
				con.Printf("Resumed session %s (%d items).", resume, len(stack.runner.History()))
			}

			err = stack.runner.Run(ctx, con)
			logger.Info("Session finished.", zap.String("last_response_id", stack.coordinator.LastResponseID()))
			return err
		},
	}

	runCmd.Flags().StringVar(&resume, "resume", "", "resume a saved session (file path or response id)")
	runCmd.Flags().BoolVar(&autoAck, "auto-ack", false, "acknowledge every safety check without asking")
	runCmd.Flags().BoolVar(&headless, "headless", false, "run the browser without a window")
	runCmd.Flags().StringVar(&remoteURL, "remote-url", "", "attach to a running browser's DevTools endpoint")
	return runCmd
}
