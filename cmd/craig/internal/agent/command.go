package agent

import (
	"github.com/spf13/cobra"
)

func NewAgentCommand() *cobra.Command {
	var (
		message string
		model   string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:     "agent",
		Aliases: []string{"a"},
		Short:   "Chat with the bot persona from the terminal",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return agentCmd(message, model, debug)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Send a single message and exit")
	cmd.Flags().StringVar(&model, "model", "", "Override the configured model")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
