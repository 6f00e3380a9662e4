package onboard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/craig/cmd/craig/internal"
	"github.com/tinyland-inc/craig/pkg/config"
)

func NewOnboardCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "onboard",
		Aliases: []string{"o"},
		Short:   "Write a default config file",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return onboard(cmd.InOrStdin(), cmd.OutOrStdout(), internal.GetConfigPath(), force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config without asking")

	return cmd
}

func onboard(in io.Reader, out io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(out, "Config already exists at %s\n", path)
		fmt.Fprint(out, "Overwrite? (y/n): ")
		answer, _ := bufio.NewReader(in).ReadString('\n')
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	fmt.Fprintf(out, "%s craig is ready!\n", internal.Logo)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Add your tokens to %s\n", path)
	fmt.Fprintln(out, "     channels.slack.bot_token / app_token, or channels.discord.token")
	fmt.Fprintln(out, "     ai.api_key for mention replies")
	fmt.Fprintln(out, "  2. Run: craig gateway")
	return nil
}
