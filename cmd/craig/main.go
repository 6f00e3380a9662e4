// Craig - chat bot with AI replies and reaction-driven matchmaking
// License: MIT
//
// Copyright (c) 2026 Craig contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/craig/cmd/craig/internal"
	"github.com/tinyland-inc/craig/cmd/craig/internal/agent"
	"github.com/tinyland-inc/craig/cmd/craig/internal/gateway"
	"github.com/tinyland-inc/craig/cmd/craig/internal/onboard"
	"github.com/tinyland-inc/craig/cmd/craig/internal/parse"
	"github.com/tinyland-inc/craig/cmd/craig/internal/version"
)

func NewCraigCommand() *cobra.Command {
	short := fmt.Sprintf("%s craig - Chat bot with AI replies and matchmaking v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "craig",
		Short:   short,
		Example: "craig gateway",
	}

	cmd.PersistentFlags().StringVarP(&internal.ConfigPathOverride, "config", "c", "",
		"Config file path (default: ~/.craig/config.json)")

	cmd.AddCommand(
		onboard.NewOnboardCommand(),
		agent.NewAgentCommand(),
		gateway.NewGatewayCommand(),
		parse.NewParseCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewCraigCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
