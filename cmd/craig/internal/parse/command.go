package parse

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/craig/pkg/matchmaking"
)

// result is the --json output of craig parse.
type result struct {
	Matched       bool   `json:"matched"`
	RequiredCount int    `json:"required_count,omitempty"`
	Role          string `json:"role,omitempty"`
	Activity      string `json:"activity,omitempty"`
	Initiator     string `json:"initiator,omitempty"`
}

func NewParseCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "parse <text>",
		Short:   "Show how a message would be read as a matchmaking request",
		Example: `craig parse "<@U123> needs 3 players for Valorant"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return parseCmd(cmd.OutOrStdout(), strings.Join(args, " "), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}

func parseCmd(w io.Writer, text string, asJSON bool) error {
	res := result{Initiator: matchmaking.InitiatorMention(text)}
	if req := matchmaking.Parse(text); req != nil {
		res.Matched = true
		res.RequiredCount = req.RequiredCount
		res.Role = req.Role
		res.Activity = req.Activity
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if !res.Matched {
		fmt.Fprintln(w, "No matchmaking request found")
		return nil
	}

	initiator := "message author"
	if res.Initiator != "" {
		initiator = matchmaking.Mention(res.Initiator)
	}
	fmt.Fprintf(w, "Initiator: %s\n", initiator)
	fmt.Fprintf(w, "Needs:     %d %s\n", res.RequiredCount, res.Role)
	fmt.Fprintf(w, "Activity:  %s\n", res.Activity)
	return nil
}
