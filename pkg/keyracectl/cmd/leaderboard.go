package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyrace/keyracectl/pkg/keyracectl/client"
)

func buildClient(rt *runtimeState) (*client.Client, error) {
	server := rt.resolveServer()
	if server == "" {
		return nil, errors.New("no leaderboard server configured")
	}
	return client.New(client.WithServer(server))
}

func NewLeaderboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Show today's leaderboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			team := rt.resolveTeam()
			if team == "" {
				return errors.New("no team configured; set one with config init or --team")
			}
			c, err := buildClient(rt)
			if err != nil {
				return err
			}
			board, err := c.Leaderboard(cmd.Context(), team)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(rt.Writer(), board)
			return nil
		},
	}
}

func NewCountCommand() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Upload today's keystroke count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			team := rt.resolveTeam()
			player := rt.resolvePlayer()
			if team == "" || player == "" {
				return errors.New("both a team and a player name are required")
			}
			c, err := buildClient(rt)
			if err != nil {
				return err
			}
			if err := c.ReportCount(cmd.Context(), player, team, count); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Uploaded %d keystrokes for %s\n", count, player)
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Keystroke count for today")
	_ = cmd.MarkFlagRequired("count")
	return cmd
}
