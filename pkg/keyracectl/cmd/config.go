package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyrace/keyracectl/pkg/keyracectl/config"
	"github.com/keyrace/keyracectl/pkg/keyracectl/output"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage keyracectl configuration",
	}

	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
		newConfigSetValueCommand(),
	)

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		server string
		team   string
		player string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a keyracectl config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPathValue()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}
			cfg := config.DefaultConfig()
			if server != "" {
				cfg.Server = server
			}
			cfg.Team = team
			cfg.Player = player
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Initialized config at %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Leaderboard server URL")
	cmd.Flags().StringVar(&team, "team", "", "Team name")
	cmd.Flags().StringVar(&player, "player", "", "Player name")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")

	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if rt.cfg == nil {
				return fmt.Errorf("no config loaded")
			}
			return output.WriteObject(rt.Writer(), output.FormatYAML, rt.cfg)
		},
	}
}

func newConfigSetValueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if rt.cfg == nil {
				return fmt.Errorf("no config loaded")
			}
			key := args[0]
			value := args[1]
			switch key {
			case "server":
				rt.cfg.Server = value
			case "team":
				rt.cfg.Team = value
			case "player":
				rt.cfg.Player = value
			case "settings.token-storage":
				rt.cfg.Settings.TokenStorage = value
			case "provider.client-id":
				rt.cfg.Provider.ClientID = value
			case "provider.authority":
				rt.cfg.Provider.Authority = value
			case "provider.scope":
				rt.cfg.Provider.Scope = value
			case "provider.grant-type":
				rt.cfg.Provider.GrantType = value
			default:
				return fmt.Errorf("unsupported key: %s", key)
			}
			if err := rt.cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			return nil
		},
	}
}
