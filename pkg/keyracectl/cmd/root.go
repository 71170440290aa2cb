package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keyrace/keyracectl/pkg/keyracectl/config"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
}

type runtimeState struct {
	configPath      string
	cfg             *config.Config
	serverOverride  string
	teamOverride    string
	playerOverride  string
	storageOverride string
	noBrowser       bool
	verbose         bool
	writer          io.Writer
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter}

	root := &cobra.Command{
		Use:   "keyracectl",
		Short: "Keyrace CLI",
		Long:  "keyracectl manages the keyrace account link and talks to the leaderboard server.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.serverOverride == "" {
				rt.serverOverride = os.Getenv("KEYRACE_SERVER")
			}
			if rt.teamOverride == "" {
				rt.teamOverride = os.Getenv("KEYRACE_TEAM")
			}
			if rt.playerOverride == "" {
				rt.playerOverride = os.Getenv("KEYRACE_PLAYER")
			}
			if rt.storageOverride == "" {
				rt.storageOverride = os.Getenv("KEYRACE_TOKEN_STORAGE")
			}
			if !rt.noBrowser {
				rt.noBrowser = strings.EqualFold(os.Getenv("KEYRACE_NO_BROWSER"), "true")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("KEYRACE_VERBOSE"), "true")
			}

			// Commands that work without a config file.
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}

			loaded, err := config.Load(rt.configPath)
			if os.IsNotExist(err) {
				// Fall back to the built-in GitHub provider so first-run
				// login works before config init.
				defaults := config.DefaultConfig()
				rt.cfg = &defaults
				return nil
			}
			if err != nil {
				return err
			}
			rt.cfg = loaded
			return rt.cfg.Validate()
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVar(&rt.serverOverride, "server", "", "Leaderboard server override")
	root.PersistentFlags().StringVar(&rt.teamOverride, "team", "", "Team name override")
	root.PersistentFlags().StringVar(&rt.playerOverride, "player", "", "Player name override")
	root.PersistentFlags().StringVar(&rt.storageOverride, "token-storage", "", "Token storage backend: keychain or file")
	root.PersistentFlags().BoolVar(&rt.noBrowser, "no-browser", false, "Never open a browser automatically")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable verbose logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewConfigCommand(),
		NewAuthCommand(),
		NewLeaderboardCommand(),
		NewCountCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) Logger() *zap.Logger {
	if !rt.verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func (rt *runtimeState) resolveServer() string {
	if rt.serverOverride != "" {
		return rt.serverOverride
	}
	if rt.cfg != nil {
		return rt.cfg.Server
	}
	return ""
}

func (rt *runtimeState) resolveTeam() string {
	if rt.teamOverride != "" {
		return rt.teamOverride
	}
	if rt.cfg != nil {
		return rt.cfg.Team
	}
	return ""
}

func (rt *runtimeState) resolvePlayer() string {
	if rt.playerOverride != "" {
		return rt.playerOverride
	}
	if rt.cfg != nil {
		return rt.cfg.Player
	}
	return ""
}

func (rt *runtimeState) tokenStorage() string {
	if rt.storageOverride != "" {
		return rt.storageOverride
	}
	if rt.cfg != nil && rt.cfg.Settings.TokenStorage != "" {
		return rt.cfg.Settings.TokenStorage
	}
	return ""
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}
