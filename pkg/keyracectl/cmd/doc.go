// Package cmd implements the cobra command tree for the keyracectl CLI,
// including subcommands for account login, leaderboard queries, count
// uploads, configuration, and shell completion.
package cmd
