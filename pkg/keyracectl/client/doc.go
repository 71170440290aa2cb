// Package client implements the HTTP client for the keyrace leaderboard
// server: uploading keystroke counts and fetching the rendered leaderboard.
package client
