// Package auth implements the keyrace identity core: an OAuth device
// authorization grant client, single-slot credential storage backed by the
// OS keychain or a file, and the identity service that drives login
// attempts and username resolution for the menu-bar app and the CLI.
package auth
