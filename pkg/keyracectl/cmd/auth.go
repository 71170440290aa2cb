package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyrace/keyracectl/pkg/keyracectl/auth"
	"github.com/keyrace/keyracectl/pkg/keyracectl/config"
)

const keychainService = "keyrace"

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Link and inspect the keyrace account",
	}
	cmd.AddCommand(
		newAuthLoginCommand(),
		newAuthStatusCommand(),
		newAuthLogoutCommand(),
	)
	return cmd
}

// buildIdentityService wires the device client, token store and profile
// client from the resolved provider configuration.
func buildIdentityService(ctx context.Context, rt *runtimeState) (*auth.Service, error) {
	if rt.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	provider := rt.cfg.Provider

	endpoints := auth.Endpoints{
		DeviceAuthURL: provider.DeviceAuthURL,
		TokenURL:      provider.TokenURL,
		ProfileURL:    provider.ProfileURL,
	}
	if provider.Authority != "" && (endpoints.DeviceAuthURL == "" || endpoints.TokenURL == "") {
		discovered, err := auth.DiscoverEndpoints(ctx, nil, provider.Authority)
		if err != nil {
			return nil, err
		}
		if endpoints.DeviceAuthURL == "" {
			endpoints.DeviceAuthURL = discovered.DeviceAuthURL
		}
		if endpoints.TokenURL == "" {
			endpoints.TokenURL = discovered.TokenURL
		}
		if endpoints.ProfileURL == "" {
			endpoints.ProfileURL = discovered.ProfileURL
		}
	}

	account := provider.Name
	if account == "" {
		account = "default"
	}
	store, err := auth.NewTokenStore(rt.tokenStorage(), keychainService, account, config.DefaultTokenPath())
	if err != nil {
		return nil, err
	}

	device := auth.NewDeviceClient(endpoints)
	profile := auth.NewProfileClient(endpoints.ProfileURL, nil)
	return auth.NewService(device, store, profile, auth.WithLogger(rt.Logger())), nil
}

func newAuthLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Link this machine to your account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			service, err := buildIdentityService(ctx, rt)
			if err != nil {
				return err
			}
			provider := rt.cfg.Provider

			if provider.GrantType == config.GrantAuthorizationCode {
				secret, err := auth.ResolveClientSecret(provider.ClientSecret, provider.ClientSecretEnv, provider.ClientSecretFile)
				if err != nil {
					return err
				}
				cred, err := auth.BrowserLogin(ctx, auth.BrowserLoginConfig{
					Authority:    provider.Authority,
					ClientID:     provider.ClientID,
					ClientSecret: secret,
				})
				if err != nil {
					return err
				}
				if err := service.AdoptCredential(ctx, cred); err != nil {
					return err
				}
				return printLoginResult(rt, service)
			}

			done := make(chan error, 1)
			service.Login(ctx, provider.ClientID, provider.Scope,
				func(userCode, verificationURI string) {
					_, _ = fmt.Fprintf(rt.Writer(), "Visit %s and enter code: %s\n", verificationURI, userCode)
					if !rt.noBrowser {
						_ = auth.OpenBrowser(verificationURI)
					}
				},
				func(err error) {
					done <- err
				})

			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-done:
				if err != nil {
					return err
				}
			}
			return printLoginResult(rt, service)
		},
	}
}

func printLoginResult(rt *runtimeState, service *auth.Service) error {
	if username, ok := service.CurrentUsername(); ok {
		_, _ = fmt.Fprintf(rt.Writer(), "Logged in as @%s\n", username)
		return nil
	}
	_, _ = fmt.Fprintln(rt.Writer(), "Logged in")
	return nil
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show account link status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			service, err := buildIdentityService(ctx, rt)
			if err != nil {
				return err
			}

			err = service.RefreshIdentity(ctx)
			switch {
			case errors.Is(err, auth.ErrUnauthorized):
				_, _ = fmt.Fprintln(rt.Writer(), "Not logged in")
				return nil
			case err != nil:
				return err
			}
			return printLoginResult(rt, service)
		},
	}
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			service, err := buildIdentityService(cmd.Context(), rt)
			if err != nil {
				return err
			}
			if err := service.Logout(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Logged out")
			return nil
		},
	}
}
