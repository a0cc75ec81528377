package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/layer-3/passport"
)

// LoginCommand logs in with a username and password
func LoginCommand(opts *Options) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and persist the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = viper.GetString("password")
			}
			if username == "" || password == "" {
				return errors.New("username and password are required")
			}

			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.Login(cmd.Context(), passport.Credentials{Username: username, Password: password}); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username to log in with.")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password. Read from PASSPORT_PASSWORD when not set.")

	return cmd
}

// LogoutCommand forgets the persisted session
func LogoutCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			s.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

// TokenCommand prints a valid access token, refreshing it first when needed
func TokenCommand(opts *Options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			token, err := s.GetValidToken(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(token)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token.Access)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the access and refresh tokens as JSON.")

	return cmd
}

// StatusCommand describes the persisted session without refreshing it
func StatusCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Describe the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			table := uitable.New()
			table.MaxColWidth = 80
			table.AddRow("SERVER:", opts.Server)
			table.AddRow("STORAGE KEY:", opts.StorageKey)

			token, err := s.GetCurrentToken(cmd.Context())
			if err != nil {
				table.AddRow("LOGGED IN:", "no")
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			}

			table.AddRow("LOGGED IN:", "yes")
			expiresAt, ok, err := token.ExpiresAt()
			switch {
			case err != nil:
				table.AddRow("ACCESS TOKEN:", "malformed")
			case !ok:
				table.AddRow("EXPIRES:", "never")
			default:
				table.AddRow("EXPIRES:", expiresAt.Local().Format(time.RFC3339))
				if time.Now().After(expiresAt) {
					table.AddRow("STATE:", "expired, refreshed on next use")
				} else {
					table.AddRow("STATE:", fmt.Sprintf("valid for %s", time.Until(expiresAt).Round(time.Second)))
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}
