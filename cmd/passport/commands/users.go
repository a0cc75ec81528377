package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	sessionhttp "github.com/layer-3/passport/transport/http"
)

type user struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// UsersCommand lists the server's users with the session's credentials
func UsersCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List the users known to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimSuffix(opts.Server, "/")+"/api/users", nil)
			if err != nil {
				return err
			}

			resp, err := sessionhttp.NewClient(s).Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %d", resp.StatusCode)
			}

			var body struct {
				Users []user `json:"users"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("failed to decode users: %w", err)
			}

			table := uitable.New()
			table.AddRow("USERNAME", "NAME", "EMAIL")
			for _, u := range body.Users {
				table.AddRow(u.Username, strings.TrimSpace(u.FirstName+" "+u.LastName), u.Email)
			}

			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

// WhoamiCommand asks the server who the session belongs to
func WhoamiCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the username the server associates with the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			client := resty.New().SetBaseURL(opts.Server)
			sessionhttp.WithSessionAuth(s)(client)

			var me struct {
				Username string `json:"username"`
			}
			resp, err := client.R().SetContext(cmd.Context()).SetResult(&me).Get("/api/me")
			if err != nil {
				return err
			}
			if resp.IsError() {
				return fmt.Errorf("unexpected status %d", resp.StatusCode())
			}

			fmt.Fprintln(cmd.OutOrStdout(), me.Username)
			return nil
		},
	}
}
