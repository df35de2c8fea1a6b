package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/porthorian/consoleauth/pkg/authz"
	"github.com/porthorian/consoleauth/pkg/session"
)

func init() {
	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newLogoutCommand())
	rootCmd.AddCommand(newWhoamiCommand())
}

func newLoginCommand() *cobra.Command {
	var flags clientFlags
	var username, passwordHash string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the admin API and store the session locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(passwordHash) == "" {
				return errors.New("missing --password-hash")
			}

			client, err := newClient(cmd, flags)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Login(cmd.Context(), username, passwordHash); err != nil {
				return err
			}

			mask := client.Session().Mask()
			cmd.Printf("Logged in with permissions %d (%s)\n", uint64(mask), mask)
			return nil
		},
	}

	bindClientFlags(cmd, &flags)
	cmd.Flags().StringVar(&username, "username", "", "Account username.")
	cmd.Flags().StringVar(&passwordHash, "password-hash", "", "Password hash as expected by the admin API.")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newLogoutCommand() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Log out and remove the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, flags)
			if err != nil {
				return err
			}
			defer client.Close()

			err = client.Logout(cmd.Context())
			cmd.Println("Local session cleared.")
			return err
		},
	}

	bindClientFlags(cmd, &flags)
	return cmd
}

func newWhoamiCommand() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored session and the console modules it can open",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, flags)
			if err != nil {
				return err
			}
			defer client.Close()

			state := client.Session()
			if state.Status() != session.StatusAuthenticated {
				cmd.Println("Not logged in.")
				return nil
			}

			mask := state.Mask()
			cmd.Printf("Status: %s\n", state.Status())
			cmd.Printf("Permissions: %d (%s)\n", uint64(mask), mask)
			return writeAccessTable(cmd.OutOrStdout(), authz.VisibleModules(mask))
		},
	}

	bindClientFlags(cmd, &flags)
	return cmd
}
