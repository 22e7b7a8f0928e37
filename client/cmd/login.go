package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mahaj/groupchat/pkg/api"
	"github.com/mahaj/groupchat/pkg/chat"
	"github.com/mahaj/groupchat/pkg/session"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		if user == "" {
			return errors.New("--user is required")
		}

		c := api.New(cfg.Client.APIURL, &http.Client{Timeout: 10 * time.Second})
		res, err := c.Login(cmd.Context(), api.LoginRequest{UserID: user, Name: name, Email: email})
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		sess := &session.Session{User: res.User, Token: res.Token}
		if prev, err := store.Load(cmd.Context()); err == nil && prev.User.ID == res.User.ID {
			sess.ActiveGroup = prev.ActiveGroup
		}
		if err := store.Save(cmd.Context(), sess); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", res.User.ID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := chat.Resume(cmd.Context(), chat.Options{}, store)
		if errors.Is(err, chat.ErrNoSession) {
			return store.Clear(cmd.Context())
		}
		if err != nil {
			return err
		}
		if err := client.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringP("user", "u", "", "user id")
	loginCmd.Flags().String("name", "", "display name")
	loginCmd.Flags().String("email", "", "email address")
}
