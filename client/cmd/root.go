package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mahaj/groupchat/pkg/config"
	"github.com/mahaj/groupchat/pkg/logging"
	"github.com/mahaj/groupchat/pkg/session"
)

var (
	cfg   *config.Config
	store session.Store
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "groupchat",
	Short: "Terminal client for group chat",
	Long: `groupchat signs in against the chat API and joins one group at a time
over the realtime gateway.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		c, err := config.Load(path)
		if err != nil {
			return err
		}
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			c.Logging.Level = "debug"
		}
		logging.Init(c.Logging.Level, c.Logging.Format)
		if err := c.ValidateClient(); err != nil {
			return err
		}
		cfg = c

		profile, _ := cmd.Flags().GetString("profile")
		store = newStore(c, profile)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newStore(c *config.Config, profile string) session.Store {
	if c.Client.SessionStore == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		return session.NewRedisStore(rdb, profile, c.Auth.TokenTTL)
	}
	path := c.Client.SessionFile
	if profile != "" {
		path += "." + profile
	}
	return session.NewFileStore(path)
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default $GROUPCHAT_CONFIG)")
	rootCmd.PersistentFlags().String("profile", "", "session profile, for several logins on one machine")

	rootCmd.AddCommand(loginCmd, logoutCmd, chatCmd)
}
