package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MuhammadQasim111/AudioTranscriber/internal/session"
)

var loginCmd = &cobra.Command{
	Use:   "login EMAIL",
	Short: "Sign in so the service processes queued tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessionStore()
		if err != nil {
			return err
		}
		user, err := store.Login(args[0])
		if err != nil {
			printError("login failed", err)
			return err
		}
		fmt.Printf("Signed in as %s\n", user.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessionStore()
		if err != nil {
			return err
		}
		if err := store.Logout(); err != nil {
			printError("logout failed", err)
			return err
		}
		fmt.Println("Signed out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

func openSessionStore() (*session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		printError("failed to load configuration", err)
		return nil, err
	}
	if cfg.Session.Path == "" {
		err := fmt.Errorf("session.path is not configured")
		printError("cannot persist session", err)
		return nil, err
	}
	store, err := session.NewStore(cfg.Session.Path, initLogger(cfg.Logging))
	if err != nil {
		printError("failed to open session store", err)
		return nil, err
	}
	return store, nil
}
