package commands

import (
	"fmt"
	"time"

	"dropwatch/lib/browse"
	"dropwatch/lib/configutil"
	"dropwatch/lib/serviceutil"
	"dropwatch/services/watch"

	"github.com/spf13/cobra"
)

var saveStateConfig *string
var saveStateUsername *string
var saveStatePassword *string

func init() {
	saveStateConfig = saveStateCmd.Flags().String("config", "dropwatch.json5", "Path to the watch config.")
	saveStateUsername = saveStateCmd.Flags().String("username", "", "Account username or email.")
	saveStatePassword = saveStateCmd.Flags().String("password", "", "Account password.")
	saveStateCmd.MarkFlagRequired("username")
	saveStateCmd.MarkFlagRequired("password")
	rootCmd.AddCommand(saveStateCmd)
}

var saveStateCmd = &cobra.Command{
	Use:   "save-state --username <user> --password <pass> [--config <path>]",
	Short: "Logs in and prints a base64 credential snapshot for the storage_state_b64 config key.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[watch.Config](*saveStateConfig)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		if cfg.LoginUrl == "" {
			serviceutil.Fatal("login_url is not set in the config", fmt.Errorf("nothing to log in to"))
		}

		ctx := cmd.Context()
		session, err := browse.NewSession(ctx, browse.Options{
			BaseUrl: cfg.LoginUrl,
			Timeout: time.Second * 30,
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize session", err)
		}
		defer session.Close()

		err = session.LoginUsernamePassword(ctx, cfg.LoginUrl, *saveStateUsername, *saveStatePassword)
		if err != nil {
			serviceutil.Fatal("failed to login", err)
		}

		encoded, err := session.ExportStorageState().Encode()
		if err != nil {
			serviceutil.Fatal("failed to encode storage state", err)
		}
		fmt.Println(encoded)
	},
}
