package commands

import (
	"gradewatch/internal/browser"
	"gradewatch/internal/telemetry"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Opens the setup form to enter portal, email and OCR credentials, then exits.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sec, err := loadSecrets(cfg)
		if err != nil {
			return err
		}

		tel := telemetry.SlogAPI{}
		manager := browser.NewManager(browser.Config{
			UserDataDir: cfg.UserDataDir,
			Bin:         cfg.Browser.Bin,
			RemoteURL:   cfg.Browser.RemoteURL,
		}, telemetry.NewScopedAPI("browser", tel))
		if err := manager.Start(ctx); err != nil {
			return err
		}
		defer manager.Close()

		_, err = collectSecrets(ctx, cfg, sec, manager, tel)
		return err
	},
}
