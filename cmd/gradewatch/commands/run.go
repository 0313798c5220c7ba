package commands

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"gradewatch/internal/browser"
	"gradewatch/internal/captcha"
	"gradewatch/internal/chrono"
	"gradewatch/internal/config"
	"gradewatch/internal/grades"
	"gradewatch/internal/login"
	"gradewatch/internal/monitor"
	"gradewatch/internal/notify"
	"gradewatch/internal/secrets"
	"gradewatch/internal/session"
	"gradewatch/internal/store"
	"gradewatch/internal/surface"
	"gradewatch/internal/telemetry"

	"github.com/spf13/cobra"
)

var (
	runForceSetup *bool
	runOnce       *bool
)

func init() {
	runForceSetup = runCmd.Flags().Bool("setup", false, "Show the setup form even when the stored secrets are complete.")
	runOnce = runCmd.Flags().Bool("once", false, "Run a single check and exit.")
	rootCmd.AddCommand(runCmd)

	rootCmd.Flags().AddFlagSet(runCmd.Flags())
	rootCmd.RunE = runCmd.RunE
}

var runCmd = &cobra.Command{
	Use:   "run [--setup] [--once]",
	Short: "Checks the portal for grade updates every check interval until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		otel, err := telemetry.Setup(ctx, "gradewatch", cfg.Telemetry)
		if err != nil {
			return err
		}
		defer otel.Shutdown(context.WithoutCancel(ctx))

		var tel telemetry.API = telemetry.SlogAPI{}
		telemetry.InstrumentPerfStats(ctx, telemetry.NewScopedAPI("perf", tel), time.Minute)

		manager := browser.NewManager(browser.Config{
			UserDataDir: cfg.UserDataDir,
			Headless:    cfg.Browser.Headless,
			Bin:         cfg.Browser.Bin,
			RemoteURL:   cfg.Browser.RemoteURL,
		}, telemetry.NewScopedAPI("browser", tel))
		if err := manager.Start(ctx); err != nil {
			return err
		}
		defer manager.Close()

		sec, err := loadSecrets(cfg)
		if err != nil {
			return err
		}
		if *runForceSetup || !sec.LoginConfigured() {
			sec, err = collectSecrets(ctx, cfg, sec, manager, tel)
			if err != nil {
				return err
			}
		}

		m, closeHistory, err := buildMonitor(ctx, cfg, sec, manager, tel)
		if err != nil {
			return err
		}
		defer closeHistory()

		if *runOnce {
			_, err := m.Check(ctx)
			return err
		}

		err = m.Run(ctx)
		if errors.Is(err, context.Canceled) {
			slog.Info("stopped")
			return nil
		}
		return err
	},
}

// collectSecrets shows the setup form in the watched browser, merges the
// submission into the stored secrets and saves them.
func collectSecrets(ctx context.Context, cfg config.Config, current secrets.Secrets, manager *browser.Manager, tel telemetry.API) (secrets.Secrets, error) {
	var formPage surface.Page
	open := func(url string) error {
		page, err := manager.NewPage(ctx)
		if err != nil {
			return err
		}
		formPage = page
		return page.Navigate(ctx, url, surface.DOMContentLoaded, 30*time.Second)
	}

	slog.Info("fill in the setup form in the browser window", "addr", cfg.SetupAddr)
	submitted, err := secrets.Collect(ctx, cfg.SetupAddr, config.SetupDefaults(cfg, current), open, telemetry.NewScopedAPI("setup", tel))
	if formPage != nil {
		formPage.Close()
	}
	if err != nil {
		return current, err
	}

	stored, err := secrets.Load(cfg.Files.Secrets)
	if err != nil {
		return current, err
	}
	merged, err := secrets.Merge(stored, submitted)
	if err != nil {
		return current, err
	}
	if err := secrets.Save(cfg.Files.Secrets, merged); err != nil {
		return current, err
	}
	slog.Info("saved secrets", "file", cfg.Files.Secrets)

	return secrets.Merge(current, submitted)
}

func buildMonitor(ctx context.Context, cfg config.Config, sec secrets.Secrets, manager *browser.Manager, tel telemetry.API) (*monitor.Monitor, func(), error) {
	loginURL, gradesURL := config.URLs(cfg, sec)
	if loginURL == "" || gradesURL == "" {
		return nil, nil, errors.New("login_url and grades_url must be set in the config or with `gradewatch setup`")
	}

	clock, err := chrono.NewStandardTime(cfg.Timezone)
	if err != nil {
		return nil, nil, err
	}

	selectors := config.Selectors(cfg)
	ocrConfig := config.OCR(cfg, sec)
	if !ocrConfig.Configured() {
		slog.Warn("OCR is not configured, CAPTCHAs have to be solved by hand")
	}
	solver := captcha.NewSolver(ocrConfig, config.CaptchaSelectors(cfg), telemetry.NewScopedAPI("captcha", tel))

	var cas *login.CAS
	if len(cfg.CAS.Markers) > 0 {
		cas = login.NewCAS(cfg.CAS.CASConfig, login.DefaultTimings().CAS, telemetry.NewScopedAPI("cas", tel))
	}

	machine := login.NewMachine(login.Options{
		Selectors: selectors,
		Credentials: login.Credentials{
			Username: sec.Login.Username,
			Password: sec.Login.Password,
		},
		MaxRetries:         cfg.OCR.MaxRetries,
		SwitchAccountLabel: cfg.CAS.SwitchAccountLabel,
		CAS:                cas,
		Solver:             solver,
		Timings:            login.DefaultTimings(),
	}, telemetry.NewScopedAPI("login", tel))

	navigator := session.NewNavigator(session.Options{
		URLs:          session.URLs{Login: loginURL, Grades: gradesURL},
		Selectors:     selectors,
		Machine:       machine,
		CAS:           cas,
		SuccessMarker: cfg.CAS.SuccessMarker,
		Timings:       session.DefaultTimings(),
	}, telemetry.NewScopedAPI("session", tel))

	snapshots := store.NewSnapshotFile(cfg.Files.Snapshot)
	seen, err := snapshots.Load()
	if err != nil {
		slog.Warn("could not read the snapshot, starting from an empty one", "file", snapshots.Path(), "err", err)
		seen = grades.Snapshot{}
	}

	closeHistory := func() {}
	var history monitor.History
	db, err := store.OpenHistoryDB(ctx, cfg.History)
	switch {
	case err != nil:
		slog.Warn("change history disabled", "err", err)
	case db != nil:
		history = store.NewHistory(db, clock)
		closeHistory = func() { closeDB(db) }
	}

	notifier := notify.NewMulti(
		telemetry.NewScopedAPI("notify", tel),
		notify.NewEmail(config.Email(cfg, sec), clock, telemetry.NewScopedAPI("email", tel)),
		notify.NewPopup(manager),
	)

	m := monitor.NewMonitor(monitor.Options{
		Pages:          manager,
		Navigator:      navigator,
		Scraper:        grades.NewScraper(selectors, grades.DefaultScrapeTimings(), telemetry.NewScopedAPI("grades", tel)),
		Snapshots:      snapshots,
		History:        history,
		Notifier:       notifier,
		ScreenshotPath: cfg.Files.Screenshot,
		Interval:       cfg.CheckInterval(),
	}, seen, telemetry.NewScopedAPI("monitor", tel))

	return m, closeHistory, nil
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Warn("close history db", "err", err)
	}
}
