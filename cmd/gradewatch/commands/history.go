package commands

import (
	"time"

	"gradewatch/internal/chrono"
	"gradewatch/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit *int

func init() {
	historyLimit = historyCmd.Flags().IntP("limit", "n", 50, "The maximum number of changes to list, 0 lists all.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [course]",
	Short: "Lists recorded grade changes, newest first.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		clock, err := chrono.NewStandardTime(cfg.Timezone)
		if err != nil {
			return err
		}

		db, err := store.OpenHistoryDB(ctx, cfg.History)
		if err != nil {
			return err
		}
		defer closeDB(db)

		course := ""
		if len(args) > 0 {
			course = args[0]
		}
		changes, err := store.NewHistory(db, clock).Pull(ctx, course, *historyLimit)
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Time", "Cycle", "Course", "Previous", "Total", "Components"})
		for _, c := range changes {
			previous := "(new)"
			if c.PreviousTotal != nil {
				previous = *c.PreviousTotal
			}
			t.AppendRow(table.Row{
				c.Time.In(clock.Now().Location()).Format(time.DateTime),
				c.CycleID,
				c.Course,
				previous,
				c.Current.Total,
				formatComponents(c.Current.Components),
			})
		}
		t.Render()
		return nil
	},
}
