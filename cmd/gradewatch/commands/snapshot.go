package commands

import (
	"sort"
	"strings"

	"gradewatch/internal/grades"
	"gradewatch/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(snapshotCmd)
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Prints the last known grades.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		snapshot, err := store.NewSnapshotFile(cfg.Files.Snapshot).Load()
		if err != nil {
			return err
		}

		names := make([]string, 0, len(snapshot))
		for name := range snapshot {
			names = append(names, name)
		}
		sort.Strings(names)

		t := newTable()
		t.AppendHeader(table.Row{"Course", "Total", "Components"})
		for _, name := range names {
			state := snapshot[name]
			t.AppendRow(table.Row{name, state.Total, formatComponents(state.Components)})
		}
		t.Render()
		return nil
	},
}

func formatComponents(components []grades.Component) string {
	lines := make([]string, len(components))
	for i, c := range components {
		lines[i] = grades.FormatComponent(c)
	}
	return strings.Join(lines, "\n")
}
