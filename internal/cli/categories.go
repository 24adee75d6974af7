package cli

import (
	"github.com/spf13/cobra"

	"github.com/gzhole/accessguard/internal/detector"
	"github.com/gzhole/accessguard/internal/ui"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List detector categories",
	Long: `List the built-in categories followed by detectors from enabled rule
packs and saved custom scripts.`,
	Args: cobra.NoArgs,
	RunE: categoriesCommand,
}

func init() {
	rootCmd.AddCommand(categoriesCmd)
}

func categoriesCommand(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	var rows []ui.CategoryRow
	for _, c := range detector.Categories() {
		rows = append(rows, ui.CategoryRow{
			Key:         string(c.Key),
			Name:        c.Name,
			Severity:    string(c.Severity),
			Description: c.Description,
			Source:      "built-in",
		})
	}
	for _, ext := range s.orch.Extensions() {
		row := ui.CategoryRow{Key: string(ext.Key()), Name: ext.Name()}
		if d, ok := s.rules[ext.Key()]; ok {
			row.Source = "rule pack"
			row.Severity = string(d.Severity())
			row.Description = d.Definition().Description
		}
		if d, ok := s.store.Get(ext.Key()); ok {
			row.Source = "custom"
			row.Description = d.Description()
		}
		rows = append(rows, row)
	}

	ui.NewPrinter(cmd.OutOrStdout()).Categories(rows)
	return nil
}
