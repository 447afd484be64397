package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/arbor-commodities/sugarwire/internal/model"
	"github.com/arbor-commodities/sugarwire/internal/quota"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show the source catalog and quota allocation",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sources, err := loadSources()
		if err != nil {
			return eris.Wrap(err, "load source catalog")
		}

		budget, _ := cmd.Flags().GetInt("budget")
		floor, _ := cmd.Flags().GetInt("floor")
		if budget == 0 {
			budget = cfg.Ingest.WindowBudget
		}
		if floor == 0 {
			floor = cfg.Ingest.QuotaFloor
		}

		formatSources(os.Stdout, sources)

		plan, err := quota.Allocate(sources, budget, floor)
		if err != nil {
			return eris.Wrap(err, "allocate quota")
		}

		fmt.Fprintln(os.Stdout)
		formatQuotaPlan(os.Stdout, plan)
		return nil
	},
}

func init() {
	sourcesCmd.Flags().Int("budget", 0, "window budget to preview (default from config)")
	sourcesCmd.Flags().Int("floor", 0, "per-source quota floor to preview (default from config)")
	rootCmd.AddCommand(sourcesCmd)
}

// formatSources writes a tabular view of the catalog to w.
func formatSources(out io.Writer, sources []model.Source) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSITE\tCATEGORY\tRELIABILITY\tSHARE")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t--------\t-----------\t-----")

	for _, s := range sources {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%.3f\n",
			s.ID,
			s.Name,
			s.SiteID,
			s.Category,
			s.Reliability,
			s.Share(),
		)
	}
	_ = w.Flush()
}

// formatQuotaPlan writes the per-source quota allocation to w, sources
// sorted by descending quota then ID.
func formatQuotaPlan(out io.Writer, plan quota.Plan) {
	ids := make([]string, 0, len(plan))
	for id := range plan {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if plan[ids[i]] != plan[ids[j]] {
			return plan[ids[i]] > plan[ids[j]]
		}
		return ids[i] < ids[j]
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tQUOTA")
	_, _ = fmt.Fprintln(w, "------\t-----")
	for _, id := range ids {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", id, plan[id])
	}
	_, _ = fmt.Fprintf(w, "total\t%d\n", plan.Total())
	_ = w.Flush()
}
