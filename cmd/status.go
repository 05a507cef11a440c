package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/relgraph/internal/cost"
	"github.com/sells-group/relgraph/internal/mailstore"
	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/pipeline"
	"github.com/sells-group/relgraph/internal/prioritize"
	"github.com/sells-group/relgraph/internal/store"
)

// statusReport is everything `status` prints.
type statusReport struct {
	Messages  int                `json:"messages"`
	Contacts  int                `json:"contacts"`
	Summary   prioritize.Summary `json:"summary"`
	Extracted int                `json:"extracted"`
	Estimate  pipeline.Estimate  `json:"estimate"`
	Runs      []model.BudgetRun  `json:"runs"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show enrichment progress and estimated remaining cost",
	Long:  "Counts candidates per tier and exclusion reason, extracted contacts, the estimated cost of the rest and recent budget runs. Changes nothing.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		mail, err := mailstore.Open(ctx, cfg.Mail)
		if err != nil {
			return err
		}
		defer mail.Close() //nolint:errcheck

		cache, err := openCacheReadOnly()
		if err != nil {
			return err
		}
		if cache != nil {
			defer cache.Close() //nolint:errcheck
		}

		prio, err := initPrioritizer()
		if err != nil {
			return err
		}

		var (
			act       *mailstore.Activity
			extracted map[string]bool
			runs      []model.BudgetRun
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			act, err = mailstore.BuildActivity(gctx, mail, identity())
			return err
		})
		if cache != nil {
			g.Go(func() error {
				var err error
				extracted, err = cache.ExtractedEmails(gctx)
				return eris.Wrap(err, "status: extracted set")
			})
			g.Go(func() error {
				var err error
				runs, err = cache.ListBudgetRuns(gctx, 5)
				return eris.Wrap(err, "status: recent runs")
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		report := statusReport{
			Messages:  act.Messages,
			Contacts:  len(act.Contacts),
			Extracted: len(extracted),
			Runs:      runs,
			Summary: prio.Summarize(act.List(), prioritize.Options{
				Identity:  identity(),
				Extracted: extracted,
			}),
		}

		calc := cost.NewCalculator(cost.RatesFromConfig(cfg.Pricing))
		deps := pipeline.Deps{Calc: calc, Model: cfg.Anthropic.Model}
		if cache != nil {
			deps.Cache = cache
		}
		runner := pipeline.NewRunner(deps, cfg.Extract)
		if report.Estimate, err = runner.Estimate(ctx, report.Summary.Eligible()); err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		formatStatus(os.Stdout, report)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(statusCmd)
}

// openCacheReadOnly opens the extraction cache without touching it. A cache
// that does not exist yet is reported as nil.
func openCacheReadOnly() (*store.SQLiteStore, error) {
	cache, err := store.OpenReadOnly(cfg.Cache.Path)
	if eris.Is(err, store.ErrCacheMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "open cache")
	}
	return cache, nil
}

func formatStatus(out io.Writer, r statusReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Messages indexed:\t%d\n", r.Messages)
	_, _ = fmt.Fprintf(w, "Contacts:\t%d\n", r.Contacts)
	_, _ = fmt.Fprintf(w, "Extracted:\t%d\n", r.Extracted)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Tier 1 (target industry):\t%d\n", r.Summary.Tier1)
	_, _ = fmt.Fprintf(w, "Tier 2 (frequent):\t%d\n", r.Summary.Tier2)
	_, _ = fmt.Fprintf(w, "Tier 3 (replied):\t%d\n", r.Summary.Tier3)

	reasons := make([]string, 0, len(r.Summary.Excluded))
	for reason := range r.Summary.Excluded {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		_, _ = fmt.Fprintf(w, "Excluded (%s):\t%d\n", reason, r.Summary.Excluded[reason])
	}
	_, _ = fmt.Fprintln(w)

	basis := "configured token estimate"
	if r.Estimate.Historical {
		basis = "historical average"
	}
	_, _ = fmt.Fprintf(w, "Remaining:\t%d contacts\n", r.Estimate.Remaining)
	_, _ = fmt.Fprintf(w, "Estimated cost:\t$%.2f ($%.4f/contact, %s)\n", r.Estimate.TotalUSD, r.Estimate.PerContactUSD, basis)
	_ = w.Flush()

	if len(r.Runs) > 0 {
		_, _ = fmt.Fprintln(out)
		formatRunsList(out, r.Runs)
	}
}
