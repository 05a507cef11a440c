package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/relgraph/internal/intro"
)

var introCmd = &cobra.Command{
	Use:   "intro <email|name|company>",
	Short: "Find warm introduction paths to a person or company",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("intro"); err != nil {
			return err
		}
		top, _ := cmd.Flags().GetInt("top")

		g, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer g.Close() //nolint:errcheck

		res, err := intro.NewFinder(g, identity()).Find(ctx, strings.Join(args, " "), top)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		formatIntros(os.Stdout, res)
		return nil
	},
}

func init() {
	introCmd.Flags().Int("top", intro.DefaultTopK, "number of distinct connectors to return")
	introCmd.Flags().Bool("json", false, "print the result as JSON")
	rootCmd.AddCommand(introCmd)
}

func formatIntros(out io.Writer, res *intro.Result) {
	if len(res.Intros) == 0 {
		_, _ = fmt.Fprintf(out, "No path to %q.\n", res.Target.Raw)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tCONNECTOR\tTARGET\tHOPS\tSTRENGTH\tPATH")
	_, _ = fmt.Fprintln(w, "-\t---------\t------\t----\t--------\t----")
	for i, in := range res.Intros {
		target := in.Path.Target.Email
		if in.Path.Target.Name != "" {
			target = in.Path.Target.Name + " <" + target + ">"
		}
		connector := in.Connector
		if in.Direct {
			connector += " (direct)"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%.1f\t%s\n",
			i+1, connector, target, in.Hops, in.Strength, describePath(in))
	}
	_ = w.Flush()
}

func describePath(in intro.Intro) string {
	if len(in.Path.Hops) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(in.Path.Hops[0].From)
	for _, h := range in.Path.Hops {
		fmt.Fprintf(&sb, " -%s-> %s", h.Type, h.To)
	}
	return sb.String()
}
