package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/relgraph/internal/graphsync"
	"github.com/sells-group/relgraph/internal/mailstore"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Write cached extractions to the graph",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("sync"); err != nil {
			return err
		}

		cache, err := initCache(ctx)
		if err != nil {
			return err
		}
		defer cache.Close() //nolint:errcheck

		g, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer g.Close() //nolint:errcheck

		stats, err := graphsync.New(g, cache, nil, identity()).SyncExtractions(ctx)
		if err != nil {
			return eris.Wrap(err, "sync")
		}
		zap.L().Info("sync complete",
			zap.Int("records", stats.Records),
			zap.Int("companies", stats.Companies),
			zap.Int("topics", stats.Topics),
		)
		return nil
	},
}

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Rebuild KNOWS and CC_TOGETHER edges from the mail index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("rescore"); err != nil {
			return err
		}

		sc, err := initScorer()
		if err != nil {
			return err
		}

		mail, err := mailstore.Open(ctx, cfg.Mail)
		if err != nil {
			return err
		}
		defer mail.Close() //nolint:errcheck

		g, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer g.Close() //nolint:errcheck

		act, err := mailstore.BuildActivity(ctx, mail, identity())
		if err != nil {
			return err
		}
		stats, err := graphsync.New(g, nil, sc, identity()).SyncRelationships(ctx, act)
		if err != nil {
			return eris.Wrap(err, "rescore")
		}

		fields := []zap.Field{
			zap.Int("contacts", stats.Contacts),
			zap.Int("knows", stats.Knows),
			zap.Int("cc_pairs", stats.CCPairs),
		}
		for band, n := range stats.Bands {
			fields = append(fields, zap.Int("band_"+string(band), n))
		}
		zap.L().Info("rescore complete", fields...)
		return nil
	},
}

var importConnectionsCmd = &cobra.Command{
	Use:   "import-connections",
	Short: "Import a LinkedIn connections export (.csv or .xlsx) into the graph",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("import"); err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		owner, _ := cmd.Flags().GetString("owner")

		g, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer g.Close() //nolint:errcheck

		stats, err := graphsync.New(g, nil, nil, identity()).ImportConnections(ctx, file, owner)
		if err != nil {
			return eris.Wrap(err, "import connections")
		}
		zap.L().Info("import complete",
			zap.String("file", file),
			zap.Int("total", stats.Total),
			zap.Int("synced", stats.Synced),
			zap.Int("skipped", stats.Skipped),
		)
		return nil
	},
}

func init() {
	importConnectionsCmd.Flags().String("file", "", "path to the export (required)")
	importConnectionsCmd.Flags().String("owner", "", "address the connections belong to (default: first identity.my_emails)")
	_ = importConnectionsCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(rescoreCmd)
	rootCmd.AddCommand(importConnectionsCmd)
}
